package inventory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/storedemo/internal/events"
)

// scriptedRand returns ints from a queue (then falls back to fallback) and a
// fixed float.
type scriptedRand struct {
	ints     []int
	fallback int
	float    float64
}

func (r *scriptedRand) Intn(n int) int {
	v := r.fallback
	if len(r.ints) > 0 {
		v, r.ints = r.ints[0], r.ints[1:]
	}
	if v >= n {
		v = n - 1
	}
	return v
}

func (r *scriptedRand) Float64() float64 { return r.float }

type fakePublisher struct {
	mu   sync.Mutex
	qtys []int
	err  error
}

func (p *fakePublisher) Publish(_ context.Context, qty int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.qtys = append(p.qtys, qty)
	return p.err
}

type fakeMetrics struct {
	stock    int64
	sold     int
	setCalls int
}

func (m *fakeMetrics) SetStock(n int64) { m.stock = n; m.setCalls++ }
func (m *fakeMetrics) IncSold()         { m.sold++ }

type fixture struct {
	sim  *Simulator
	rnd  *scriptedRand
	sink *events.Recorder
	pub  *fakePublisher
	met  *fakeMetrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		rnd:  &scriptedRand{},
		sink: &events.Recorder{},
		pub:  &fakePublisher{},
		met:  &fakeMetrics{},
	}
	sim, err := New(Options{
		Rand:      f.rnd,
		Sink:      f.sink,
		Publisher: f.pub,
		Metrics:   f.met,
		Sleep:     func(ctx context.Context, d time.Duration) error { return ctx.Err() },
	})
	require.NoError(t, err)
	f.sim = sim
	return f
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Options{Publisher: &fakePublisher{}})
	require.Error(t, err)
	_, err = New(Options{Sink: &events.Recorder{}})
	require.Error(t, err)
}

func TestSell_DecrementsWhenStocked(t *testing.T) {
	ctx := context.Background()
	for _, start := range []int64{1, 2, 7, 50} {
		f := newFixture(t)
		f.sim.stock.Store(start)

		require.NoError(t, f.sim.Sell(ctx))

		assert.Equal(t, start-1, f.sim.Stock())
		assert.Equal(t, int64(1), f.sim.Sold())
		assert.Equal(t, start-1, f.met.stock)
		assert.Equal(t, 1, f.met.sold)
		assert.Zero(t, f.sink.Count(events.LevelFatal))
		assert.Empty(t, f.pub.qtys)
	}
}

func TestSell_AtZeroRestocksInstead(t *testing.T) {
	f := newFixture(t)
	f.rnd.ints = []int{7} // restock 5+7

	require.NoError(t, f.sim.Sell(context.Background()))

	assert.Equal(t, int64(12), f.sim.Stock())
	assert.Equal(t, int64(0), f.sim.Sold())
	assert.Equal(t, 1, f.sink.Count(events.LevelFatal))
	assert.Equal(t, "Lost sale. No items left.", f.sink.Events()[0].Message)
	assert.Equal(t, []int{12}, f.pub.qtys)
	assert.Zero(t, f.met.sold)
}

func TestBuy_AmountWithinRange(t *testing.T) {
	ctx := context.Background()

	f := newFixture(t)
	f.rnd.ints = []int{0, 15}
	require.NoError(t, f.sim.Buy(ctx))
	require.NoError(t, f.sim.Buy(ctx))
	assert.Equal(t, []int{5, 20}, f.pub.qtys)
	assert.Equal(t, int64(25), f.sim.Stock())
	// gauge only moves on sales
	assert.Zero(t, f.met.setCalls)

	sim, err := New(Options{Rand: NewRand(1), Sink: &events.Recorder{}, Publisher: &fakePublisher{}})
	require.NoError(t, err)
	for i := 0; i < 500; i++ {
		before := sim.Stock()
		require.NoError(t, sim.Buy(ctx))
		delta := sim.Stock() - before
		require.GreaterOrEqual(t, delta, int64(5))
		require.LessOrEqual(t, delta, int64(20))
	}
}

func TestBuy_PublishErrorIsReturned(t *testing.T) {
	f := newFixture(t)
	f.pub.err = errors.New("exec: not found")
	require.Error(t, f.sim.Buy(context.Background()))
}

func TestCheckInventory_Tiers(t *testing.T) {
	cases := []struct {
		stock int64
		level events.Level
		msg   string
	}{
		{stock: 11},
		{stock: 100},
		{stock: 10, level: events.LevelInfo, msg: "Inventory will be low soon"},
		{stock: 6, level: events.LevelInfo, msg: "Inventory will be low soon"},
		{stock: 5, level: events.LevelWarn, msg: "Inventory is low"},
		{stock: 1, level: events.LevelWarn, msg: "Inventory is low"},
	}
	for _, tc := range cases {
		f := newFixture(t)
		f.sim.stock.Store(tc.stock)

		require.NoError(t, f.sim.CheckInventory(context.Background()))

		got := f.sink.Events()
		if tc.level == "" {
			assert.Empty(t, got, "stock=%d", tc.stock)
		} else {
			require.Len(t, got, 1, "stock=%d", tc.stock)
			assert.Equal(t, tc.level, got[0].Level)
			assert.Equal(t, tc.msg, got[0].Message)
		}
		assert.Equal(t, tc.stock, f.sim.Stock())
		assert.Empty(t, f.pub.qtys)
	}
}

func TestCheckInventory_LowStockWarnsOnce(t *testing.T) {
	f := newFixture(t)
	f.sim.stock.Store(3)
	require.NoError(t, f.sim.CheckInventory(context.Background()))

	assert.Len(t, f.sink.Events(), 1)
	assert.Equal(t, 1, f.sink.Count(events.LevelWarn))
	assert.Equal(t, int64(3), f.sim.Stock())
}

func TestCheckInventory_OutOfStock(t *testing.T) {
	t.Run("restocks", func(t *testing.T) {
		f := newFixture(t)
		f.rnd.ints = []int{70, 3} // randint(1,100)=71, restock 8
		require.NoError(t, f.sim.CheckInventory(context.Background()))

		assert.Equal(t, 1, f.sink.Count(events.LevelError))
		assert.Zero(t, f.sink.Count(events.LevelCritical))
		assert.Equal(t, int64(8), f.sim.Stock())
		assert.Equal(t, []int{8}, f.pub.qtys)
	})
	t.Run("fails to restock", func(t *testing.T) {
		f := newFixture(t)
		f.rnd.ints = []int{69} // randint(1,100)=70
		require.NoError(t, f.sim.CheckInventory(context.Background()))

		got := f.sink.Events()
		require.Len(t, got, 2)
		assert.Equal(t, events.LevelError, got[0].Level)
		assert.Equal(t, "Out of stock", got[0].Message)
		assert.Equal(t, events.LevelCritical, got[1].Level)
		assert.Equal(t, "Failed to buy more inventory when needed", got[1].Message)
		assert.Zero(t, f.sim.Stock())
	})
}

func TestScenario_BuyThenSellOut(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.rnd.ints = []int{9}

	require.NoError(t, f.sim.Buy(ctx))
	stock := f.sim.Stock()
	require.GreaterOrEqual(t, stock, int64(5))
	require.LessOrEqual(t, stock, int64(20))

	for i := int64(1); f.sim.Stock() > 0; i++ {
		before := f.sim.Stock()
		require.NoError(t, f.sim.Sell(ctx))
		require.Equal(t, before-1, f.sim.Stock())
		require.Equal(t, i, f.sim.Sold())
		require.Zero(t, f.sink.Count(events.LevelFatal))
	}
	assert.Equal(t, stock, f.sim.Sold())
}

func TestRun_StopsOnCancel(t *testing.T) {
	sink := &events.Recorder{}
	pub := &fakePublisher{}
	ctx, cancel := context.WithCancel(context.Background())

	iterations := 0
	sim, err := New(Options{
		Rand:      NewRand(7),
		Sink:      sink,
		Publisher: pub,
		Sleep: func(ctx context.Context, d time.Duration) error {
			if d < minSleep || d > maxSleep {
				t.Errorf("sleep %s out of range", d)
			}
			iterations++
			if iterations == 50 {
				cancel()
			}
			return ctx.Err()
		},
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- sim.Run(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	assert.Equal(t, 50, iterations)
	assert.GreaterOrEqual(t, sim.Stock(), int64(0))
	assert.NotEmpty(t, pub.qtys, "initial restock")
}

func TestRun_ReturnsLoopError(t *testing.T) {
	f := newFixture(t)
	f.pub.err = errors.New("producer missing")

	err := f.sim.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "producer missing")
}

type panickySink struct{}

func (panickySink) Send(context.Context, events.Level, string) error { panic("sink exploded") }

func TestRun_RecoversPanic(t *testing.T) {
	sim, err := New(Options{
		Rand:      &scriptedRand{fallback: 0},
		Sink:      panickySink{},
		Publisher: &fakePublisher{},
		Sleep:     func(context.Context, time.Duration) error { return nil },
	})
	require.NoError(t, err)

	err = sim.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sink exploded")
}

func TestSleep_Interruptible(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	require.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
	assert.Less(t, time.Since(start), time.Second)

	require.NoError(t, Sleep(context.Background(), time.Millisecond))
}
