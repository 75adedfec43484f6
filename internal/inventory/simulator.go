// Package inventory simulates a single-product store selling and restocking
// widgets at random.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/storedemo/internal/events"
)

const (
	sellThreshold    = 40 // sell when randint(1,100) > 40
	restockThreshold = 70 // restock on empty when randint(1,100) > 70

	minRestock = 5
	maxRestock = 20

	minSleep = 100 * time.Millisecond
	maxSleep = 3 * time.Second

	lowSoonLevel = 10
	lowLevel     = 5
)

// Rand is the subset of *rand.Rand the simulator draws from.
type Rand interface {
	Intn(n int) int
	Float64() float64
}

type EventSink interface {
	Send(ctx context.Context, level events.Level, msg string) error
}

type Publisher interface {
	Publish(ctx context.Context, qty int) error
}

// Metrics receives stock and sale updates.
type Metrics interface {
	SetStock(n int64)
	IncSold()
}

type SleepFunc func(ctx context.Context, d time.Duration) error

type Options struct {
	Rand      Rand
	Sink      EventSink
	Publisher Publisher
	Metrics   Metrics
	Sleep     SleepFunc
	Product   string
}

// Simulator owns the stock counter. Only Sell and Buy mutate it; the
// accessors are safe to call from other goroutines.
type Simulator struct {
	stock atomic.Int64
	sold  atomic.Int64

	rnd     Rand
	sink    EventSink
	pub     Publisher
	metrics Metrics
	sleep   SleepFunc
	product string
	log     *logrus.Entry
}

func New(opts Options) (*Simulator, error) {
	if opts.Sink == nil {
		return nil, errors.New("event sink is required")
	}
	if opts.Publisher == nil {
		return nil, errors.New("publisher is required")
	}
	if opts.Rand == nil {
		opts.Rand = NewRand(0)
	}
	if opts.Metrics == nil {
		opts.Metrics = nopMetrics{}
	}
	if opts.Sleep == nil {
		opts.Sleep = Sleep
	}
	if opts.Product == "" {
		opts.Product = "widget"
	}
	return &Simulator{
		rnd:     opts.Rand,
		sink:    opts.Sink,
		pub:     opts.Publisher,
		metrics: opts.Metrics,
		sleep:   opts.Sleep,
		product: opts.Product,
		log:     logrus.WithField("component", "inventory"),
	}, nil
}

// NewRand seeds from seed, or from the clock when seed is 0.
func NewRand(seed int64) *rand.Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Simulator) Stock() int64 { return s.stock.Load() }
func (s *Simulator) Sold() int64  { return s.sold.Load() }

// Sell sells one unit. With nothing in stock the sale is lost and a
// restock is triggered instead.
func (s *Simulator) Sell(ctx context.Context) error {
	if s.stock.Load() == 0 {
		if err := s.sink.Send(ctx, events.LevelFatal, "Lost sale. No items left."); err != nil {
			return err
		}
		return s.Buy(ctx)
	}
	left := s.stock.Add(-1)
	s.sold.Add(1)
	s.metrics.IncSold()
	s.metrics.SetStock(left)
	s.log.Infof("Sold %s. Number of %ss left =%d", s.product, s.product, left)
	return nil
}

// Buy restocks a random quantity in [5,20] and publishes it.
// The gauge is left alone; it only moves on sales.
func (s *Simulator) Buy(ctx context.Context) error {
	n := s.randint(minRestock, maxRestock)
	left := s.stock.Add(int64(n))
	if err := s.pub.Publish(ctx, n); err != nil {
		return fmt.Errorf("publish restock: %w", err)
	}
	s.log.Infof("Bought more %ss for inventory. Number of %ss left =%d", s.product, s.product, left)
	return nil
}

// CheckInventory emits an event for the stock tier and, when out of
// stock, restocks with 30% probability.
func (s *Simulator) CheckInventory(ctx context.Context) error {
	n := s.stock.Load()
	switch {
	case n > lowSoonLevel:
		return nil
	case n > lowLevel:
		return s.sink.Send(ctx, events.LevelInfo, "Inventory will be low soon")
	case n > 0:
		return s.sink.Send(ctx, events.LevelWarn, "Inventory is low")
	}

	if err := s.sink.Send(ctx, events.LevelError, "Out of stock"); err != nil {
		return err
	}
	if s.randint(1, 100) > restockThreshold {
		return s.Buy(ctx)
	}
	return s.sink.Send(ctx, events.LevelCritical, "Failed to buy more inventory when needed")
}

// Run buys the initial stock and then loops until ctx is canceled or a
// step fails. A canceled ctx returns nil; a panic is returned as an error.
func (s *Simulator) Run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("simulation panic: %v", r)
		}
	}()

	if err := s.Buy(ctx); err != nil {
		return err
	}
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := s.sleep(ctx, s.randomSleep()); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if s.randint(1, 100) > sellThreshold {
			if err := s.Sell(ctx); err != nil {
				return err
			}
		}
		if err := s.CheckInventory(ctx); err != nil {
			return err
		}
	}
}

// randint returns a uniform integer in [lo, hi].
func (s *Simulator) randint(lo, hi int) int {
	return lo + s.rnd.Intn(hi-lo+1)
}

func (s *Simulator) randomSleep() time.Duration {
	return minSleep + time.Duration(s.rnd.Float64()*float64(maxSleep-minSleep))
}

type nopMetrics struct{}

func (nopMetrics) SetStock(int64) {}
func (nopMetrics) IncSold()       {}
