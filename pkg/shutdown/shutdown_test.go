package shutdown

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShutdown_RunsInOrderAndContinuesOnFailure(t *testing.T) {
	m := NewManager()
	var order []string

	m.OnShutdown("a", func(ctx context.Context) error {
		order = append(order, "a")
		return errors.New("boom")
	})
	m.OnShutdown("b", func(ctx context.Context) error {
		order = append(order, "b")
		panic("bad step")
	})
	m.OnShutdown("c", func(ctx context.Context) error {
		order = append(order, "c")
		return nil
	})
	m.OnShutdown("nil", nil)

	failed := m.Shutdown(context.Background())

	assert.Equal(t, 2, failed)
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestShutdown_CanceledContextSkipsSteps(t *testing.T) {
	m := NewManager()
	ran := false
	m.OnShutdown("never", func(ctx context.Context) error {
		ran = true
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Equal(t, 1, m.Shutdown(ctx))
	assert.False(t, ran)
}

func TestShutdown_Empty(t *testing.T) {
	assert.Equal(t, 0, NewManager().Shutdown(context.Background()))
}
