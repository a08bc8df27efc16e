package timer

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

type guardedSlot struct {
	mu    sync.Mutex
	slot  *Slot
	fired atomic.Int32
}

func (g *guardedSlot) arm(d time.Duration) Token {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.slot.Arm(d, func(tok Token) {
		g.mu.Lock()
		defer g.mu.Unlock()
		if g.slot.Fire(tok) {
			g.fired.Add(1)
		}
	})
}

func (g *guardedSlot) pending() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.slot.Pending()
}

func TestSlotFiresOnce(t *testing.T) {
	clock := clockwork.NewFakeClock()
	g := &guardedSlot{slot: NewSlot(clock)}

	g.arm(time.Second)
	require.True(t, g.pending())

	clock.Advance(999 * time.Millisecond)
	require.Equal(t, int32(0), g.fired.Load())

	clock.Advance(time.Millisecond)
	require.Eventually(t, func() bool { return g.fired.Load() == 1 }, time.Second, time.Millisecond)
	require.False(t, g.pending())

	clock.Advance(time.Hour)
	require.Never(t, func() bool { return g.fired.Load() > 1 }, 20*time.Millisecond, time.Millisecond)
}

func TestSlotRearmSupersedes(t *testing.T) {
	clock := clockwork.NewFakeClock()
	g := &guardedSlot{slot: NewSlot(clock)}

	first := g.arm(time.Second)
	second := g.arm(2 * time.Second)
	require.NotEqual(t, first, second)

	clock.Advance(time.Second)
	require.Never(t, func() bool { return g.fired.Load() > 0 }, 20*time.Millisecond, time.Millisecond)

	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return g.fired.Load() == 1 }, time.Second, time.Millisecond)
}

func TestSlotCancel(t *testing.T) {
	clock := clockwork.NewFakeClock()
	g := &guardedSlot{slot: NewSlot(clock)}

	g.arm(time.Second)
	g.mu.Lock()
	require.True(t, g.slot.Cancel())
	require.False(t, g.slot.Cancel())
	g.mu.Unlock()

	clock.Advance(time.Minute)
	require.Never(t, func() bool { return g.fired.Load() > 0 }, 20*time.Millisecond, time.Millisecond)
}

func TestSlotFireRejectsStaleTokens(t *testing.T) {
	s := NewSlot(clockwork.NewFakeClock())
	require.False(t, s.Fire(0))

	tok := s.Arm(time.Second, func(Token) {})
	s.Cancel()
	require.False(t, s.Fire(tok))

	tok = s.Arm(time.Second, func(Token) {})
	require.True(t, s.Fire(tok))
	require.False(t, s.Fire(tok))
}
