package flow

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/moodflow/backend/internal/mood"
)

// countingClock records how many callbacks were scheduled.
type countingClock struct {
	clockwork.Clock
	armed atomic.Int32
}

func (c *countingClock) AfterFunc(d time.Duration, f func()) clockwork.Timer {
	c.armed.Add(1)
	return c.Clock.AfterFunc(d, f)
}

type recorder struct {
	mu  sync.Mutex
	log []Transition
}

func (r *recorder) observe(t Transition) {
	r.mu.Lock()
	r.log = append(r.log, t)
	r.mu.Unlock()
}

func (r *recorder) transitions() []Transition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Transition(nil), r.log...)
}

func newTestFlow(t *testing.T) (*Flow, *mood.Store, *clockwork.FakeClock, *countingClock) {
	t.Helper()
	fake := clockwork.NewFakeClock()
	clock := &countingClock{Clock: fake}
	store := mood.NewStore(fake)
	f := New(store, Options{Clock: clock})
	t.Cleanup(f.Close)
	return f, store, fake, clock
}

func waitForState(t *testing.T, f *Flow, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return f.State() == want }, time.Second, time.Millisecond)
}

func TestFlowRevealsIngredientsAfterDelay(t *testing.T) {
	f, store, fake, _ := newTestFlow(t)

	f.Select(mood.Good)
	require.Equal(t, MoodSelected, f.State())
	require.Equal(t, mood.Good, store.Mood())

	f.TypingComplete()
	require.Equal(t, WaitingTransition, f.State())
	require.False(t, f.ShowIngredientsSearch())

	fake.Advance(2299 * time.Millisecond)
	require.Equal(t, WaitingTransition, f.State())
	require.False(t, f.ShowIngredientsSearch())

	fake.Advance(time.Millisecond)
	waitForState(t, f, ShowingIngredients)
	require.True(t, f.ShowIngredientsSearch())
	require.False(t, f.Pending())
}

func TestFlowSameMoodTwiceDeselects(t *testing.T) {
	for _, v := range []mood.Value{mood.Bad, mood.Neutral, mood.Good} {
		f, store, _, _ := newTestFlow(t)

		f.Select(v)
		f.Select(v)
		require.Equal(t, Idle, f.State(), "mood %s", v)
		require.Equal(t, mood.Unset, store.Mood(), "mood %s", v)
	}
}

func TestFlowSameMoodDeselectsFromAnyState(t *testing.T) {
	f, store, fake, _ := newTestFlow(t)

	f.Select(mood.Bad)
	f.TypingComplete()
	f.Select(mood.Bad)
	require.Equal(t, Idle, f.State())
	require.Equal(t, mood.Unset, store.Mood())
	require.False(t, f.Pending())

	fake.Advance(time.Minute)
	require.Never(t, func() bool { return f.State() != Idle }, 20*time.Millisecond, time.Millisecond)
}

func TestFlowPlaceholderFromIdleIsNoop(t *testing.T) {
	f, store, _, _ := newTestFlow(t)
	rec := &recorder{}
	f.OnTransition(rec.observe)

	f.Select(mood.Placeholder)
	require.Equal(t, Idle, f.State())
	require.Equal(t, mood.Unset, store.Mood())
	require.Empty(t, rec.transitions())
}

func TestFlowPlaceholderClearsMood(t *testing.T) {
	f, store, _, _ := newTestFlow(t)

	f.Select(mood.Neutral)
	f.Select(mood.Placeholder)
	require.Equal(t, Idle, f.State())
	require.Equal(t, mood.Unset, store.Mood())

	f.Select(mood.Good)
	f.Back()
	require.Equal(t, mood.Good, store.Mood())
	f.Select(mood.Placeholder)
	require.Equal(t, mood.Unset, store.Mood())
}

func TestFlowIgnoresInvalidValues(t *testing.T) {
	f, store, _, _ := newTestFlow(t)

	f.Select(mood.Unset)
	f.Select(mood.Value("ecstatic"))
	require.Equal(t, Idle, f.State())
	require.Equal(t, mood.Unset, store.Mood())
}

func TestFlowTypingCompleteArmsSingleTimer(t *testing.T) {
	f, _, fake, clock := newTestFlow(t)

	f.TypingComplete()
	require.Equal(t, Idle, f.State())
	require.Equal(t, int32(0), clock.armed.Load())

	f.Select(mood.Good)
	f.TypingComplete()
	f.TypingComplete()
	f.TypingComplete()
	require.Equal(t, WaitingTransition, f.State())
	require.Equal(t, int32(1), clock.armed.Load())

	fake.Advance(DefaultTransitionDelay)
	waitForState(t, f, ShowingIngredients)

	f.TypingComplete()
	require.Equal(t, int32(1), clock.armed.Load())
	require.Equal(t, ShowingIngredients, f.State())
}

func TestFlowBackFromEveryState(t *testing.T) {
	setups := map[State]func(f *Flow, fake *clockwork.FakeClock){
		Idle: func(*Flow, *clockwork.FakeClock) {},
		MoodSelected: func(f *Flow, _ *clockwork.FakeClock) {
			f.Select(mood.Good)
		},
		WaitingTransition: func(f *Flow, _ *clockwork.FakeClock) {
			f.Select(mood.Good)
			f.TypingComplete()
		},
		ShowingIngredients: func(f *Flow, fake *clockwork.FakeClock) {
			f.Select(mood.Good)
			f.TypingComplete()
			fake.Advance(DefaultTransitionDelay)
		},
	}

	for origin, setup := range setups {
		t.Run(string(origin), func(t *testing.T) {
			f, store, fake, _ := newTestFlow(t)
			setup(f, fake)
			waitForState(t, f, origin)
			before := store.Mood()

			f.Back()
			require.Equal(t, Idle, f.State())
			require.False(t, f.Pending())
			require.Equal(t, before, store.Mood())

			fake.Advance(time.Minute)
			require.Never(t, func() bool { return f.State() != Idle }, 20*time.Millisecond, time.Millisecond)
		})
	}
}

func TestFlowSelectOtherMoodRestartsThroughIdle(t *testing.T) {
	f, store, fake, _ := newTestFlow(t)
	rec := &recorder{}
	f.OnTransition(rec.observe)

	f.Select(mood.Bad)
	f.TypingComplete()
	f.Select(mood.Good)

	require.Equal(t, MoodSelected, f.State())
	require.Equal(t, mood.Good, store.Mood())
	require.False(t, f.Pending())

	fake.Advance(time.Minute)
	require.Never(t, func() bool { return f.State() != MoodSelected }, 20*time.Millisecond, time.Millisecond)

	for _, tr := range rec.transitions() {
		if tr.To == MoodSelected {
			require.Equal(t, Idle, tr.From)
		}
		if tr.To == ShowingIngredients {
			require.Equal(t, WaitingTransition, tr.From)
		}
	}
	require.Equal(t, []Transition{
		{From: Idle, To: MoodSelected, Mood: mood.Bad},
		{From: MoodSelected, To: WaitingTransition, Mood: mood.Bad},
		{From: WaitingTransition, To: Idle, Mood: mood.Bad},
		{From: Idle, To: MoodSelected, Mood: mood.Good},
	}, rec.transitions())
}

func TestFlowBackKeepsMoodSoReselectDeselects(t *testing.T) {
	f, store, _, _ := newTestFlow(t)

	f.Select(mood.Neutral)
	f.Back()
	require.Equal(t, mood.Neutral, store.Mood())

	f.Select(mood.Neutral)
	require.Equal(t, Idle, f.State())
	require.Equal(t, mood.Unset, store.Mood())
}

func TestFlowCloseCancelsReveal(t *testing.T) {
	defer goleak.VerifyNone(t)

	fake := clockwork.NewFakeClock()
	store := mood.NewStore(fake)
	f := New(store, Options{Clock: fake})
	rec := &recorder{}
	f.OnTransition(rec.observe)

	f.Select(mood.Good)
	f.TypingComplete()
	f.Close()
	require.False(t, f.Pending())

	fake.Advance(time.Minute)
	f.Select(mood.Bad)
	f.Back()
	f.Reset()

	require.Equal(t, WaitingTransition, f.State())
	require.Equal(t, mood.Good, store.Mood())
	require.Len(t, rec.transitions(), 2)
}

func TestFlowReset(t *testing.T) {
	f, store, _, _ := newTestFlow(t)

	f.Select(mood.Bad)
	f.TypingComplete()
	f.Reset()

	require.Equal(t, Idle, f.State())
	require.Equal(t, mood.Unset, store.Mood())
	require.False(t, f.Pending())
}
