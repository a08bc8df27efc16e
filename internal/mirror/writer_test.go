package mirror

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/moodflow/backend/internal/mood"
)

type recordingMirror struct {
	mu  sync.Mutex
	ops []string
	err error
	*Memory
}

func (r *recordingMirror) Save(ctx context.Context, key string, rec mood.Record) error {
	r.mu.Lock()
	r.ops = append(r.ops, "save:"+key+":"+string(rec.Mood))
	r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	return r.Memory.Save(ctx, key, rec)
}

func (r *recordingMirror) Delete(ctx context.Context, key string) error {
	r.mu.Lock()
	r.ops = append(r.ops, "delete:"+key)
	r.mu.Unlock()
	return r.Memory.Delete(ctx, key)
}

func (r *recordingMirror) history() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ops...)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWriterPreservesPerKeyOrder(t *testing.T) {
	m := &recordingMirror{Memory: NewMemory()}
	w := NewWriter(m, WriterConfig{Workers: 4, QueueSize: 1}, quietLogger())
	ctx := context.Background()

	expires := time.Now().Add(time.Hour)
	require.NoError(t, w.Save(ctx, "a", mood.Record{Mood: mood.Good, ExpiresAt: expires}))
	require.NoError(t, w.Save(ctx, "a", mood.Record{Mood: mood.Bad, ExpiresAt: expires}))
	require.NoError(t, w.Save(ctx, "a", mood.Record{}))
	require.NoError(t, w.Save(ctx, "b", mood.Record{Mood: mood.Neutral, ExpiresAt: expires}))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, w.Shutdown(shutdownCtx))

	var forA []string
	for _, op := range m.history() {
		if op == "delete:a" || strings.HasPrefix(op, "save:a:") {
			forA = append(forA, op)
		}
	}
	require.Equal(t, []string{"save:a:good", "save:a:bad", "delete:a"}, forA)
	require.False(t, m.Has("a"))
	require.True(t, m.Has("b"))
}

func TestWriterRejectsAfterShutdown(t *testing.T) {
	w := NewWriter(NewMemory(), WriterConfig{}, quietLogger())
	require.NoError(t, w.Shutdown(context.Background()))
	require.NoError(t, w.Shutdown(context.Background()))

	err := w.Save(context.Background(), "a", mood.Record{Mood: mood.Good})
	require.ErrorIs(t, err, errWriterClosed)
	require.Error(t, w.Delete(context.Background(), ""))
}

func TestWriterSurvivesMirrorErrors(t *testing.T) {
	m := &recordingMirror{Memory: NewMemory(), err: errors.New("boom")}
	w := NewWriter(m, WriterConfig{}, quietLogger())

	require.NoError(t, w.Save(context.Background(), "a", mood.Record{Mood: mood.Good}))
	require.NoError(t, w.Save(context.Background(), "b", mood.Record{Mood: mood.Bad}))
	require.NoError(t, w.Shutdown(context.Background()))

	require.Len(t, m.history(), 2)
	require.False(t, m.Has("a"))
}

type gatedMirror struct {
	*Memory
	started chan struct{}
	release chan struct{}
}

func (g *gatedMirror) Save(ctx context.Context, key string, rec mood.Record) error {
	g.started <- struct{}{}
	<-g.release
	return g.Memory.Save(ctx, key, rec)
}

func TestWriterTrySaveDropsWhenQueueFull(t *testing.T) {
	m := &gatedMirror{Memory: NewMemory(), started: make(chan struct{}, 1), release: make(chan struct{})}
	w := NewWriter(m, WriterConfig{Workers: 1, QueueSize: 1}, quietLogger())

	expires := time.Now().Add(time.Hour)
	require.NoError(t, w.TrySave("a", mood.Record{Mood: mood.Good, ExpiresAt: expires}))
	<-m.started
	require.NoError(t, w.TrySave("a", mood.Record{Mood: mood.Bad, ExpiresAt: expires}))

	done := make(chan error, 1)
	go func() { done <- w.TrySave("a", mood.Record{Mood: mood.Neutral, ExpiresAt: expires}) }()
	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrQueueFull)
	case <-time.After(time.Second):
		t.Fatal("TrySave blocked on a full queue")
	}

	close(m.release)
	require.NoError(t, w.Shutdown(context.Background()))

	rec, err := m.Memory.Load(context.Background(), "a")
	require.NoError(t, err)
	require.Equal(t, mood.Bad, rec.Mood)
}

func TestMemoryMirror(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, err := m.Load(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	rec := mood.Record{Mood: mood.Good, ExpiresAt: time.Unix(100, 0)}
	require.NoError(t, m.Save(ctx, "k", rec))
	got, err := m.Load(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, rec, got)

	require.NoError(t, m.Delete(ctx, "k"))
	require.False(t, m.Has("k"))
}
