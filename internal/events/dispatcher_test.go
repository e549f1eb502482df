package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingMetrics struct {
	mu       sync.Mutex
	failures int
	success  int
}

func (m *recordingMetrics) EventDelivered(_ string, _ string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.failures++
	} else {
		m.success++
	}
}

func TestDispatcherFansOut(t *testing.T) {
	d := NewDispatcher(zerolog.Nop(), 2, time.Second, nil)

	var mu sync.Mutex
	got := map[string][]Kind{}
	record := func(name string) Handler {
		return HandlerFunc(func(_ context.Context, ev Event) error {
			mu.Lock()
			defer mu.Unlock()
			got[name] = append(got[name], ev.Kind())
			return nil
		})
	}
	d.Subscribe("chat", record("chat"))
	d.Subscribe("announce", record("announce"))

	d.Emit(IncidentReported{ID: "1"})
	d.Emit(IncidentVerified{ID: "1"})
	d.Stop()

	assert.ElementsMatch(t, []Kind{KindIncidentReported, KindIncidentVerified}, got["chat"])
	assert.ElementsMatch(t, []Kind{KindIncidentReported, KindIncidentVerified}, got["announce"])
}

func TestDispatcherEmitDoesNotBlock(t *testing.T) {
	d := NewDispatcher(zerolog.Nop(), 1, 0, nil)
	release := make(chan struct{})
	d.Subscribe("slow", HandlerFunc(func(context.Context, Event) error {
		<-release
		return nil
	}))

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			d.Emit(IncidentReported{ID: "x"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked on a slow handler")
	}
	close(release)
	d.Stop()
}

func TestDispatcherIsolatesFailures(t *testing.T) {
	m := &recordingMetrics{}
	d := NewDispatcher(zerolog.Nop(), 2, time.Second, m)

	var delivered sync.WaitGroup
	delivered.Add(1)
	d.Subscribe("broken", HandlerFunc(func(context.Context, Event) error {
		return errors.New("sink unreachable")
	}))
	d.Subscribe("panics", HandlerFunc(func(context.Context, Event) error {
		panic("boom")
	}))
	d.Subscribe("ok", HandlerFunc(func(context.Context, Event) error {
		delivered.Done()
		return nil
	}))

	require.NotPanics(t, func() { d.Emit(IncidentReported{ID: "1"}) })
	delivered.Wait()
	d.Stop()

	assert.Equal(t, 2, m.failures)
	assert.Equal(t, 1, m.success)
}

func TestDispatcherHandlerTimeout(t *testing.T) {
	d := NewDispatcher(zerolog.Nop(), 1, 20*time.Millisecond, nil)
	errCh := make(chan error, 1)
	d.Subscribe("waits", HandlerFunc(func(ctx context.Context, _ Event) error {
		<-ctx.Done()
		errCh <- ctx.Err()
		return ctx.Err()
	}))
	d.Emit(IncidentReported{ID: "1"})
	d.Stop()
	assert.ErrorIs(t, <-errCh, context.DeadlineExceeded)
}

func TestDispatcherDropsAfterStop(t *testing.T) {
	d := NewDispatcher(zerolog.Nop(), 1, 0, nil)
	called := false
	d.Subscribe("h", HandlerFunc(func(context.Context, Event) error {
		called = true
		return nil
	}))
	d.Stop()
	d.Stop()
	require.NotPanics(t, func() { d.Emit(IncidentReported{ID: "1"}) })
	assert.False(t, called)
}
