package application

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcherDeliversInOrder(t *testing.T) {
	d := NewDispatcher(testLogger())
	log := newEventLog(AllEvents)
	d.SetObserver(log)

	for i := 0; i < 100; i++ {
		d.Emit(Event{Kind: EventZoomChanged, Value: float64(i)})
	}
	d.Close()

	events := log.all()
	require.Len(t, events, 100)
	for i, ev := range events {
		assert.Equal(t, float64(i), ev.Value)
	}
}

func TestDispatcherMaskFiltersOptionalEvents(t *testing.T) {
	d := NewDispatcher(testLogger())
	log := newEventLog(EventZoomChanged)
	d.SetObserver(log)

	d.Emit(Event{Kind: EventFocusChanged})
	d.Emit(Event{Kind: EventZoomChanged})
	d.Emit(Event{Kind: EventStarted})
	d.Emit(Event{Kind: EventRecordResult})
	d.Close()

	var kinds []EventKind
	for _, ev := range log.all() {
		kinds = append(kinds, ev.Kind)
	}
	// обязательные события доставляются даже без подписки в маске
	assert.Equal(t, []EventKind{EventZoomChanged, EventStarted, EventRecordResult}, kinds)
}

func TestDispatcherWithoutObserverDropsEvents(t *testing.T) {
	d := NewDispatcher(testLogger())
	d.Emit(Event{Kind: EventStarted})

	log := newEventLog(AllEvents)
	d.SetObserver(log)
	d.Emit(Event{Kind: EventStopped})
	d.Close()

	events := log.all()
	require.Len(t, events, 1)
	assert.Equal(t, EventStopped, events[0].Kind)
}

func TestDispatcherRecoversFromObserverPanic(t *testing.T) {
	d := NewDispatcher(testLogger())
	delivered := make(chan EventKind, 2)
	d.SetObserver(ObserverFunc{Mask: AllEvents, Fn: func(ev Event) {
		delivered <- ev.Kind
		if ev.Kind == EventStarted {
			panic("observer failure")
		}
	}})

	d.Emit(Event{Kind: EventStarted})
	d.Emit(Event{Kind: EventStopped})

	for _, want := range []EventKind{EventStarted, EventStopped} {
		select {
		case got := <-delivered:
			assert.Equal(t, want, got)
		case <-time.After(time.Second):
			t.Fatalf("событие %s не доставлено", want)
		}
	}
	d.Close()
}

func TestDispatcherWants(t *testing.T) {
	d := NewDispatcher(testLogger())
	defer d.Close()

	assert.False(t, d.Wants(EventStarted))
	d.SetObserver(newEventLog(EventZoomChanged))
	assert.True(t, d.Wants(EventZoomChanged))
	assert.True(t, d.Wants(EventPhoto))
	assert.False(t, d.Wants(EventFocusChanged))

	d.SetObserver(nil)
	assert.False(t, d.Wants(EventPhoto))
}
