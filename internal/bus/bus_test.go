package bus

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPublish_NoSubscribers_StillRecorded(t *testing.T) {
	b := New(nil)

	e := NewEvent(EventWorkflowStarted, "test", "run-1", nil)
	b.Publish(e)

	history := b.GetHistory("", 1)
	if len(history) != 1 {
		t.Fatalf("expected 1 event in history, got %d", len(history))
	}
	if history[0].ID != e.ID {
		t.Error("history should contain the published event")
	}
}

func TestPublish_SyncHandlersInRegistrationOrder(t *testing.T) {
	b := New(nil)

	var order []int
	for i := 1; i <= 3; i++ {
		i := i
		b.Subscribe(EventStepStarted, func(e *Event) error {
			order = append(order, i)
			return nil
		})
	}

	b.Publish(NewEvent(EventStepStarted, "test", "run-1", nil))

	// Синхронные обработчики завершаются до возврата Publish
	if len(order) != 3 {
		t.Fatalf("expected 3 handler calls, got %d", len(order))
	}
	for i, got := range order {
		if got != i+1 {
			t.Errorf("handler %d called out of order: got %d", i+1, got)
		}
	}
}

func TestPublish_TypeIsolation(t *testing.T) {
	b := New(nil)

	var stepCalls, workflowCalls int
	b.Subscribe(EventStepStarted, func(e *Event) error {
		stepCalls++
		return nil
	})
	b.Subscribe(EventWorkflowStarted, func(e *Event) error {
		workflowCalls++
		return nil
	})

	b.Publish(NewEvent(EventStepStarted, "test", "run-1", nil))

	if stepCalls != 1 {
		t.Errorf("expected 1 step call, got %d", stepCalls)
	}
	if workflowCalls != 0 {
		t.Errorf("expected 0 workflow calls, got %d", workflowCalls)
	}
}

func TestPublish_HandlerErrorIsolated(t *testing.T) {
	b := New(nil)

	var secondCalled bool
	var errorEvents []*Event

	b.Subscribe(EventStepCompleted, func(e *Event) error {
		return errors.New("boom")
	})
	b.Subscribe(EventStepCompleted, func(e *Event) error {
		secondCalled = true
		return nil
	})
	b.Subscribe(EventErrorOccurred, func(e *Event) error {
		errorEvents = append(errorEvents, e)
		return nil
	})

	b.Publish(NewEvent(EventStepCompleted, "test", "run-1", nil))

	// Сбой первого обработчика не мешает второму
	if !secondCalled {
		t.Error("second handler should still be called")
	}

	if len(errorEvents) != 1 {
		t.Fatalf("expected 1 error.occurred event, got %d", len(errorEvents))
	}
	if errorEvents[0].Payload["error"] != "boom" {
		t.Errorf("unexpected error payload: %v", errorEvents[0].Payload["error"])
	}
	if errorEvents[0].CorrelationID != "run-1" {
		t.Error("secondary event should keep the correlation id")
	}
}

func TestPublish_HandlerPanicIsolated(t *testing.T) {
	b := New(nil)

	var errorCount int
	b.Subscribe(EventStepStarted, func(e *Event) error {
		panic("handler exploded")
	})
	b.Subscribe(EventErrorOccurred, func(e *Event) error {
		errorCount++
		return nil
	})

	b.Publish(NewEvent(EventStepStarted, "test", "run-1", nil))

	if errorCount != 1 {
		t.Errorf("expected 1 error.occurred event, got %d", errorCount)
	}
}

func TestPublish_ErrorHandlerFailureDoesNotRecurse(t *testing.T) {
	b := New(nil)

	var calls int32
	b.Subscribe(EventErrorOccurred, func(e *Event) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("error handler itself fails")
	})

	// Прямая публикация error.occurred: сбой обработчика не должен
	// породить бесконечную цепочку вторичных событий
	b.Publish(NewEvent(EventErrorOccurred, "test", "run-1", nil))

	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("expected exactly 1 call, got %d", calls)
	}
}

func TestPublish_AsyncHandler(t *testing.T) {
	b := New(nil)

	done := make(chan struct{})
	b.SubscribeAsync(EventWorkflowCompleted, func(e *Event) error {
		close(done)
		return nil
	})

	b.Publish(NewEvent(EventWorkflowCompleted, "test", "run-1", nil))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("async handler was not invoked")
	}
}

func TestPublish_AsyncHandlerPanicConverted(t *testing.T) {
	b := New(nil)

	errorSeen := make(chan struct{})
	b.SubscribeAsync(EventStepCompleted, func(e *Event) error {
		panic("async boom")
	})
	b.Subscribe(EventErrorOccurred, func(e *Event) error {
		close(errorSeen)
		return nil
	})

	b.Publish(NewEvent(EventStepCompleted, "test", "run-1", nil))

	select {
	case <-errorSeen:
	case <-time.After(2 * time.Second):
		t.Fatal("async handler panic should produce error.occurred")
	}
}

func TestPublishAndWait_WaitsForAllHandlers(t *testing.T) {
	b := New(nil)

	var mu sync.Mutex
	var finished int

	slow := func(e *Event) error {
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		finished++
		mu.Unlock()
		return nil
	}

	b.Subscribe(EventWorkflowFailed, slow)
	b.Subscribe(EventWorkflowFailed, slow)
	b.SubscribeAsync(EventWorkflowFailed, slow)

	b.PublishAndWait(NewEvent(EventWorkflowFailed, "test", "run-1", nil))

	mu.Lock()
	defer mu.Unlock()
	if finished != 3 {
		t.Errorf("expected 3 finished handlers, got %d", finished)
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New(nil)

	var calls int
	sub := b.Subscribe(EventStepStarted, func(e *Event) error {
		calls++
		return nil
	})

	b.Publish(NewEvent(EventStepStarted, "test", "run-1", nil))
	b.Unsubscribe(sub)
	b.Publish(NewEvent(EventStepStarted, "test", "run-1", nil))

	if calls != 1 {
		t.Errorf("expected 1 call after unsubscribe, got %d", calls)
	}

	// Повторный Unsubscribe и nil — no-op
	b.Unsubscribe(sub)
	b.Unsubscribe(nil)
}

func TestMiddleware_FiltersDeliveryButNotHistory(t *testing.T) {
	b := New(nil)

	var delivered int
	b.Subscribe(EventStepStarted, func(e *Event) error {
		delivered++
		return nil
	})

	// Middleware подавляет step.started
	b.AddMiddleware(func(e *Event) *Event {
		if e.Type == EventStepStarted {
			return nil
		}
		return e
	})

	b.Publish(NewEvent(EventStepStarted, "test", "run-1", nil))

	if delivered != 0 {
		t.Errorf("expected 0 deliveries, got %d", delivered)
	}

	// Событие осталось в истории
	history := b.GetHistory(EventStepStarted, 0)
	if len(history) != 1 {
		t.Errorf("expected 1 event in history, got %d", len(history))
	}
}

func TestMiddleware_TransformDelivered(t *testing.T) {
	b := New(nil)

	var seen *Event
	b.Subscribe(EventStepCompleted, func(e *Event) error {
		seen = e
		return nil
	})

	b.AddMiddleware(func(e *Event) *Event {
		cp := e.Clone()
		cp.Payload["enriched"] = true
		return cp
	})

	original := NewEvent(EventStepCompleted, "test", "run-1", map[string]any{"step": "A"})
	b.Publish(original)

	if seen == nil {
		t.Fatal("handler should receive transformed event")
	}
	if seen.Payload["enriched"] != true {
		t.Error("handler should see middleware enrichment")
	}

	// История хранит событие до middleware
	history := b.GetHistory(EventStepCompleted, 1)
	if _, ok := history[0].Payload["enriched"]; ok {
		t.Error("history should keep the pre-middleware event")
	}
}

func TestMiddleware_OrderLeftToRight(t *testing.T) {
	b := New(nil)

	var order []string
	b.AddMiddleware(func(e *Event) *Event {
		order = append(order, "first")
		return e
	})
	b.AddMiddleware(func(e *Event) *Event {
		order = append(order, "second")
		return e
	})

	b.Publish(NewEvent(EventStepStarted, "test", "run-1", nil))

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("middleware should run in registration order, got %v", order)
	}
}

func TestGetHistory_FilterAndLimit(t *testing.T) {
	b := New(nil)

	b.Publish(NewEvent(EventWorkflowStarted, "test", "run-1", nil))
	b.Publish(NewEvent(EventStepStarted, "test", "run-1", map[string]any{"n": 1}))
	b.Publish(NewEvent(EventStepStarted, "test", "run-1", map[string]any{"n": 2}))
	b.Publish(NewEvent(EventWorkflowCompleted, "test", "run-1", nil))

	all := b.GetHistory("", 0)
	if len(all) != 4 {
		t.Errorf("expected 4 events, got %d", len(all))
	}

	steps := b.GetHistory(EventStepStarted, 0)
	if len(steps) != 2 {
		t.Errorf("expected 2 step events, got %d", len(steps))
	}

	// limit возвращает самые последние
	last := b.GetHistory(EventStepStarted, 1)
	if len(last) != 1 {
		t.Fatalf("expected 1 event, got %d", len(last))
	}
	if last[0].Payload["n"] != 2 {
		t.Errorf("expected most recent step event, got %v", last[0].Payload)
	}
}

func TestHistory_Eviction(t *testing.T) {
	h := newHistory()

	for i := 0; i < historyCapacity+10; i++ {
		h.append(NewEvent(EventStepStarted, "test", "", map[string]any{"n": i}))
	}

	if h.size() != historyCapacity {
		t.Errorf("expected size %d, got %d", historyCapacity, h.size())
	}

	// Самые старые 10 событий вытеснены
	events := h.recent("", 0)
	if events[0].Payload["n"] != 10 {
		t.Errorf("expected oldest event n=10, got %v", events[0].Payload["n"])
	}
	if events[len(events)-1].Payload["n"] != historyCapacity+9 {
		t.Errorf("expected newest event n=%d, got %v", historyCapacity+9, events[len(events)-1].Payload["n"])
	}
}

func TestPublish_ConcurrentPublishers(t *testing.T) {
	b := New(nil)

	var count int32
	b.Subscribe(EventStepCompleted, func(e *Event) error {
		atomic.AddInt32(&count, 1)
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Publish(NewEvent(EventStepCompleted, "test", "run-1", nil))
		}()
	}
	wg.Wait()

	if atomic.LoadInt32(&count) != 50 {
		t.Errorf("expected 50 deliveries, got %d", count)
	}
	if b.HistorySize() != 50 {
		t.Errorf("expected 50 events in history, got %d", b.HistorySize())
	}
}
