package event

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestBus_Subscribe(t *testing.T) {
	bus := NewBus()

	var received Event
	var wg sync.WaitGroup
	wg.Add(1)

	unsub := bus.Subscribe(SessionStarted, func(e Event) {
		received = e
		wg.Done()
	})
	defer unsub()

	event := Event{Type: SessionStarted, SessionID: "sess-1", Data: SessionStartedData{Node: SessionNodeView{ID: "sess-1"}}}
	bus.Publish(event)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if received.Type != SessionStarted {
			t.Errorf("Expected SessionStarted, got %v", received.Type)
		}
		if received.SessionID != "sess-1" {
			t.Errorf("Expected sess-1, got %v", received.SessionID)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for event")
	}
}

func TestBus_SubscribeAll(t *testing.T) {
	bus := NewBus()

	var count int32
	var wg sync.WaitGroup
	wg.Add(3)

	unsub := bus.SubscribeAll(func(e Event) {
		atomic.AddInt32(&count, 1)
		wg.Done()
	})
	defer unsub()

	bus.Publish(Event{Type: SessionStarted})
	bus.Publish(Event{Type: SessionPaused})
	bus.Publish(Event{Type: SubagentStart})

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if atomic.LoadInt32(&count) != 3 {
			t.Errorf("Expected 3 events, got %d", count)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for events")
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()

	var count int32
	unsub := bus.Subscribe(SessionStarted, func(e Event) {
		atomic.AddInt32(&count, 1)
	})

	bus.PublishSync(Event{Type: SessionStarted})
	if atomic.LoadInt32(&count) != 1 {
		t.Errorf("Expected 1 event before unsub, got %d", count)
	}

	unsub()

	bus.PublishSync(Event{Type: SessionStarted})
	if atomic.LoadInt32(&count) != 1 {
		t.Errorf("Expected still 1 event after unsub, got %d", count)
	}
}

func TestBus_UnsubscribeGlobal(t *testing.T) {
	bus := NewBus()

	var count int32
	unsub := bus.SubscribeAll(func(e Event) {
		atomic.AddInt32(&count, 1)
	})

	bus.PublishSync(Event{Type: SessionStarted})
	if atomic.LoadInt32(&count) != 1 {
		t.Errorf("Expected 1 event before unsub, got %d", count)
	}

	unsub()

	bus.PublishSync(Event{Type: SessionPaused})
	if atomic.LoadInt32(&count) != 1 {
		t.Errorf("Expected still 1 event after unsub, got %d", count)
	}
}

func TestBus_PublishSync(t *testing.T) {
	bus := NewBus()

	var received []EventType
	var mu sync.Mutex

	bus.Subscribe(SessionStarted, func(e Event) {
		mu.Lock()
		received = append(received, e.Type)
		mu.Unlock()
	})
	bus.Subscribe(SessionSwitched, func(e Event) {
		mu.Lock()
		received = append(received, e.Type)
		mu.Unlock()
	})

	bus.PublishSync(Event{Type: SessionStarted})
	bus.PublishSync(Event{Type: SessionSwitched})

	mu.Lock()
	if len(received) != 2 {
		t.Errorf("Expected 2 events, got %d", len(received))
	}
	mu.Unlock()
}

func TestBus_MultipleSubscribers(t *testing.T) {
	bus := NewBus()

	var count int32
	var wg sync.WaitGroup
	wg.Add(3)

	for i := 0; i < 3; i++ {
		bus.Subscribe(SessionStarted, func(e Event) {
			atomic.AddInt32(&count, 1)
			wg.Done()
		})
	}

	bus.Publish(Event{Type: SessionStarted})

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if atomic.LoadInt32(&count) != 3 {
			t.Errorf("Expected 3 subscribers to receive event, got %d", count)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for events")
	}
}

func TestBus_NoSubscribers(t *testing.T) {
	bus := NewBus()

	bus.Publish(Event{Type: SessionStarted})
	bus.PublishSync(Event{Type: SessionStarted})
}

func TestBus_EventTypeFiltering(t *testing.T) {
	bus := NewBus()

	var sessionCount, subagentCount int32

	bus.Subscribe(SessionStarted, func(e Event) {
		atomic.AddInt32(&sessionCount, 1)
	})
	bus.Subscribe(SubagentStart, func(e Event) {
		atomic.AddInt32(&subagentCount, 1)
	})

	bus.PublishSync(Event{Type: SessionStarted})
	bus.PublishSync(Event{Type: SessionStarted})
	bus.PublishSync(Event{Type: SubagentStart})

	if atomic.LoadInt32(&sessionCount) != 2 {
		t.Errorf("Expected 2 session events, got %d", sessionCount)
	}
	if atomic.LoadInt32(&subagentCount) != 1 {
		t.Errorf("Expected 1 subagent event, got %d", subagentCount)
	}
}

func TestBus_PanicHandlerCatchesAndContinues(t *testing.T) {
	bus := NewBus()

	var panicked int32
	var secondCalled int32
	var caughtType EventType

	bus.SetPanicHandler(func(eventType EventType, recovered any) {
		atomic.AddInt32(&panicked, 1)
		caughtType = eventType
	})

	bus.Subscribe(SessionStarted, func(e Event) {
		panic("boom")
	})
	bus.Subscribe(SessionStarted, func(e Event) {
		atomic.AddInt32(&secondCalled, 1)
	})

	bus.PublishSync(Event{Type: SessionStarted})

	if atomic.LoadInt32(&panicked) != 1 {
		t.Errorf("Expected panic handler to be invoked once, got %d", panicked)
	}
	if caughtType != SessionStarted {
		t.Errorf("Expected caught type SessionStarted, got %v", caughtType)
	}
	if atomic.LoadInt32(&secondCalled) != 1 {
		t.Errorf("Expected second subscriber to still run after first panicked, got %d", secondCalled)
	}
}

func TestBus_TimestampAutoStamped(t *testing.T) {
	bus := NewBus()

	var received Event
	bus.Subscribe(SessionStarted, func(e Event) {
		received = e
	})
	bus.PublishSync(Event{Type: SessionStarted})

	if received.Timestamp.IsZero() {
		t.Error("Expected Timestamp to be auto-stamped")
	}
}

func TestGlobalBus_Reset(t *testing.T) {
	var count int32
	Subscribe(SessionStarted, func(e Event) {
		atomic.AddInt32(&count, 1)
	})

	PublishSync(Event{Type: SessionStarted})
	if atomic.LoadInt32(&count) != 1 {
		t.Errorf("Expected 1 event before reset, got %d", count)
	}

	Reset()

	PublishSync(Event{Type: SessionStarted})
	if atomic.LoadInt32(&count) != 1 {
		t.Errorf("Expected still 1 event after reset, got %d", count)
	}
}

func TestBus_ConcurrentSubscribePublish(t *testing.T) {
	bus := NewBus()

	var count int32
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unsub := bus.Subscribe(SessionStarted, func(e Event) {
				atomic.AddInt32(&count, 1)
			})
			defer unsub()

			for j := 0; j < 10; j++ {
				bus.Publish(Event{Type: SessionStarted})
			}
		}()
	}

	wg.Wait()
	time.Sleep(100 * time.Millisecond)

	if atomic.LoadInt32(&count) == 0 {
		t.Log("Warning: no events received, but no panic occurred")
	}
}
