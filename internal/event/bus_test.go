package event

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestBus_Subscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var received Event
	var wg sync.WaitGroup
	wg.Add(1)

	unsub := bus.Subscribe(RoomSnapshot, func(e Event) {
		received = e
		wg.Done()
	})
	defer unsub()

	bus.Publish(Event{Type: RoomSnapshot, Data: "r1"})

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if received.Type != RoomSnapshot {
			t.Errorf("Expected RoomSnapshot, got %v", received.Type)
		}
		if received.Data != "r1" {
			t.Errorf("Expected 'r1', got %v", received.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for event")
	}
}

func TestBus_SubscribeAll(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var count int32
	var wg sync.WaitGroup
	wg.Add(3)

	unsub := bus.SubscribeAll(func(e Event) {
		atomic.AddInt32(&count, 1)
		wg.Done()
	})
	defer unsub()

	bus.Publish(Event{Type: RoomSnapshot, Data: nil})
	bus.Publish(Event{Type: FSNodeUpsert, Data: nil})
	bus.Publish(Event{Type: PresenceJoin, Data: nil})

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
	defer bus.Close()

	var count int32
	unsub := bus.Subscribe(FSNodeRemove, func(e Event) {
		atomic.AddInt32(&count, 1)
	})

	bus.PublishSync(Event{Type: FSNodeRemove, Data: nil})
	if atomic.LoadInt32(&count) != 1 {
		t.Errorf("Expected 1 event before unsub, got %d", count)
	}

	unsub()

	bus.PublishSync(Event{Type: FSNodeRemove, Data: nil})
	if atomic.LoadInt32(&count) != 1 {
		t.Errorf("Expected still 1 event after unsub, got %d", count)
	}
}

func TestBus_PublishSyncOrdering(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var got []string
	unsub := bus.Subscribe(DocUpdate, func(e Event) {
		got = append(got, e.Data.(string))
	})
	defer unsub()

	bus.PublishSync(Event{Type: DocUpdate, Data: "a"})
	bus.PublishSync(Event{Type: DocUpdate, Data: "b"})
	bus.PublishSync(Event{Type: DocUpdate, Data: "c"})

	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("Expected ordered delivery [a b c], got %v", got)
	}
}

func TestBus_ClosedBusDropsEverything(t *testing.T) {
	bus := NewBus()

	var count int32
	bus.Subscribe(RoomError, func(e Event) {
		atomic.AddInt32(&count, 1)
	})

	if err := bus.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	bus.PublishSync(Event{Type: RoomError, Data: nil})
	if atomic.LoadInt32(&count) != 0 {
		t.Errorf("Expected no delivery after close, got %d", count)
	}

	// Subscribing after close returns a no-op unsubscribe.
	unsub := bus.Subscribe(RoomError, func(e Event) {})
	unsub()
}
