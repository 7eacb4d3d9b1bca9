package events

import (
	"testing"
	"time"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := New(10)
	defer bus.Close()

	ch := bus.Subscribe()
	bus.Publish(NewStateChangedEvent("sim_1", "pending", "running", ""))

	select {
	case received := <-ch:
		if received.EventType() != TypeStateChanged {
			t.Errorf("expected %s, got %s", TypeStateChanged, received.EventType())
		}
		if received.SimulationID() != "sim_1" {
			t.Errorf("expected sim_1, got %s", received.SimulationID())
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("timeout waiting for event")
	}
}

func TestBus_SubscribeByType(t *testing.T) {
	bus := New(10)
	defer bus.Close()

	progressCh := bus.Subscribe(TypeProgress)
	allCh := bus.Subscribe()

	bus.Publish(NewStateChangedEvent("sim_1", "pending", "running", ""))
	total := 100
	bus.Publish(NewProgressEvent("sim_1", 10, &total, 10))

	// allCh receives both.
	for i := 0; i < 2; i++ {
		select {
		case <-allCh:
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("allCh missing event %d", i)
		}
	}

	// progressCh only sees the progress event.
	select {
	case received := <-progressCh:
		if received.EventType() != TypeProgress {
			t.Errorf("expected %s, got %s", TypeProgress, received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("progressCh should receive the progress event")
	}
	select {
	case received := <-progressCh:
		t.Errorf("unexpected extra event: %s", received.EventType())
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_SlowSubscriberDropsOldest(t *testing.T) {
	bus := New(2)
	defer bus.Close()

	_ = bus.Subscribe() // never read

	for i := 0; i < 10; i++ {
		bus.Publish(NewProgressEvent("sim_1", i, nil, i))
	}

	if bus.DroppedCount() == 0 {
		t.Error("expected dropped events with a full buffer")
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := New(10)
	defer bus.Close()

	ch := bus.Subscribe()
	bus.Unsubscribe(ch)

	bus.Publish(NewCheckpointEvent("sim_1", 100, "/tmp/cp.json"))

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("unsubscribed channel should not receive events")
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_PublishAfterCloseDoesNotPanic(t *testing.T) {
	bus := New(10)
	bus.Close()
	bus.Publish(NewProgressEvent("sim_1", 1, nil, 1))
}
