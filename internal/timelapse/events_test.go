package timelapse

import (
	"testing"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	a, cancelA := bus.Subscribe(4)
	b, cancelB := bus.Subscribe(4)
	defer cancelB()

	bus.Publish(Event{Type: EventSessionStarted, SessionID: "s1"})

	for name, ch := range map[string]<-chan Event{"a": a, "b": b} {
		select {
		case ev := <-ch:
			if ev.Type != EventSessionStarted || ev.SessionID != "s1" {
				t.Errorf("subscriber %s got %+v", name, ev)
			}
			if ev.ID == "" || ev.Timestamp.IsZero() {
				t.Errorf("subscriber %s: id/timestamp not set: %+v", name, ev)
			}
		default:
			t.Errorf("subscriber %s did not receive the event", name)
		}
	}

	// 解除後のチャンネルは閉じられ、配信されない
	cancelA()
	cancelA()
	bus.Publish(Event{Type: EventSessionsChanged})
	if _, ok := <-a; ok {
		t.Error("unsubscribed channel should be closed")
	}
}

func TestBus_DropsWhenSubscriberIsSlow(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch, cancel := bus.Subscribe(1)
	defer cancel()

	bus.Publish(Event{Type: EventSessionUpdated, SessionID: "first"})
	bus.Publish(Event{Type: EventSessionUpdated, SessionID: "second"})

	ev := <-ch
	if ev.SessionID != "first" {
		t.Errorf("Expected first event to be kept, got %s", ev.SessionID)
	}
	select {
	case ev := <-ch:
		t.Errorf("second event should be dropped, got %+v", ev)
	default:
	}
}

func TestBus_Close(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(1)

	bus.Close()
	cancel() // Close後の解除も安全

	if _, ok := <-ch; ok {
		t.Error("channel should be closed after bus Close")
	}

	late, _ := bus.Subscribe(1)
	if _, ok := <-late; ok {
		t.Error("subscription after Close should be closed immediately")
	}
	bus.Publish(Event{Type: EventSessionsChanged})
}
