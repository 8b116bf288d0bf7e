package bus

import (
	"context"
	"testing"
	"time"
)

func TestMemoryPublishSubscribe(t *testing.T) {
	m := NewMemory(0)
	defer m.Close()

	ch, cancel, err := m.Subscribe("test.subject")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()

	if err := m.Publish(context.Background(), "test.subject", []byte("hello")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case msg := <-ch:
		if msg.Subject != "test.subject" || string(msg.Payload) != "hello" {
			t.Errorf("got %q on %q", msg.Payload, msg.Subject)
		}
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
}

func TestMemorySubjectIsolation(t *testing.T) {
	m := NewMemory(0)
	defer m.Close()

	ch, cancel, _ := m.Subscribe("subject.a")
	defer cancel()

	m.Publish(context.Background(), "subject.b", []byte("stray"))

	select {
	case msg := <-ch:
		t.Fatalf("received message for another subject: %s", msg.Payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryUnsubscribeClosesChannel(t *testing.T) {
	m := NewMemory(0)
	defer m.Close()

	ch, cancel, _ := m.Subscribe("subject.a")
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel, got message")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after unsubscribe")
	}

	// Publishing after unsubscribe must not panic or deliver.
	if err := m.Publish(context.Background(), "subject.a", []byte("late")); err != nil {
		t.Fatalf("Publish after unsubscribe: %v", err)
	}
}

func TestMemoryDropsOnFullBuffer(t *testing.T) {
	m := NewMemory(1)
	defer m.Close()

	_, cancel, _ := m.Subscribe("subject.a")
	defer cancel()

	m.Publish(context.Background(), "subject.a", []byte("1"))
	m.Publish(context.Background(), "subject.a", []byte("2"))

	if got := m.DroppedCount(); got != 1 {
		t.Errorf("DroppedCount() = %d, want 1", got)
	}
}

func TestMemoryFanout(t *testing.T) {
	m := NewMemory(0)
	defer m.Close()

	ch1, cancel1, _ := m.Subscribe("subject.a")
	defer cancel1()
	ch2, cancel2, _ := m.Subscribe("subject.a")
	defer cancel2()

	m.Publish(context.Background(), "subject.a", []byte("fan"))

	for i, ch := range []<-chan Message{ch1, ch2} {
		select {
		case msg := <-ch:
			if string(msg.Payload) != "fan" {
				t.Errorf("subscriber %d got %q", i, msg.Payload)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d got nothing", i)
		}
	}
}
