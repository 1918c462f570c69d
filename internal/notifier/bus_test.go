package notifier

import (
	"sync"
	"testing"
	"time"
)

type fakeSender struct {
	mu       sync.Mutex
	subjects []string
	sent     chan struct{}
}

func (f *fakeSender) Send(to, subject, htmlBody, plainBody string) error {
	f.mu.Lock()
	f.subjects = append(f.subjects, subject)
	f.mu.Unlock()
	f.sent <- struct{}{}
	return nil
}

func TestPublishStampsAndDelivers(t *testing.T) {
	fixed := time.Unix(1730000000, 0)
	var got []Event
	bus := NewBus(WithClock(func() time.Time { return fixed }), WithSink(SinkFunc(func(e Event) { got = append(got, e) })))

	events, cancel := bus.Subscribe(4)
	defer cancel()

	e := bus.Error(7, "server error")
	if e.ID.String() == "" || !e.Time.Equal(fixed) || e.Level != LevelError {
		t.Fatalf("unexpected event %+v", e)
	}
	if len(got) != 1 || got[0].PostID != 7 {
		t.Fatalf("sink did not receive event: %+v", got)
	}
	select {
	case sub := <-events:
		if sub.ID != e.ID {
			t.Fatalf("subscriber got a different event")
		}
	default:
		t.Fatalf("subscriber got nothing")
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	bus := NewBus()
	events, cancel := bus.Subscribe(1)
	bus.Info(0, "one")
	bus.Info(0, "two")
	if (<-events).Message != "one" {
		t.Fatalf("expected first event")
	}
	cancel()
	cancel()
	if _, ok := <-events; ok {
		t.Fatalf("channel should be closed after cancel")
	}
	bus.Info(0, "after cancel")
}

func TestEmailSinkOnlyMailsErrors(t *testing.T) {
	sender := &fakeSender{sent: make(chan struct{}, 2)}
	bus := NewBus(WithSink(NewEmailSink(New(sender, "me@example.com"))))

	bus.Success(1, "Post published")
	bus.Error(2, "credentials expired")

	select {
	case <-sender.sent:
	case <-time.After(2 * time.Second):
		t.Fatalf("error event was not mailed")
	}
	select {
	case <-sender.sent:
		t.Fatalf("success event should not be mailed")
	case <-time.After(50 * time.Millisecond):
	}
	sender.mu.Lock()
	defer sender.mu.Unlock()
	if sender.subjects[0] != "post4me: credentials expired" {
		t.Fatalf("unexpected subject %q", sender.subjects[0])
	}
}
