package router

import (
	"sync"
	"testing"
	"time"

	"github.com/frostwatch/frostwatch/pkg/types"
)

func appended(sensor string) Notification {
	return Notification{
		Type:      RecordAppended,
		Partition: "esp32_data_2024-03-01.json",
		SensorID:  sensor,
		Record:    types.Record{"device_id": sensor},
		Timestamp: time.Now().UnixMilli(),
	}
}

func TestNotifier_PublishNoSubscribers(t *testing.T) {
	n := NewNotifier(100)
	// Should not panic and should not block
	n.Publish(appended("esp-1"))
}

func TestNotifier_SubscribeReceivesNotification(t *testing.T) {
	n := NewNotifier(100)
	sub := n.Subscribe()

	n.Publish(appended("esp-1"))

	select {
	case notif := <-sub.Ch:
		if notif.SensorID != "esp-1" {
			t.Errorf("expected sensor 'esp-1', got '%s'", notif.SensorID)
		}
		if notif.Type != RecordAppended {
			t.Errorf("expected type RecordAppended, got %v", notif.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive notification within timeout")
	}
}

func TestNotifier_FilterExcludesNonMatching(t *testing.T) {
	n := NewNotifier(100)
	sub := n.Subscribe("esp-1")

	n.Publish(appended("esp-2"))
	n.Publish(Notification{Type: PartitionPruned, Partition: "esp32_data_2024-01-01.json"})

	select {
	case notif := <-sub.Ch:
		t.Fatalf("received unexpected notification: %v", notif)
	case <-time.After(100 * time.Millisecond):
		// Expected - notification filtered out
	}
}

func TestNotifier_FilterIncludesMatching(t *testing.T) {
	n := NewNotifier(100)
	sub := n.Subscribe("esp-2", "esp-1")

	n.Publish(appended("esp-1"))

	select {
	case notif := <-sub.Ch:
		if notif.Record["device_id"] != "esp-1" {
			t.Errorf("unexpected record %v", notif.Record)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive notification within timeout")
	}
}

func TestNotifier_FullChannelDropsNotification(t *testing.T) {
	n := NewNotifier(1)
	sub := n.Subscribe()

	n.Publish(appended("fill"))

	done := make(chan struct{})
	go func() {
		n.Publish(appended("dropped"))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("publish blocked when channel was full")
	}

	notif := <-sub.Ch
	if notif.SensorID != "fill" {
		t.Errorf("expected 'fill', got '%s'", notif.SensorID)
	}
}

func TestNotifier_UnsubscribeClosesChannel(t *testing.T) {
	n := NewNotifier(100)
	sub := n.Subscribe()

	n.Unsubscribe(sub.ID)
	n.Unsubscribe(sub.ID)

	select {
	case _, ok := <-sub.Ch:
		if ok {
			t.Fatal("channel should be closed after unsubscribe")
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("channel was not closed within timeout")
	}
	if n.Count() != 0 {
		t.Fatalf("expected 0 subscribers, got %d", n.Count())
	}
}

func TestNotifier_ConcurrentPublishAndUnsubscribe(t *testing.T) {
	n := NewNotifier(4)
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		sub := n.Subscribe()
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				n.Publish(appended("esp-1"))
			}
		}()
		go func(id string) {
			defer wg.Done()
			n.Unsubscribe(id)
		}(sub.ID)
	}
	wg.Wait()

	if n.Count() != 0 {
		t.Fatalf("expected 0 subscribers, got %d", n.Count())
	}
}

func TestNotifier_CloseUnsubscribesAll(t *testing.T) {
	n := NewNotifier(10)
	a := n.Subscribe()
	b := n.Subscribe("esp-1")

	if err := n.Close(); err != nil {
		t.Fatal(err)
	}
	if _, ok := <-a.Ch; ok {
		t.Error("expected closed channel")
	}
	if _, ok := <-b.Ch; ok {
		t.Error("expected closed channel")
	}
}
