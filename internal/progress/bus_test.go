package progress

import (
	"sync"
	"testing"
	"time"

	"github.com/tbracken/gridpoll/internal/models"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestBroadcastReachesAllSubscribers(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var mu sync.Mutex
	got := map[string]int{}
	for _, id := range []string{"a", "b"} {
		id := id
		bus.Subscribe(id, func(ev Event) {
			mu.Lock()
			got[id]++
			mu.Unlock()
		})
	}

	bus.Publish("SUB1", models.ProgressUpdate{State: models.StateProcessing, Message: "hello"})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got["a"] == 1 && got["b"] == 1
	})
}

func TestUnicastReachesOnlyTarget(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var mu sync.Mutex
	got := map[string]int{}
	for _, id := range []string{"a", "b"} {
		id := id
		bus.Subscribe(id, func(ev Event) {
			mu.Lock()
			got[id]++
			mu.Unlock()
		})
	}

	bus.PublishTo("a", "SUB1", models.ProgressUpdate{State: models.StateSucceeded})
	bus.PublishTo("missing", "SUB1", models.ProgressUpdate{State: models.StateSucceeded})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got["a"] == 1
	})
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if got["b"] != 0 {
		t.Fatalf("unicast leaked to other subscriber: %d", got["b"])
	}
}

// TestSlowSubscriberDoesNotBlockPublisher: publishing to a wedged
// subscriber must stay non-blocking, dropping overflow instead.
func TestSlowSubscriberDoesNotBlockPublisher(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	block := make(chan struct{})
	var delivered int
	var mu sync.Mutex
	bus.Subscribe("slow", func(ev Event) {
		<-block
		mu.Lock()
		delivered++
		mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		for i := 0; i < queueDepth*4; i++ {
			bus.Publish("SUB1", models.ProgressUpdate{State: models.StateProcessing})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}

	close(block)
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if delivered > queueDepth+1 {
		t.Fatalf("delivered %d events, expected overflow to be dropped", delivered)
	}
	if delivered == 0 {
		t.Fatal("nothing delivered at all")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var mu sync.Mutex
	count := 0
	bus.Subscribe("a", func(ev Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	bus.Unsubscribe("a")
	if bus.SubscriberCount() != 0 {
		t.Fatalf("SubscriberCount = %d after unsubscribe", bus.SubscriberCount())
	}

	bus.Publish("SUB1", models.ProgressUpdate{State: models.StateProcessing})
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if count != 0 {
		t.Fatalf("unsubscribed client received %d events", count)
	}
}
