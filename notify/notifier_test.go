package notify_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedbox/models"
	"feedbox/notify"
)

func TestEmitWithoutSubscribers(t *testing.T) {
	n := notify.New()

	// Must not block or panic with nobody listening.
	n.FeedsChanged()
	n.CategoriesChanged()
	n.Progress(models.UpdateProgress{Total: 1})
}

func TestSubscriberReceivesSignals(t *testing.T) {
	n := notify.New()
	sub := n.Subscribe()
	defer n.Unsubscribe(sub.ID)

	n.FeedsChanged()
	n.CategoriesChanged()
	n.Progress(models.UpdateProgress{Total: 3, Processed: 1, FeedTitle: "example"})

	select {
	case <-sub.FeedsChanged:
	default:
		t.Fatal("expected a feeds-changed signal")
	}
	select {
	case <-sub.CategoriesChanged:
	default:
		t.Fatal("expected a categories-changed signal")
	}
	select {
	case p := <-sub.Progress:
		assert.Equal(t, "example", p.FeedTitle)
	default:
		t.Fatal("expected a progress event")
	}
}

func TestSignalsCoalesce(t *testing.T) {
	n := notify.New()
	sub := n.Subscribe()
	defer n.Unsubscribe(sub.ID)

	// Repeated emissions before the subscriber drains collapse to one
	// pending signal, never a blocked sender.
	for i := 0; i < 10; i++ {
		n.FeedsChanged()
	}

	<-sub.FeedsChanged
	select {
	case <-sub.FeedsChanged:
		t.Fatal("expected at most one pending feeds-changed signal")
	default:
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	n := notify.New()
	sub := n.Subscribe()
	n.Unsubscribe(sub.ID)

	n.FeedsChanged()

	_, open := <-sub.FeedsChanged
	assert.False(t, open, "channel should be closed after unsubscribe")

	// Unsubscribing twice is a no-op.
	n.Unsubscribe(sub.ID)
}

func TestShutdownClosesAllSubscriptions(t *testing.T) {
	n := notify.New()
	a := n.Subscribe()
	b := n.Subscribe()

	n.Shutdown()

	_, open := <-a.FeedsChanged
	require.False(t, open)
	_, open = <-b.Progress
	require.False(t, open)
}

func TestConcurrentEmitAndSubscribe(t *testing.T) {
	n := notify.New()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			sub := n.Subscribe()
			n.Unsubscribe(sub.ID)
		}()
		go func() {
			defer wg.Done()
			n.FeedsChanged()
			n.Progress(models.UpdateProgress{})
		}()
	}
	wg.Wait()
}
