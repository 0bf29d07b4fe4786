// Package notify is the in-process fan-out for data-change signals. Delivery
// is fire-and-forget: at most once per currently subscribed observer, dropped
// outright when nobody is subscribed or a subscriber is slow. Nothing is
// buffered at the notifier and nothing is replayed.
package notify

import (
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"feedbox/models"
)

// Subscription carries the three signal channels for one observer. The
// channels are closed by Unsubscribe or Shutdown.
type Subscription struct {
	ID                string
	FeedsChanged      chan struct{}
	CategoriesChanged chan struct{}
	Progress          chan models.UpdateProgress
}

// Notifier is safe for concurrent emission from the scheduler goroutine and
// consumption from any number of observers.
type Notifier struct {
	sync.RWMutex
	subs map[string]*Subscription
}

func New() *Notifier {
	return &Notifier{subs: make(map[string]*Subscription)}
}

// Subscribe registers a new observer and returns its subscription.
func (n *Notifier) Subscribe() *Subscription {
	sub := &Subscription{
		ID:                uuid.New().String(),
		FeedsChanged:      make(chan struct{}, 1),
		CategoriesChanged: make(chan struct{}, 1),
		Progress:          make(chan models.UpdateProgress, 16),
	}

	n.Lock()
	defer n.Unlock()
	n.subs[sub.ID] = sub
	log.WithFields(log.Fields{
		"key":   sub.ID,
		"count": len(n.subs),
	}).Debug("Observer subscribed")
	return sub
}

// Unsubscribe removes an observer and closes its channels.
func (n *Notifier) Unsubscribe(id string) {
	n.Lock()
	defer n.Unlock()
	sub, ok := n.subs[id]
	if !ok {
		return
	}
	delete(n.subs, id)
	close(sub.FeedsChanged)
	close(sub.CategoriesChanged)
	close(sub.Progress)
	log.WithFields(log.Fields{
		"key":   id,
		"count": len(n.subs),
	}).Debug("Observer unsubscribed")
}

// FeedsChanged signals that the feed set or feed contents changed.
func (n *Notifier) FeedsChanged() {
	n.RLock()
	defer n.RUnlock()
	for _, sub := range n.subs {
		select {
		case sub.FeedsChanged <- struct{}{}: // Non-blocking send
		default:
		}
	}
}

// CategoriesChanged signals that the category set changed.
func (n *Notifier) CategoriesChanged() {
	n.RLock()
	defer n.RUnlock()
	for _, sub := range n.subs {
		select {
		case sub.CategoriesChanged <- struct{}{}:
		default:
		}
	}
}

// Progress reports per-feed advancement of a batch update.
func (n *Notifier) Progress(p models.UpdateProgress) {
	n.RLock()
	defer n.RUnlock()
	for id, sub := range n.subs {
		select {
		case sub.Progress <- p:
		default:
			log.Warnf("Progress channel full, skipping event for observer: %v", id)
		}
	}
}

// Shutdown closes every subscription.
func (n *Notifier) Shutdown() {
	log.Info("Shutting down notifier")
	n.Lock()
	defer n.Unlock()
	for id, sub := range n.subs {
		close(sub.FeedsChanged)
		close(sub.CategoriesChanged)
		close(sub.Progress)
		delete(n.subs, id)
	}
}
