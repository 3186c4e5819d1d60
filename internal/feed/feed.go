// ABOUTME: In-memory fan-out of session lifecycle events to live subscribers
// ABOUTME: Subscribers follow one wallet or every wallet; slow subscribers drop events

package feed

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/romulus-ai/romulus-gateway/internal/store"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64

	// AllWallets subscribes to every wallet's events.
	AllWallets = ""
)

// Broadcaster provides in-memory pub/sub for journaled session events.
// Subscribers register for a wallet, or AllWallets, and receive events as
// the broker records them.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan store.Event // wallet -> subID -> ch
	closed      bool
	logger      *slog.Logger
}

// New creates a broadcaster. Pass nil logger for default.
func New(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan store.Event),
		logger:      logger.With("component", "feed"),
	}
}

// Subscribe registers a subscriber for events of wallet. Returns a channel
// that receives events and a subscription ID for later unsubscription. The
// subscription is cleaned up when ctx is cancelled. The channel is closed on
// unsubscribe or Close.
func (b *Broadcaster) Subscribe(ctx context.Context, wallet string) (<-chan store.Event, string) {
	subID := uuid.New().String()
	ch := make(chan store.Event, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	if _, ok := b.subscribers[wallet]; !ok {
		b.subscribers[wallet] = make(map[string]chan store.Event)
	}
	b.subscribers[wallet][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "wallet", wallet, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(wallet, subID)
	}()

	return ch, subID
}

// Publish sends e to subscribers of e.Wallet and of AllWallets.
// Non-blocking: events are dropped for subscribers whose channels are full.
func (b *Broadcaster) Publish(e store.Event) {
	// Sends happen under the read lock so Unsubscribe cannot close a
	// channel mid-send. They never block.
	b.mu.RLock()
	defer b.mu.RUnlock()

	b.deliverLocked(b.subscribers[e.Wallet], e)
	if e.Wallet != AllWallets {
		b.deliverLocked(b.subscribers[AllWallets], e)
	}
}

func (b *Broadcaster) deliverLocked(subs map[string]chan store.Event, e store.Event) {
	for subID, ch := range subs {
		select {
		case ch <- e:
		default:
			b.logger.Debug("dropped event for slow subscriber", "sub_id", subID, "event_id", e.ID)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(wallet, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[wallet]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)

	if len(subs) == 0 {
		delete(b.subscribers, wallet)
	}

	b.logger.Debug("subscriber removed", "wallet", wallet, "sub_id", subID)
}

// Count returns the number of live subscriptions.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, subs := range b.subscribers {
		n += len(subs)
	}
	return n
}

// Close shuts down the broadcaster and closes all subscriber channels.
// Later subscriptions receive an already-closed channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for wallet, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, wallet)
	}

	b.logger.Debug("feed closed")
}
