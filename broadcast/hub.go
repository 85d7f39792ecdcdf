// Package broadcast fans out version control events to the clients
// subscribed to a project. Delivery is at-most-once: every subscriber has a
// bounded queue, events that do not fit are dropped and counted, and there
// is no replay. A client that reconnects must re-fetch state.
package broadcast

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/logging"
	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/metrics"
)

// Kind names an event.
type Kind string

const (
	BranchCreated       Kind = "branch-created"
	BranchDeleted       Kind = "branch-deleted"
	BranchSwitched      Kind = "branch-switched"
	CommitCreated       Kind = "commit-created"
	CommitRestored      Kind = "commit-restored"
	BranchMerged        Kind = "branch-merged"
	ConflictsResolved   Kind = "conflicts-resolved"
	MergeAborted        Kind = "merge-aborted"
	RepositoryRecovered Kind = "repository-recovered"
)

// Event is the envelope delivered to subscribers.
type Event struct {
	ID        string    `json:"id" msgpack:"id"`
	ProjectID string    `json:"project_id" msgpack:"project_id"`
	Kind      Kind      `json:"kind" msgpack:"kind"`
	Timestamp time.Time `json:"timestamp" msgpack:"timestamp"`
	Payload   any       `json:"payload,omitempty" msgpack:"payload,omitempty"`
}

// Forwarder receives every locally published event, e.g. to relay it to
// other server instances.
type Forwarder interface {
	Forward(event Event)
}

// Config sizes the hub.
type Config struct {
	Workers      int // Goroutines fanning events out to subscribers
	QueueSize    int // Events waiting for a worker
	ClientBuffer int // Events waiting for one subscriber
}

// DefaultConfig returns the hub defaults.
func DefaultConfig() Config {
	return Config{Workers: 4, QueueSize: 1024, ClientBuffer: 64}
}

// Subscription is one subscriber's queue for a project.
type Subscription struct {
	ID        string
	ProjectID string
	Created   time.Time

	events    chan Event
	delivered atomic.Int64
	dropped   atomic.Int64
	closed    bool
}

// Events returns the channel events arrive on. It is closed on
// Unsubscribe or when the hub stops.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Delivered returns how many events were queued for the subscriber.
func (s *Subscription) Delivered() int64 {
	return s.delivered.Load()
}

// Dropped returns how many events were discarded because the queue was full.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// Stats summarises the hub.
type Stats struct {
	Projects    int   `json:"projects"`
	Subscribers int   `json:"subscribers"`
	Published   int64 `json:"published"`
	Dropped     int64 `json:"dropped"`
}

// Hub routes events to the subscribers of each project.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]*Subscription
	forwarder   Forwarder

	config  Config
	queues  []chan Event
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running atomic.Bool

	published atomic.Int64
	dropped   atomic.Int64

	logger  *logging.Logger
	metrics *metrics.PrometheusMetrics
}

// NewHub creates a hub and starts its workers. logger and m may be nil.
func NewHub(config Config, logger *logging.Logger, m *metrics.PrometheusMetrics) *Hub {
	defaults := DefaultConfig()
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if config.QueueSize <= 0 {
		config.QueueSize = defaults.QueueSize
	}
	if config.ClientBuffer <= 0 {
		config.ClientBuffer = defaults.ClientBuffer
	}
	if logger == nil {
		logger = logging.Nop()
	}

	h := &Hub{
		subscribers: make(map[string]map[string]*Subscription),
		config:      config,
		queues:      make([]chan Event, config.Workers),
		stopCh:      make(chan struct{}),
		logger:      logger.WithComponent("broadcast"),
		metrics:     m,
	}

	// One queue per worker; a project always maps to the same worker so its
	// events keep their order.
	perWorker := config.QueueSize / config.Workers
	if perWorker < 1 {
		perWorker = 1
	}
	h.running.Store(true)
	for i := range h.queues {
		h.queues[i] = make(chan Event, perWorker)
		h.wg.Add(1)
		go h.worker(h.queues[i])
	}
	return h
}

// SetForwarder installs the relay for locally published events.
func (h *Hub) SetForwarder(f Forwarder) {
	h.mu.Lock()
	h.forwarder = f
	h.mu.Unlock()
}

// Publish announces an event for a project. It never blocks and never
// fails; events that cannot be queued are dropped.
func (h *Hub) Publish(projectID string, kind Kind, payload any) {
	event := Event{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Kind:      kind,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
	h.metrics.IncEventPublished(string(kind))
	h.Deliver(event)

	h.mu.RLock()
	f := h.forwarder
	h.mu.RUnlock()
	if f != nil {
		f.Forward(event)
	}
}

// Deliver queues an already built event for local subscribers only.
func (h *Hub) Deliver(event Event) {
	if !h.running.Load() {
		return
	}
	select {
	case h.shard(event.ProjectID) <- event:
		h.published.Add(1)
	default:
		h.drop()
		h.logger.WithField("project_id", event.ProjectID).Warnf("Event queue full, dropping %s", event.Kind)
	}
}

// Subscribe registers a subscriber for a project's events.
func (h *Hub) Subscribe(projectID string) *Subscription {
	sub := &Subscription{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Created:   time.Now(),
		events:    make(chan Event, h.config.ClientBuffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running.Load() {
		sub.closed = true
		close(sub.events)
		return sub
	}

	subs, ok := h.subscribers[projectID]
	if !ok {
		subs = make(map[string]*Subscription)
		h.subscribers[projectID] = subs
	}
	subs[sub.ID] = sub
	return sub
}

// Unsubscribe removes a subscriber and closes its channel. It is safe to
// call more than once.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sub.closed {
		return
	}
	sub.closed = true
	close(sub.events)

	if subs, ok := h.subscribers[sub.ProjectID]; ok {
		delete(subs, sub.ID)
		if len(subs) == 0 {
			delete(h.subscribers, sub.ProjectID)
		}
	}
}

// SubscriberCount returns the number of subscribers for a project.
func (h *Hub) SubscriberCount(projectID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[projectID])
}

// Stats returns hub counters.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	stats := Stats{
		Projects:  len(h.subscribers),
		Published: h.published.Load(),
		Dropped:   h.dropped.Load(),
	}
	for _, subs := range h.subscribers {
		stats.Subscribers += len(subs)
	}
	return stats
}

// Close stops the workers and closes every subscriber channel.
func (h *Hub) Close() {
	if !h.running.CompareAndSwap(true, false) {
		return
	}
	close(h.stopCh)
	h.wg.Wait()

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, subs := range h.subscribers {
		for _, sub := range subs {
			if !sub.closed {
				sub.closed = true
				close(sub.events)
			}
		}
	}
	h.subscribers = make(map[string]map[string]*Subscription)
}

func (h *Hub) shard(projectID string) chan Event {
	f := fnv.New32a()
	f.Write([]byte(projectID))
	return h.queues[f.Sum32()%uint32(len(h.queues))]
}

func (h *Hub) worker(queue <-chan Event) {
	defer h.wg.Done()

	for {
		select {
		case <-h.stopCh:
			return
		case event := <-queue:
			h.fanOut(event)
		}
	}
}

// fanOut sends without blocking while holding the read lock, so a channel
// cannot be closed mid-send.
func (h *Hub) fanOut(event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subscribers[event.ProjectID] {
		select {
		case sub.events <- event:
			sub.delivered.Add(1)
		default:
			sub.dropped.Add(1)
			h.drop()
		}
	}
}

func (h *Hub) drop() {
	h.dropped.Add(1)
	h.metrics.IncEventDropped()
}
