package broadcast

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/logging"
)

const channelPrefix = "vcs:project:"

// Channel returns the redis channel carrying a project's events.
func Channel(projectID string) string {
	return channelPrefix + projectID
}

// relayMessage is the wire envelope. Origin identifies the publishing
// instance so it can ignore its own messages.
type relayMessage struct {
	Origin string `msgpack:"origin"`
	Event  Event  `msgpack:"event"`
}

// RedisRelay forwards locally published events to redis and delivers
// events published by other instances to the local hub.
type RedisRelay struct {
	client     *redis.Client
	hub        *Hub
	instanceID string
	logger     *logging.Logger

	outbound chan Event
	pubsub   *redis.PubSub
	timeout  time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewRedisClient parses a redis URL such as redis://localhost:6379/0.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	return redis.NewClient(opts), nil
}

// NewRedisRelay creates a relay for hub. Start must be called before it
// delivers anything.
func NewRedisRelay(client *redis.Client, hub *Hub, logger *logging.Logger) *RedisRelay {
	if logger == nil {
		logger = logging.Nop()
	}
	return &RedisRelay{
		client:     client,
		hub:        hub,
		instanceID: uuid.New().String(),
		logger:     logger.WithComponent("relay"),
		outbound:   make(chan Event, hub.config.QueueSize),
		timeout:    2 * time.Second,
		stopCh:     make(chan struct{}),
	}
}

// InstanceID identifies this relay on the wire.
func (r *RedisRelay) InstanceID() string {
	return r.instanceID
}

// Start subscribes to every project channel, installs the relay as the
// hub's forwarder and starts the publish and receive loops.
func (r *RedisRelay) Start(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}

	r.pubsub = r.client.PSubscribe(ctx, channelPrefix+"*")
	if _, err := r.pubsub.Receive(ctx); err != nil {
		r.pubsub.Close()
		return fmt.Errorf("redis subscribe failed: %w", err)
	}

	r.hub.SetForwarder(r)

	r.wg.Add(2)
	go r.publishLoop()
	go r.receiveLoop(r.pubsub.Channel())

	r.logger.WithField("instance_id", r.instanceID).Info("Redis event relay started")
	return nil
}

// Forward queues an event for publication. Events are dropped when the
// outbound queue is full.
func (r *RedisRelay) Forward(event Event) {
	select {
	case <-r.stopCh:
		return
	default:
	}
	select {
	case r.outbound <- event:
	default:
		r.hub.drop()
		r.logger.WithField("project_id", event.ProjectID).Warn("Relay queue full, dropping event")
	}
}

// Close stops both loops and the subscription.
func (r *RedisRelay) Close() error {
	var err error
	r.once.Do(func() {
		r.hub.SetForwarder(nil)
		close(r.stopCh)
		if r.pubsub != nil {
			err = r.pubsub.Close()
		}
		r.wg.Wait()
	})
	return err
}

func (r *RedisRelay) publishLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.stopCh:
			return
		case event := <-r.outbound:
			data, err := encodeMessage(relayMessage{Origin: r.instanceID, Event: event})
			if err != nil {
				r.logger.ErrorWithErr("Failed to encode relayed event", err)
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
			err = r.client.Publish(ctx, Channel(event.ProjectID), data).Err()
			cancel()
			if err != nil {
				r.logger.WithField("project_id", event.ProjectID).WarnWithErr("Failed to relay event", err)
			}
		}
	}
}

func (r *RedisRelay) receiveLoop(messages <-chan *redis.Message) {
	defer r.wg.Done()

	for {
		select {
		case <-r.stopCh:
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			var m relayMessage
			if err := msgpack.Unmarshal([]byte(msg.Payload), &m); err != nil {
				r.logger.WithField("channel", msg.Channel).WarnWithErr("Discarding undecodable relay message", err)
				continue
			}
			if m.Origin == r.instanceID {
				continue
			}
			if m.Event.ProjectID == "" {
				m.Event.ProjectID = strings.TrimPrefix(msg.Channel, channelPrefix)
			}
			r.hub.Deliver(m.Event)
		}
	}
}

// encodeMessage falls back to json tags so payload structs keep the field
// names websocket clients see.
func encodeMessage(m relayMessage) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
