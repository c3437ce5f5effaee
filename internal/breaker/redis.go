package breaker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultStateChannel is the pub/sub channel state changes are published on.
	DefaultStateChannel = "breaker:events"
	// DefaultStateKey is the hash holding the last known state per dependency.
	DefaultStateKey = "breaker:states"
)

// StateChangeEvent is the payload published for each transition.
type StateChangeEvent struct {
	Instance string    `json:"instance"`
	Name     string    `json:"name"`
	From     State     `json:"from"`
	To       State     `json:"to"`
	At       time.Time `json:"at"`
}

// RedisPublisher shares breaker transitions with other instances through
// Redis. OnStateChange only enqueues; a background goroutine does the I/O.
type RedisPublisher struct {
	client   *redis.Client
	instance string
	channel  string
	key      string
	events   chan StateChangeEvent
	logger   *slog.Logger

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewRedisPublisher starts a publisher. instance identifies this process in events.
func NewRedisPublisher(client *redis.Client, instance string, logger *slog.Logger) *RedisPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	p := &RedisPublisher{
		client:   client,
		instance: instance,
		channel:  DefaultStateChannel,
		key:      DefaultStateKey,
		events:   make(chan StateChangeEvent, 64),
		logger:   logger.With("component", "breaker-publisher"),
		done:     make(chan struct{}),
	}
	p.wg.Add(1)
	go p.run()
	return p
}

// OnStateChange implements Observer. Events are dropped when the buffer is full.
func (p *RedisPublisher) OnStateChange(name string, from, to State, at time.Time) {
	ev := StateChangeEvent{Instance: p.instance, Name: name, From: from, To: to, At: at.UTC()}
	select {
	case p.events <- ev:
	default:
		p.logger.Warn("dropping breaker state event", "breaker", name, "to", to)
	}
}

func (p *RedisPublisher) run() {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case ev := <-p.events:
			p.publish(ev)
		}
	}
}

func (p *RedisPublisher) publish(ev StateChangeEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("failed to encode breaker event", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err = p.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, p.key, ev.Name, string(ev.To))
		pipe.Publish(ctx, p.channel, payload)
		return nil
	})
	if err != nil {
		p.logger.Warn("failed to publish breaker event", "breaker", ev.Name, "error", err)
	}
}

// SharedStates reads the last published state of every dependency.
func (p *RedisPublisher) SharedStates(ctx context.Context) (map[string]State, error) {
	raw, err := p.client.HGetAll(ctx, p.key).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]State, len(raw))
	for name, s := range raw {
		out[name] = State(s)
	}
	return out, nil
}

// Close stops the background goroutine. Pending events are discarded.
func (p *RedisPublisher) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
	})
	p.wg.Wait()
}
