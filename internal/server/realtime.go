package server

import (
	"context"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/murmur/backend/internal/voting"
)

const (
	RealtimeEventScore     = "score"
	realtimeEventHeartbeat = "heartbeat"
	realtimeSourceBackend  = "murmur-backend"

	defaultRealtimeBuffer = 16
)

// RealtimeMessage is one event for the subscribers of a single post or comment.
type RealtimeMessage struct {
	TargetKey string
	EventType string
	Score     scorePayload
	Outcome   string
	Timestamp time.Time
}

// RealtimeDispatcher fans committed score changes out to stream subscribers, keyed by target.
// Slow subscribers drop messages instead of blocking the publisher.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
}

type realtimeSubscriber struct {
	id     int64
	stream chan RealtimeMessage
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[string]map[int64]*realtimeSubscriber),
		bufferSize:  defaultRealtimeBuffer,
	}
}

// Subscribe registers a stream for the target key until ctx is done or cleanup is called.
func (d *RealtimeDispatcher) Subscribe(ctx context.Context, targetKey string) (<-chan RealtimeMessage, func()) {
	if targetKey == "" {
		ch := make(chan RealtimeMessage)
		close(ch)
		return ch, func() {}
	}
	subscriber := &realtimeSubscriber{
		id:     d.nextSequence(),
		stream: make(chan RealtimeMessage, d.bufferSize),
	}
	d.registerSubscriber(targetKey, subscriber)
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregisterSubscriber(targetKey, subscriber.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// PublishScore implements voting.Publisher.
func (d *RealtimeDispatcher) PublishScore(event voting.ScoreEvent) {
	d.Publish(RealtimeMessage{
		TargetKey: event.Target.Key(),
		EventType: RealtimeEventScore,
		Score:     newScorePayload(event.Tally),
		Outcome:   string(event.Outcome),
		Timestamp: event.OccurredAt,
	})
}

func (d *RealtimeDispatcher) Publish(message RealtimeMessage) {
	if message.TargetKey == "" || message.EventType == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[message.TargetKey]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*realtimeSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

// SubscriberCount reports the live subscriptions for a target key.
func (d *RealtimeDispatcher) SubscriberCount(targetKey string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[targetKey])
}

func (d *RealtimeDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *RealtimeDispatcher) registerSubscriber(targetKey string, subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[targetKey]; !ok {
		d.subscribers[targetKey] = make(map[int64]*realtimeSubscriber)
	}
	d.subscribers[targetKey][subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(targetKey string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[targetKey]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, targetKey)
		}
	}
	d.mu.Unlock()
}
