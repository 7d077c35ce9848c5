// Package notifications fans confirmed-write events out to in-process
// subscribers and connected websocket clients.
package notifications

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Publisher is implemented by anything that accepts confirmed-write events.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// Broadcaster delivers websocket messages. websocket.Manager implements it.
type Broadcaster interface {
	Broadcast(message WebSocketMessage) error
	SendToAccount(address string, message WebSocketMessage) (int, error)
}

// Service provides notification business logic
type Service struct {
	broadcaster Broadcaster
	logger      *zap.Logger

	mu          sync.RWMutex
	subscribers map[string]func(Event)
}

var _ Publisher = (*Service)(nil)

// NewService creates a new notification service. broadcaster may be nil.
func NewService(broadcaster Broadcaster, logger *zap.Logger) *Service {
	return &Service{
		broadcaster: broadcaster,
		logger:      logger,
		subscribers: make(map[string]func(Event)),
	}
}

// Subscribe registers fn for every published event and returns a function
// that removes it.
func (s *Service) Subscribe(fn func(Event)) func() {
	id := uuid.New().String()
	s.mu.Lock()
	s.subscribers[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
	}
}

// Publish stamps the event and delivers it. Delivery failures are logged.
func (s *Service) Publish(ctx context.Context, event Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	s.mu.RLock()
	subs := make([]func(Event), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	s.mu.RUnlock()
	for _, fn := range subs {
		fn(event)
	}

	if s.broadcaster == nil {
		return
	}
	msg := ToMessage(event)
	if err := s.broadcaster.Broadcast(msg); err != nil {
		s.logger.Warn("Failed to broadcast event",
			zap.String("event_id", event.ID),
			zap.String("type", string(event.Type)),
			zap.Error(err))
	}
	for _, addr := range event.Accounts {
		accountMsg := msg
		accountMsg.Channel = ChannelAccount
		if _, err := s.broadcaster.SendToAccount(addr, accountMsg); err != nil {
			s.logger.Debug("Account delivery skipped",
				zap.String("account", addr),
				zap.Error(err))
		}
	}
}

// ToMessage renders an event as a websocket message.
func ToMessage(event Event) WebSocketMessage {
	data := map[string]interface{}{
		"id":         event.ID,
		"event_type": string(event.Type),
		"accounts":   event.Accounts,
	}
	if event.Signature != "" {
		data["signature"] = event.Signature
	}
	for k, v := range event.Data {
		data[k] = v
	}
	return WebSocketMessage{
		Type:      WSMessageTypeEvent,
		Data:      data,
		Timestamp: event.Timestamp,
		Channel:   ChannelBroadcast,
		Source:    event.Actor,
	}
}

// Recorder collects events in memory. Tests use it as a Publisher.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(ctx context.Context, event Event) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}
