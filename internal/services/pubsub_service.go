package services

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
)

// PubSubService manages Redis pub/sub for cross-instance notifications.
// A query may be dispatched on one instance while the client's WebSocket
// lives on another; answer-ready events travel through here.
type PubSubService struct {
	redis      *RedisService
	pubsub     *redis.PubSub
	handlers   map[string][]MessageHandler
	mu         sync.RWMutex
	instanceID string
	ctx        context.Context
	cancel     context.CancelFunc
}

// MessageHandler is a callback for handling pub/sub messages
type MessageHandler func(channel string, message *PubSubMessage)

// PubSubMessage represents a message sent via pub/sub
type PubSubMessage struct {
	Type          string                 `json:"type"` // e.g. "answer_ready"
	UserID        string                 `json:"userId"`
	CorrelationID string                 `json:"correlationId,omitempty"`
	InstanceID    string                 `json:"instanceId"` // source instance
	Payload       map[string]interface{} `json:"payload,omitempty"`
}

// NewPubSubService creates a new pub/sub service
func NewPubSubService(redisService *RedisService, instanceID string) *PubSubService {
	ctx, cancel := context.WithCancel(context.Background())
	return &PubSubService{
		redis:      redisService,
		handlers:   make(map[string][]MessageHandler),
		instanceID: instanceID,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Subscribe registers a handler for a channel pattern (e.g. "user:*:events")
func (s *PubSubService) Subscribe(pattern string, handler MessageHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.handlers[pattern] = append(s.handlers[pattern], handler)
	log.Printf("📡 [PUBSUB] Subscribed to pattern: %s", pattern)
}

// Start begins listening for pub/sub messages
func (s *PubSubService) Start() error {
	client := s.redis.Client()

	s.pubsub = client.PSubscribe(s.ctx, "user:*:events")

	// Wait for subscription confirmation
	if _, err := s.pubsub.Receive(s.ctx); err != nil {
		return err
	}

	go s.processMessages()

	log.Printf("✅ [PUBSUB] Started listening for messages (instance: %s)", s.instanceID)
	return nil
}

func (s *PubSubService) processMessages() {
	ch := s.pubsub.Channel()

	for {
		select {
		case <-s.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			s.handleMessage(msg)
		}
	}
}

func (s *PubSubService) handleMessage(msg *redis.Message) {
	var message PubSubMessage
	if err := json.Unmarshal([]byte(msg.Payload), &message); err != nil {
		log.Printf("⚠️ [PUBSUB] Failed to unmarshal message: %v", err)
		return
	}

	// Skip messages from this instance (local delivery already happened)
	if message.InstanceID == s.instanceID {
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for pattern, handlers := range s.handlers {
		if matchPattern(pattern, msg.Channel) {
			for _, handler := range handlers {
				go handler(msg.Channel, &message)
			}
		}
	}
}

// PublishToUser publishes a message to a user's event channel
func (s *PubSubService) PublishToUser(ctx context.Context, userID, msgType, correlationID string, payload map[string]interface{}) error {
	message := &PubSubMessage{
		Type:          msgType,
		UserID:        userID,
		CorrelationID: correlationID,
		InstanceID:    s.instanceID,
		Payload:       payload,
	}

	data, err := json.Marshal(message)
	if err != nil {
		return err
	}

	channel := "user:" + userID + ":events"
	return s.redis.Client().Publish(ctx, channel, data).Err()
}

// Stop stops the pub/sub service
func (s *PubSubService) Stop() error {
	s.cancel()
	if s.pubsub != nil {
		return s.pubsub.Close()
	}
	return nil
}

// matchPattern checks if a channel matches a pattern like "user:*:events"
func matchPattern(pattern, channel string) bool {
	if pattern == channel {
		return true
	}

	patternParts := splitChannel(pattern)
	channelParts := splitChannel(channel)

	if len(patternParts) != len(channelParts) {
		return false
	}

	for i, part := range patternParts {
		if part != "*" && part != channelParts[i] {
			return false
		}
	}

	return true
}

// splitChannel splits a channel name by ":"
func splitChannel(channel string) []string {
	var parts []string
	current := ""
	for _, c := range channel {
		if c == ':' {
			parts = append(parts, current)
			current = ""
		} else {
			current += string(c)
		}
	}
	parts = append(parts, current)
	return parts
}
