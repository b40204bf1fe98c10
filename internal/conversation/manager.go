package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/atelier-ai/atelier/internal/metrics"
	"github.com/atelier-ai/atelier/internal/workflow"
)

// Manager keeps active conversations in Redis with a local cache in front.
// Redis is the source of truth; the local map only saves round trips for
// the conversation the user is currently typing into.
type Manager struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration

	mu          sync.RWMutex
	localCache  map[string]*Conversation
	cacheAccess map[string]time.Time
	maxCached   int
}

// maxHistory caps the per-conversation history kept hot. Older messages
// remain in the database and are served from there.
const maxHistory = 100

// NewManager wires a conversation manager on an existing Redis client.
func NewManager(client *redis.Client, ttl time.Duration, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &Manager{
		client:      client,
		logger:      logger,
		ttl:         ttl,
		localCache:  make(map[string]*Conversation),
		cacheAccess: make(map[string]time.Time),
		maxCached:   1000,
	}, nil
}

// Create starts a new conversation.
func (m *Manager) Create(ctx context.Context, mode workflow.Mode, personaID, workflowID string) (*Conversation, error) {
	now := time.Now()
	conv := &Conversation{
		ID:         uuid.New().String(),
		Mode:       mode,
		PersonaID:  personaID,
		WorkflowID: workflowID,
		CreatedAt:  now,
		UpdatedAt:  now,
		ExpiresAt:  now.Add(m.ttl),
		History:    make([]Message, 0),
		Context:    make(map[string]any),
	}

	if err := m.save(ctx, conv); err != nil {
		return nil, fmt.Errorf("save conversation: %w", err)
	}

	m.mu.Lock()
	m.localCache[conv.ID] = conv
	m.cacheAccess[conv.ID] = now
	m.evictStale()
	metrics.ConversationCacheSize.Set(float64(len(m.localCache)))
	m.mu.Unlock()

	m.logger.Info("Created conversation",
		zap.String("conversation_id", conv.ID),
		zap.String("mode", string(mode)),
	)
	metrics.ConversationsCreated.Inc()
	return conv, nil
}

// Get retrieves a conversation, local cache first.
func (m *Manager) Get(ctx context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	if conv, ok := m.localCache[id]; ok {
		m.mu.RUnlock()
		metrics.ConversationCacheHits.Inc()
		if conv.IsExpired() {
			m.Delete(ctx, id)
			return nil, ErrConversationExpired
		}
		m.mu.Lock()
		m.cacheAccess[id] = time.Now()
		m.mu.Unlock()
		return conv, nil
	}
	m.mu.RUnlock()
	metrics.ConversationCacheMisses.Inc()

	data, err := m.client.Get(ctx, conversationKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrConversationNotFound
	} else if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}

	var conv Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, fmt.Errorf("unmarshal conversation: %w", err)
	}
	if conv.IsExpired() {
		m.Delete(ctx, id)
		return nil, ErrConversationExpired
	}

	m.mu.Lock()
	m.localCache[id] = &conv
	m.cacheAccess[id] = time.Now()
	m.evictStale()
	metrics.ConversationCacheSize.Set(float64(len(m.localCache)))
	m.mu.Unlock()

	return &conv, nil
}

// Update persists a mutated conversation and refreshes the cache entry.
func (m *Manager) Update(ctx context.Context, conv *Conversation) error {
	if conv == nil {
		return fmt.Errorf("conversation is nil")
	}
	conv.UpdatedAt = time.Now()

	if err := m.save(ctx, conv); err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}

	m.mu.Lock()
	m.localCache[conv.ID] = conv
	m.mu.Unlock()
	return nil
}

// AppendMessage adds a message to the conversation's hot history, trimming
// the oldest entries past the cap.
func (m *Manager) AppendMessage(ctx context.Context, id string, msg Message) error {
	conv, err := m.Get(ctx, id)
	if err != nil {
		return err
	}

	conv.History = append(conv.History, msg)
	if len(conv.History) > maxHistory {
		conv.History = conv.History[len(conv.History)-maxHistory:]
	}
	return m.Update(ctx, conv)
}

// Touch extends the conversation's TTL.
func (m *Manager) Touch(ctx context.Context, id string) error {
	conv, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	conv.ExpiresAt = time.Now().Add(m.ttl)
	return m.Update(ctx, conv)
}

// Delete removes a conversation from Redis and the local cache.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := m.client.Del(ctx, conversationKey(id)).Err(); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}

	m.mu.Lock()
	delete(m.localCache, id)
	delete(m.cacheAccess, id)
	metrics.ConversationCacheSize.Set(float64(len(m.localCache)))
	m.mu.Unlock()

	m.logger.Info("Deleted conversation", zap.String("conversation_id", id))
	return nil
}

// List scans for all live conversations. Used by the sidebar; the desktop
// deployment keeps the keyspace small enough for SCAN to be cheap.
func (m *Manager) List(ctx context.Context) ([]*Conversation, error) {
	var (
		out    []*Conversation
		cursor uint64
	)
	for {
		keys, next, err := m.client.Scan(ctx, cursor, "conversation:*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan conversations: %w", err)
		}
		for _, key := range keys {
			data, err := m.client.Get(ctx, key).Bytes()
			if err != nil {
				continue
			}
			var conv Conversation
			if err := json.Unmarshal(data, &conv); err != nil {
				continue
			}
			if !conv.IsExpired() {
				out = append(out, &conv)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return out, nil
}

// Close releases the Redis client.
func (m *Manager) Close() error {
	return m.client.Close()
}

func conversationKey(id string) string {
	return fmt.Sprintf("conversation:%s", id)
}

func (m *Manager) save(ctx context.Context, conv *Conversation) error {
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("marshal conversation: %w", err)
	}

	ttl := time.Until(conv.ExpiresAt)
	if ttl <= 0 {
		ttl = m.ttl
	}
	return m.client.Set(ctx, conversationKey(conv.ID), data, ttl).Err()
}

// evictStale drops the least recently used half of the cache when it grows
// past the cap. Caller holds m.mu.
func (m *Manager) evictStale() {
	if len(m.localCache) <= m.maxCached {
		return
	}

	type accessEntry struct {
		id   string
		time time.Time
	}
	entries := make([]accessEntry, 0, len(m.localCache))
	for id := range m.localCache {
		at, ok := m.cacheAccess[id]
		if !ok {
			at = time.Time{}
		}
		entries = append(entries, accessEntry{id: id, time: at})
	}

	for i := 0; i < len(entries)-1; i++ {
		for j := i + 1; j < len(entries); j++ {
			if entries[j].time.Before(entries[i].time) {
				entries[i], entries[j] = entries[j], entries[i]
			}
		}
	}

	toRemove := m.maxCached / 2
	for i := 0; i < toRemove && i < len(entries); i++ {
		delete(m.localCache, entries[i].id)
		delete(m.cacheAccess, entries[i].id)
		metrics.ConversationCacheEvictions.Inc()
	}
}
