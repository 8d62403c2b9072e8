package sessions

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/patient-portal/internal/appointments"
	"github.com/wolfman30/patient-portal/pkg/logging"
)

// DefaultDraftTTL bounds how long an abandoned draft is kept.
const DefaultDraftTTL = 24 * time.Hour

var (
	_ appointments.DraftStore = (*RedisDraftStore)(nil)
	_ appointments.DraftStore = (*MemoryDraftStore)(nil)
)

// RedisOptions configures the draft store connection.
type RedisOptions struct {
	Addr     string
	Password string
	TLS      bool
}

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, opts RedisOptions, logger *logging.Logger, verify bool) *redis.Client {
	if strings.TrimSpace(opts.Addr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	redisOptions := &redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
	}
	if opts.TLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		client.Close()
		return nil
	}
	return client
}

// RedisDraftStore persists booking drafts in Redis as JSON.
type RedisDraftStore struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewRedisDraftStore creates a Redis-backed draft store.
func NewRedisDraftStore(client *redis.Client, ttl time.Duration) *RedisDraftStore {
	if ttl <= 0 {
		ttl = DefaultDraftTTL
	}
	return &RedisDraftStore{redis: client, ttl: ttl}
}

func (s *RedisDraftStore) key(patientID string) string {
	return fmt.Sprintf("portal:draft:%s", patientID)
}

// Load returns the stored draft, or nil when none exists.
func (s *RedisDraftStore) Load(ctx context.Context, patientID string) (*appointments.Draft, error) {
	data, err := s.redis.Get(ctx, s.key(patientID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sessions: get draft: %w", err)
	}

	var draft appointments.Draft
	if err := json.Unmarshal(data, &draft); err != nil {
		return nil, fmt.Errorf("sessions: unmarshal draft: %w", err)
	}
	return &draft, nil
}

// Save stores draft and refreshes its expiry. A zero draft is deleted instead.
func (s *RedisDraftStore) Save(ctx context.Context, patientID string, draft appointments.Draft) error {
	if draft.IsZero() {
		return s.Delete(ctx, patientID)
	}
	data, err := json.Marshal(draft)
	if err != nil {
		return fmt.Errorf("sessions: marshal draft: %w", err)
	}
	if err := s.redis.Set(ctx, s.key(patientID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("sessions: set draft: %w", err)
	}
	return nil
}

// Delete removes the stored draft.
func (s *RedisDraftStore) Delete(ctx context.Context, patientID string) error {
	if err := s.redis.Del(ctx, s.key(patientID)).Err(); err != nil {
		return fmt.Errorf("sessions: delete draft: %w", err)
	}
	return nil
}

type memoryDraft struct {
	draft     appointments.Draft
	expiresAt time.Time
}

// MemoryDraftStore keeps drafts in process. Used when Redis is not configured.
// Expired entries are dropped on Load and swept on Save at most once per sweep interval.
type MemoryDraftStore struct {
	mu        sync.Mutex
	ttl       time.Duration
	now       func() time.Time
	drafts    map[string]memoryDraft
	nextSweep time.Time
}

// NewMemoryDraftStore creates an in-memory draft store.
func NewMemoryDraftStore(ttl time.Duration) *MemoryDraftStore {
	if ttl <= 0 {
		ttl = DefaultDraftTTL
	}
	return &MemoryDraftStore{
		ttl:    ttl,
		now:    time.Now,
		drafts: make(map[string]memoryDraft),
	}
}

// Load returns the stored draft, or nil when none exists or it has expired.
func (s *MemoryDraftStore) Load(_ context.Context, patientID string) (*appointments.Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.drafts[patientID]
	if !ok {
		return nil, nil
	}
	if !s.now().Before(entry.expiresAt) {
		delete(s.drafts, patientID)
		return nil, nil
	}
	draft := entry.draft
	return &draft, nil
}

// Save stores the draft with the store TTL. A zero draft deletes the entry.
func (s *MemoryDraftStore) Save(_ context.Context, patientID string, draft appointments.Draft) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now := s.now(); !now.Before(s.nextSweep) {
		s.sweepLocked(now)
		s.nextSweep = now.Add(min(s.ttl, time.Minute))
	}
	if draft.IsZero() {
		delete(s.drafts, patientID)
		return nil
	}
	s.drafts[patientID] = memoryDraft{draft: draft, expiresAt: s.now().Add(s.ttl)}
	return nil
}

// Delete removes the stored draft.
func (s *MemoryDraftStore) Delete(_ context.Context, patientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.drafts, patientID)
	return nil
}

// Sweep drops expired drafts and returns how many it removed.
func (s *MemoryDraftStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(s.now())
}

func (s *MemoryDraftStore) sweepLocked(now time.Time) int {
	removed := 0
	for id, entry := range s.drafts {
		if !now.Before(entry.expiresAt) {
			delete(s.drafts, id)
			removed++
		}
	}
	return removed
}
