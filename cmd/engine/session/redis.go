package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/telflow/telflow/common/models"
	"github.com/telflow/telflow/common/redis"
)

const (
	sessionKeyPrefix = "session:rec:"
	indexKeyPrefix   = "session:idx:"
	// endedRetention keeps an ended record readable for a short window so
	// callers that race End still observe the final data before eviction.
	endedRetention = 5 * time.Minute
)

// RedisStore keeps sessions in Redis so multiple engine instances share
// interaction state. Records are JSON values under session:rec:{id}; the
// (subscriber, channel) slot is a session:idx:{channel}:{subscriber} key
// claimed with SET NX, which is what enforces the single-active invariant.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

func recordKey(sessionID string) string {
	return sessionKeyPrefix + sessionID
}

func slotKey(channel models.Channel, subscriber string) string {
	return fmt.Sprintf("%s%s:%s", indexKeyPrefix, channel, subscriber)
}

func (s *RedisStore) Create(ctx context.Context, channel models.Channel, subscriber string, initialData map[string]any, ttl time.Duration) (*models.SessionRecord, error) {
	return s.CreateWithID(ctx, uuid.NewString(), channel, subscriber, initialData, ttl)
}

func (s *RedisStore) CreateWithID(ctx context.Context, sessionID string, channel models.Channel, subscriber string, initialData map[string]any, ttl time.Duration) (*models.SessionRecord, error) {
	now := s.now()
	rec := &models.SessionRecord{
		SessionID:      sessionID,
		Channel:        channel,
		Subscriber:     subscriber,
		Data:           map[string]any{},
		CreatedAt:      now,
		LastActivityAt: now,
		Active:         true,
	}
	for k, v := range initialData {
		rec.Data[k] = v
	}
	slotTTL := ttl
	if ttl > 0 {
		exp := now.Add(ttl)
		rec.ExpiresAt = &exp
	} else {
		slotTTL = 24 * time.Hour
	}

	acquired, err := s.client.SetNX(ctx, slotKey(channel, subscriber), sessionID, slotTTL)
	if err != nil {
		return nil, fmt.Errorf("claiming session slot: %w", err)
	}
	if !acquired {
		return nil, ErrConflict
	}
	if err := s.save(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *RedisStore) Get(ctx context.Context, sessionID string) (*models.SessionRecord, error) {
	rec, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if rec == nil || !rec.Active {
		return nil, nil
	}
	if rec.Expired(s.now()) {
		if err := s.End(ctx, sessionID); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return rec, nil
}

func (s *RedisStore) FindActive(ctx context.Context, subscriber string, channel models.Channel) (*models.SessionRecord, error) {
	raw, err := s.client.Get(ctx, slotKey(channel, subscriber))
	if err != nil {
		if errors.Is(err, redis.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return s.Get(ctx, raw)
}

func (s *RedisStore) UpdateData(ctx context.Context, sessionID string, data map[string]any, replace bool) (*models.SessionRecord, error) {
	rec, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrNotFound
	}
	if replace {
		rec.Data = map[string]any{}
	}
	for k, v := range data {
		rec.Data[k] = v
	}
	rec.LastActivityAt = s.now()
	if err := s.save(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *RedisStore) Touch(ctx context.Context, sessionID string) error {
	rec, err := s.Get(ctx, sessionID)
	if err != nil || rec == nil {
		return err
	}
	rec.LastActivityAt = s.now()
	return s.save(ctx, rec)
}

func (s *RedisStore) End(ctx context.Context, sessionID string) error {
	rec, err := s.load(ctx, sessionID)
	if err != nil || rec == nil {
		return err
	}
	rec.Active = false
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling session: %w", err)
	}
	if err := s.client.SetWithExpiry(ctx, recordKey(sessionID), string(data), endedRetention); err != nil {
		return err
	}

	// Free the slot only if this session still owns it.
	slot := slotKey(rec.Channel, rec.Subscriber)
	owner, err := s.client.Get(ctx, slot)
	if err != nil {
		if errors.Is(err, redis.ErrNotFound) {
			return nil
		}
		return err
	}
	if owner == sessionID {
		return s.client.Delete(ctx, slot)
	}
	return nil
}

// Sweep is a no-op for Redis: key TTLs evict expired records and Get
// deactivates on read.
func (s *RedisStore) Sweep(context.Context) (int, error) {
	return 0, nil
}

func (s *RedisStore) load(ctx context.Context, sessionID string) (*models.SessionRecord, error) {
	raw, err := s.client.Get(ctx, recordKey(sessionID))
	if err != nil {
		if errors.Is(err, redis.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var rec models.SessionRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("unmarshaling session %s: %w", sessionID, err)
	}
	return &rec, nil
}

func (s *RedisStore) save(ctx context.Context, rec *models.SessionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling session: %w", err)
	}
	ttl := time.Duration(0)
	if rec.ExpiresAt != nil {
		ttl = rec.ExpiresAt.Sub(s.now())
		if ttl <= 0 {
			ttl = time.Second
		}
	}
	return s.client.SetWithExpiry(ctx, recordKey(rec.SessionID), string(data), ttl)
}
