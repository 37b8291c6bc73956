package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/telflow/telflow/common/models"
)

// MemoryStore is the in-process Store used by default and in tests.
// A single mutex guards the record map and the (subscriber, channel) index,
// making every operation a linearization point.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.SessionRecord
	// index maps subscriber|channel to the active session id.
	index map[string]string
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*models.SessionRecord),
		index:    make(map[string]string),
		now:      time.Now,
	}
}

func indexKey(subscriber string, channel models.Channel) string {
	return subscriber + "|" + string(channel)
}

func (s *MemoryStore) Create(ctx context.Context, channel models.Channel, subscriber string, initialData map[string]any, ttl time.Duration) (*models.SessionRecord, error) {
	return s.CreateWithID(ctx, uuid.NewString(), channel, subscriber, initialData, ttl)
}

func (s *MemoryStore) CreateWithID(_ context.Context, sessionID string, channel models.Channel, subscriber string, initialData map[string]any, ttl time.Duration) (*models.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := indexKey(subscriber, channel)
	if existingID, ok := s.index[key]; ok {
		existing := s.sessions[existingID]
		if existing != nil && existing.Active && !existing.Expired(s.now()) {
			return nil, ErrConflict
		}
		// Stale index entry, the sweep has not run yet.
		s.expireLocked(existing)
	}

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
	if ttl > 0 {
		exp := now.Add(ttl)
		rec.ExpiresAt = &exp
	}

	s.sessions[sessionID] = rec
	s.index[key] = sessionID
	return rec.Clone(), nil
}

func (s *MemoryStore) Get(_ context.Context, sessionID string) (*models.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.sessions[sessionID]
	if rec == nil || !rec.Active {
		return nil, nil
	}
	if rec.Expired(s.now()) {
		s.expireLocked(rec)
		return nil, nil
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) FindActive(_ context.Context, subscriber string, channel models.Channel) (*models.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.index[indexKey(subscriber, channel)]
	if !ok {
		return nil, nil
	}
	rec := s.sessions[id]
	if rec == nil || !rec.Active {
		return nil, nil
	}
	if rec.Expired(s.now()) {
		s.expireLocked(rec)
		return nil, nil
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) UpdateData(_ context.Context, sessionID string, data map[string]any, replace bool) (*models.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.sessions[sessionID]
	if rec == nil || !rec.Active || rec.Expired(s.now()) {
		if rec != nil && rec.Expired(s.now()) {
			s.expireLocked(rec)
		}
		return nil, ErrNotFound
	}
	if replace {
		rec.Data = map[string]any{}
	}
	for k, v := range data {
		rec.Data[k] = v
	}
	rec.LastActivityAt = s.now()
	return rec.Clone(), nil
}

func (s *MemoryStore) Touch(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.sessions[sessionID]
	if rec == nil || !rec.Active || rec.Expired(s.now()) {
		return nil
	}
	rec.LastActivityAt = s.now()
	return nil
}

func (s *MemoryStore) End(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.sessions[sessionID]
	if rec == nil {
		return nil
	}
	s.expireLocked(rec)
	return nil
}

func (s *MemoryStore) Sweep(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	ended := 0
	for _, rec := range s.sessions {
		if rec.Active && rec.Expired(now) {
			s.expireLocked(rec)
			ended++
		}
	}
	return ended, nil
}

// expireLocked deactivates the record and clears its index slot.
// Callers hold the write lock.
func (s *MemoryStore) expireLocked(rec *models.SessionRecord) {
	if rec == nil {
		return
	}
	rec.Active = false
	key := indexKey(rec.Subscriber, rec.Channel)
	if s.index[key] == rec.SessionID {
		delete(s.index, key)
	}
}
