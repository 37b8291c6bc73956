package models

import "time"

// Channel identifies the interaction channel a session belongs to.
type Channel string

const (
	ChannelUSSD    Channel = "ussd"
	ChannelVoice   Channel = "voice"
	ChannelSMS     Channel = "sms"
	ChannelPayment Channel = "payment"
)

// SessionRecord holds interaction state across invocations for multi-turn
// channels. At most one active record exists per (subscriber, channel).
type SessionRecord struct {
	SessionID      string         `json:"session_id"`
	Channel        Channel        `json:"channel"`
	Subscriber     string         `json:"subscriber"`
	Data           map[string]any `json:"data"`
	CreatedAt      time.Time      `json:"created_at"`
	LastActivityAt time.Time      `json:"last_activity_at"`
	ExpiresAt      *time.Time     `json:"expires_at,omitempty"`
	Active         bool           `json:"active"`
}

// Expired reports whether the record's TTL has elapsed at the given instant.
func (s *SessionRecord) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && now.After(*s.ExpiresAt)
}

// Clone returns a deep-enough copy so callers cannot mutate store state.
func (s *SessionRecord) Clone() *SessionRecord {
	cp := *s
	cp.Data = make(map[string]any, len(s.Data))
	for k, v := range s.Data {
		cp.Data[k] = v
	}
	if s.ExpiresAt != nil {
		exp := *s.ExpiresAt
		cp.ExpiresAt = &exp
	}
	return &cp
}
