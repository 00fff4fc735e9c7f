package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/puzed/darkauth-sub006/internal/models"
)

const opaqueLoginSessionKeyPrefix = "darkauth:opaque-login:"

type opaqueLoginSessionWire struct {
	ActorClass      models.ActorClass `json:"actorClass"`
	ServerState     []byte            `json:"serverState"`
	IdentityUSealed []byte            `json:"identityUSealed"`
}

// CreateOpaqueLoginSession stashes the server-held AKE intermediates in
// Redis under a fresh random id with a TTL of at most 120s; Redis's own
// expiry enforces the TTL so no janitor sweep is needed for this table.
func (s *Store) CreateOpaqueLoginSession(ctx context.Context, sess *models.OpaqueLoginSession) error {
	if s.cache == nil {
		return fmt.Errorf("opaque login session cache not attached to store")
	}
	payload, err := json.Marshal(opaqueLoginSessionWire{
		ActorClass:      sess.ActorClass,
		ServerState:     sess.ServerState,
		IdentityUSealed: sess.IdentityUSealed,
	})
	if err != nil {
		return fmt.Errorf("marshal opaque login session: %w", err)
	}
	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Second
	}
	if err := s.cache.SetTTL(ctx, opaqueLoginSessionKeyPrefix+sess.SessionID, payload, ttl); err != nil {
		return fmt.Errorf("cache opaque login session: %w", err)
	}
	return nil
}

// ConsumeOpaqueLoginSession atomically fetches and deletes the Redis entry
// addressed by sessionID (GETDEL), giving single-consumer semantics: a
// parallel finish for the same id loses the race and sees a miss.
func (s *Store) ConsumeOpaqueLoginSession(ctx context.Context, sessionID string) (*models.OpaqueLoginSession, error) {
	if s.cache == nil {
		return nil, fmt.Errorf("opaque login session cache not attached to store")
	}
	raw, ok, err := s.cache.GetDel(ctx, opaqueLoginSessionKeyPrefix+sessionID)
	if err != nil {
		return nil, fmt.Errorf("consume opaque login session: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var wire opaqueLoginSessionWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("unmarshal opaque login session: %w", err)
	}
	return &models.OpaqueLoginSession{
		SessionID:       sessionID,
		ActorClass:      wire.ActorClass,
		ServerState:     wire.ServerState,
		IdentityUSealed: wire.IdentityUSealed,
	}, nil
}
