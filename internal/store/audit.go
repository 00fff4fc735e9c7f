package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/puzed/darkauth-sub006/internal/models"
)

// InsertAuditEntry appends an audit row; audit entries are never updated or
// deleted by application code.
func (s *Store) InsertAuditEntry(ctx context.Context, e *models.AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}
	_, err = s.Pool.Exec(ctx, `
		INSERT INTO audit_entries
			(id, event_type, actor_class, actor_id, actor_email, resource_type, resource_id,
			 success, ip, user_agent, timestamp, details)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		e.ID, e.EventType, string(e.ActorClass), e.ActorID, e.ActorEmail, e.ResourceType, e.ResourceID,
		e.Success, e.IP, e.UserAgent, e.Timestamp, details)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// AuditListFilter narrows ListAuditEntries for the admin audit log surface.
type AuditListFilter struct {
	ActorID   string
	EventType string
	Success   *bool
	Limit     int
	Offset    int
}

// ListAuditEntries returns a page of audit entries, most recent first.
func (s *Store) ListAuditEntries(ctx context.Context, f AuditListFilter) ([]*models.AuditEntry, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Limit > 10000 {
		f.Limit = 10000
	}
	query := `SELECT id, event_type, actor_class, actor_id, actor_email, resource_type, resource_id,
		success, ip, user_agent, timestamp, details FROM audit_entries WHERE 1=1`
	args := []interface{}{}
	if f.ActorID != "" {
		args = append(args, f.ActorID)
		query += fmt.Sprintf(" AND actor_id = $%d", len(args))
	}
	if f.EventType != "" {
		args = append(args, f.EventType)
		query += fmt.Sprintf(" AND event_type = $%d", len(args))
	}
	if f.Success != nil {
		args = append(args, *f.Success)
		query += fmt.Sprintf(" AND success = $%d", len(args))
	}
	args = append(args, f.Limit)
	query += fmt.Sprintf(" ORDER BY timestamp DESC LIMIT $%d", len(args))
	args = append(args, f.Offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var out []*models.AuditEntry
	for rows.Next() {
		e := &models.AuditEntry{}
		var actorClass string
		var details []byte
		if err := rows.Scan(&e.ID, &e.EventType, &actorClass, &e.ActorID, &e.ActorEmail,
			&e.ResourceType, &e.ResourceID, &e.Success, &e.IP, &e.UserAgent, &e.Timestamp, &details); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.ActorClass = models.ActorClass(actorClass)
		if len(details) > 0 {
			_ = json.Unmarshal(details, &e.Details)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetAuditEntry loads a single audit entry by id.
func (s *Store) GetAuditEntry(ctx context.Context, id string) (*models.AuditEntry, error) {
	e := &models.AuditEntry{}
	var actorClass string
	var details []byte
	err := s.Pool.QueryRow(ctx, `
		SELECT id, event_type, actor_class, actor_id, actor_email, resource_type, resource_id,
			success, ip, user_agent, timestamp, details FROM audit_entries WHERE id = $1`, id).
		Scan(&e.ID, &e.EventType, &actorClass, &e.ActorID, &e.ActorEmail,
			&e.ResourceType, &e.ResourceID, &e.Success, &e.IP, &e.UserAgent, &e.Timestamp, &details)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get audit entry: %w", err)
	}
	e.ActorClass = models.ActorClass(actorClass)
	if len(details) > 0 {
		_ = json.Unmarshal(details, &e.Details)
	}
	return e, nil
}
