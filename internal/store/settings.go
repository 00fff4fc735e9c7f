package store

import (
	"context"
	"fmt"

	"github.com/puzed/darkauth-sub006/internal/models"
)

// GetSetting satisfies settings.Store.
func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.Pool.QueryRow(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if isNoRows(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get setting %s: %w", key, err)
	}
	return value, true, nil
}

// PutSetting satisfies settings.Store; it upserts, leaving category/type/
// default/secure metadata untouched if the row already declares them.
func (s *Store) PutSetting(ctx context.Context, key, value string) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO settings (key, category, type, value, default_value, secure)
		VALUES ($1, 'general', 'string', $2, $2, false)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, value)
	if err != nil {
		return fmt.Errorf("put setting %s: %w", key, err)
	}
	return nil
}

// DescribeSetting returns the full typed row, used by the admin settings
// surface, including secure-value redaction.
func (s *Store) DescribeSetting(ctx context.Context, key string) (*models.Setting, error) {
	var st models.Setting
	err := s.Pool.QueryRow(ctx, `
		SELECT key, category, type, value, default_value, secure FROM settings WHERE key = $1`, key).
		Scan(&st.Key, &st.Category, &st.Type, &st.Value, &st.DefaultValue, &st.Secure)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("describe setting %s: %w", key, err)
	}
	return &st, nil
}

// ListSettings returns every setting row, redacting secure values unless
// includeSecure is set (admin UI with elevated scope only).
func (s *Store) ListSettings(ctx context.Context, includeSecure bool) ([]*models.Setting, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT key, category, type, value, default_value, secure FROM settings ORDER BY category, key`)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	defer rows.Close()

	var out []*models.Setting
	for rows.Next() {
		st := &models.Setting{}
		if err := rows.Scan(&st.Key, &st.Category, &st.Type, &st.Value, &st.DefaultValue, &st.Secure); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		if st.Secure && !includeSecure {
			st.Value = "[redacted]"
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// UpsertSettingTyped writes a fully-described setting row, used by admin
// setting mutations that may change category/type/secure, not just value.
func (s *Store) UpsertSettingTyped(ctx context.Context, st *models.Setting) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO settings (key, category, type, value, default_value, secure)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (key) DO UPDATE SET category = EXCLUDED.category, type = EXCLUDED.type,
			value = EXCLUDED.value, default_value = EXCLUDED.default_value, secure = EXCLUDED.secure`,
		st.Key, st.Category, string(st.Type), st.Value, st.DefaultValue, st.Secure)
	if err != nil {
		return fmt.Errorf("upsert setting %s: %w", st.Key, err)
	}
	return nil
}
