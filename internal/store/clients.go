package store

import (
	"context"
	"fmt"

	"github.com/puzed/darkauth-sub006/internal/models"
)

// GetClient loads a client by id, enabled or not (callers check Enabled).
func (s *Store) GetClient(ctx context.Context, clientID string) (*models.Client, error) {
	c := &models.Client{}
	var typ, authMethod string
	var secretSealed []byte
	err := s.Pool.QueryRow(ctx, `
		SELECT client_id, type, name, redirect_uris, grant_types, token_endpoint_auth_method,
			secret_sealed, require_pkce, allowed_scopes, enabled
		FROM clients WHERE client_id = $1`, clientID).
		Scan(&c.ClientID, &typ, &c.Name, &c.RedirectURIs, &c.GrantTypes, &authMethod,
			&secretSealed, &c.RequirePKCE, &c.AllowedScopes, &c.Enabled)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get client: %w", err)
	}
	c.Type = models.ClientType(typ)
	c.TokenEndpointAuthMethod = authMethod
	c.SecretSealed = secretSealed
	return c, nil
}

// CreateClient inserts a new relying-party client registration.
func (s *Store) CreateClient(ctx context.Context, c *models.Client) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO clients (client_id, type, name, redirect_uris, grant_types,
			token_endpoint_auth_method, secret_sealed, require_pkce, allowed_scopes, enabled)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		c.ClientID, string(c.Type), c.Name, c.RedirectURIs, c.GrantTypes,
		c.TokenEndpointAuthMethod, nullBytes(c.SecretSealed), c.RequirePKCE, c.AllowedScopes, c.Enabled)
	if err != nil {
		return fmt.Errorf("insert client: %w", err)
	}
	return nil
}

// UpdateClient persists mutable client fields (name, redirect URIs, scopes,
// enabled flag); client_id, type and secret are immutable after creation.
func (s *Store) UpdateClient(ctx context.Context, c *models.Client) error {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE clients SET name = $2, redirect_uris = $3, grant_types = $4,
			require_pkce = $5, allowed_scopes = $6, enabled = $7
		WHERE client_id = $1`,
		c.ClientID, c.Name, c.RedirectURIs, c.GrantTypes, c.RequirePKCE, c.AllowedScopes, c.Enabled)
	if err != nil {
		return fmt.Errorf("update client: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("client not found")
	}
	return nil
}

// DeleteClient removes a client registration.
func (s *Store) DeleteClient(ctx context.Context, clientID string) error {
	_, err := s.Pool.Exec(ctx, `DELETE FROM clients WHERE client_id = $1`, clientID)
	if err != nil {
		return fmt.Errorf("delete client: %w", err)
	}
	return nil
}

// ListClients returns every registered client for the admin surface.
func (s *Store) ListClients(ctx context.Context) ([]*models.Client, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT client_id, type, name, redirect_uris, grant_types, token_endpoint_auth_method,
			secret_sealed, require_pkce, allowed_scopes, enabled FROM clients ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	defer rows.Close()

	var out []*models.Client
	for rows.Next() {
		c := &models.Client{}
		var typ, authMethod string
		var secretSealed []byte
		if err := rows.Scan(&c.ClientID, &typ, &c.Name, &c.RedirectURIs, &c.GrantTypes, &authMethod,
			&secretSealed, &c.RequirePKCE, &c.AllowedScopes, &c.Enabled); err != nil {
			return nil, fmt.Errorf("scan client: %w", err)
		}
		c.Type = models.ClientType(typ)
		c.TokenEndpointAuthMethod = authMethod
		c.SecretSealed = secretSealed
		out = append(out, c)
	}
	return out, rows.Err()
}
