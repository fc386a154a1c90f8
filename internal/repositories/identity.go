package repositories

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/desertthunder/modstore/internal/models"
	"github.com/desertthunder/modstore/internal/shared"
	"github.com/desertthunder/modstore/internal/store"
)

const (
	secretBytes     = 32
	claimTokenBytes = 16
)

// IdentityRepository manages the singleton row identifying this server to the web panel.
type IdentityRepository struct {
	coord *store.Coordinator
	tx    *store.Tx
}

func NewIdentityRepository(coord *store.Coordinator) *IdentityRepository {
	return &IdentityRepository{coord: coord}
}

// In returns a copy of the repository bound to tx.
func (r *IdentityRepository) In(tx *store.Tx) *IdentityRepository {
	return &IdentityRepository{coord: r.coord, tx: tx}
}

// GetOrGenerate returns the server identity, generating its ID and secret on first use.
func (r *IdentityRepository) GetOrGenerate(ctx context.Context) (*models.ServerIdentity, error) {
	var id *models.ServerIdentity
	err := r.write(ctx, func(tx *store.Tx) (err error) {
		id, err = ensureIdentity(ctx, tx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load server identity: %w", err)
	}
	return id, nil
}

// ClaimToken returns the token an operator presents to claim this server, generating one if
// needed. It returns "" once the server has been claimed.
func (r *IdentityRepository) ClaimToken(ctx context.Context) (string, error) {
	var token string
	err := r.write(ctx, func(tx *store.Tx) error {
		id, err := ensureIdentity(ctx, tx)
		if err != nil {
			return err
		}
		if id.Claimed {
			return nil
		}
		if id.ClaimToken != "" {
			token = id.ClaimToken
			return nil
		}

		generated, err := randomToken(claimTokenBytes, base64.RawURLEncoding)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "UPDATE server_identity SET claim_token = ? WHERE id = 1", generated); err != nil {
			return err
		}
		token = generated
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to get claim token: %w", err)
	}
	return token, nil
}

// CompleteClaim marks the server claimed if token matches the outstanding claim token.
// It reports false for a wrong token or an already claimed server.
func (r *IdentityRepository) CompleteClaim(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}

	var n int64
	err := r.write(ctx, func(tx *store.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE server_identity SET is_claimed = 1, claim_token = NULL WHERE id = 1 AND is_claimed = 0 AND claim_token = ?",
			token)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to complete claim: %w", err)
	}
	return n > 0, nil
}

func (r *IdentityRepository) write(ctx context.Context, fn func(tx *store.Tx) error) error {
	if r.tx != nil {
		if !r.tx.Writable() {
			return fmt.Errorf("%w: write through a read transaction", shared.ErrReadOnly)
		}
		return fn(r.tx)
	}
	return r.coord.WithTransaction(ctx, fn)
}

func ensureIdentity(ctx context.Context, tx *store.Tx) (*models.ServerIdentity, error) {
	var (
		id    models.ServerIdentity
		token sql.NullString
	)
	err := tx.QueryRowContext(ctx,
		"SELECT server_id, server_secret, is_claimed, claim_token FROM server_identity WHERE id = 1").
		Scan(&id.ServerID, &id.ServerSecret, &id.Claimed, &token)
	if err == nil {
		id.ClaimToken = token.String
		return &id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	secret, err := randomToken(secretBytes, base64.StdEncoding)
	if err != nil {
		return nil, err
	}
	id = models.ServerIdentity{ServerID: shared.GenerateID(), ServerSecret: secret}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO server_identity (id, server_id, server_secret) VALUES (1, ?, ?)", id.ServerID, id.ServerSecret)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func randomToken(n int, enc *base64.Encoding) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}
	return enc.EncodeToString(b), nil
}
