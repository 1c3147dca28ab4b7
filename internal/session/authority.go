// Package session issues and validates bearer session tokens. A real token
// is the string "value:signature" where the signature is an HMAC-SHA256 of
// the value under the process secret; guest and degraded tokens are
// self-identifying prefixed strings that never touch the store.
package session

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/archeonlabs/cloudcore/internal/common"
	"github.com/archeonlabs/cloudcore/internal/identity"
	"github.com/archeonlabs/cloudcore/internal/logging"
	"github.com/archeonlabs/cloudcore/internal/tablestore"
	"github.com/archeonlabs/cloudcore/internal/taskq"
)

const (
	// DefaultHorizon is the fixed session lifetime from creation.
	DefaultHorizon = 24 * time.Hour

	guestPrefix    = "guest_"
	offlinePrefix  = "offline_"
	fallbackPrefix = "fallback_"
)

type Authority struct {
	store   tablestore.Store
	tasks   *taskq.Dispatcher
	log     logging.Logger
	secret  []byte
	horizon time.Duration
	now     func() time.Time
}

// NewAuthority builds the token authority. The secret must be explicitly
// configured: issuing sessions under a well-known default key would make
// every token forgeable, so an empty secret is refused outright.
func NewAuthority(store tablestore.Store, tasks *taskq.Dispatcher, log logging.Logger, secret string) (*Authority, error) {
	if secret == "" {
		return nil, errors.New("session: signing secret must be configured")
	}
	return &Authority{
		store:   store,
		tasks:   tasks,
		log:     log,
		secret:  []byte(secret),
		horizon: DefaultHorizon,
		now:     time.Now,
	}, nil
}

// WithHorizon overrides the session lifetime. Non-positive values keep the
// default.
func (a *Authority) WithHorizon(d time.Duration) *Authority {
	if d > 0 {
		a.horizon = d
	}
	return a
}

// SignToken computes the base64url (unpadded) HMAC-SHA256 signature of a
// token value. Issuance and verification both go through this single
// primitive so the two can never drift apart.
func (a *Authority) SignToken(token string) string {
	mac := hmac.New(sha256.New, a.secret)
	mac.Write([]byte(token))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// IssueSession creates a session for the email and returns the bearer
// token. Guest sessions are never persisted. When the store cannot take the
// write, a degraded token is returned instead of an error so the caller can
// keep working against the local cache.
func (a *Authority) IssueSession(ctx context.Context, email string) string {
	if identity.Normalize(email) == identity.Guest {
		return guestPrefix + randomTokenValue()
	}

	token := randomTokenValue()
	firma := a.SignToken(token)
	now := a.now().UTC()

	row := tablestore.Row{
		"token":  token,
		"email":  identity.Normalize(email),
		"firma":  firma,
		"creado": now,
		"expira": now.Add(a.horizon),
	}
	if err := a.store.Insert(ctx, tablestore.Sessions, row); err != nil {
		a.log.Error(ctx, "session insert failed", "error", err)
		if errors.Is(err, common.ErrUnavailable) {
			return offlinePrefix + randomTokenValue()
		}
		return fallbackPrefix + randomTokenValue()
	}

	a.log.Info(ctx, "session issued", "email", identity.Normalize(email))
	return token + ":" + firma
}

// ResolveIdentity maps a presented token to its owning identity. Guest and
// degraded tokens resolve by prefix without any store access. For real
// tokens the signature is verified locally first; a forged or tampered
// token is rejected before any remote lookup happens.
func (a *Authority) ResolveIdentity(ctx context.Context, presented string) (string, error) {
	if presented == "" {
		return "", common.ErrValidationFailed
	}

	if strings.HasPrefix(presented, guestPrefix) {
		// Guest tokens are their own identity so per-guest state can be
		// kept apart in the local cache.
		return presented, nil
	}
	if strings.HasPrefix(presented, offlinePrefix) || strings.HasPrefix(presented, fallbackPrefix) {
		return identity.Offline, nil
	}

	token, firma, ok := strings.Cut(presented, ":")
	if !ok {
		return "", common.ErrValidationFailed
	}

	expected := a.SignToken(token)
	if !hmac.Equal([]byte(expected), []byte(firma)) {
		return "", common.ErrSignatureMismatch
	}

	rows, err := a.store.Select(ctx, tablestore.Sessions, tablestore.Where("token", token))
	if err != nil {
		a.log.Error(ctx, "session lookup failed", "error", err)
		return "", fmt.Errorf("resolve identity: %w", common.ErrUnavailable)
	}
	if len(rows) == 0 {
		return "", common.ErrNotFound
	}

	sess := rows[0]
	if expira := sess.Time("expira"); !expira.IsZero() && a.now().UTC().After(expira) {
		store := a.store
		a.tasks.Submit("delete-expired-session", func(ctx context.Context) error {
			return store.Delete(ctx, tablestore.Sessions, tablestore.Where("token", token))
		})
		return "", common.ErrExpired
	}

	return sess.String("email"), nil
}

// Revoke deletes the session behind a presented token (logout). Prefix
// tokens have no persisted state, so revoking them is a no-op.
func (a *Authority) Revoke(ctx context.Context, presented string) error {
	for _, p := range []string{guestPrefix, offlinePrefix, fallbackPrefix} {
		if strings.HasPrefix(presented, p) {
			return nil
		}
	}
	token, _, ok := strings.Cut(presented, ":")
	if !ok {
		return common.ErrValidationFailed
	}
	if err := a.store.Delete(ctx, tablestore.Sessions, tablestore.Where("token", token)); err != nil {
		return fmt.Errorf("revoke: %w", err)
	}
	return nil
}

// SweepExpired removes persisted sessions whose expiry has passed, in
// batches to bound request size. It returns the number of sessions removed.
// Racing with lazy expiry or a concurrent sweep is harmless: deleting an
// already-deleted session is not an error.
func (a *Authority) SweepExpired(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 100
	}

	removed := 0
	for {
		cutoff := a.now().UTC()
		rows, err := a.store.Select(ctx, tablestore.Sessions,
			tablestore.All().Lt("expira", cutoff).Order("expira", false).Take(batchSize))
		if err != nil {
			return removed, fmt.Errorf("sweep select: %w", err)
		}
		if len(rows) == 0 {
			return removed, nil
		}

		for _, row := range rows {
			token := row.String("token")
			if err := a.store.Delete(ctx, tablestore.Sessions, tablestore.Where("token", token)); err != nil {
				return removed, fmt.Errorf("sweep delete: %w", err)
			}
			removed++
		}

		if len(rows) < batchSize {
			return removed, nil
		}
	}
}

// randomTokenValue returns a 32-character hex token value.
func randomTokenValue() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}
