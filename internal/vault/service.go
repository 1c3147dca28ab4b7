// Package vault owns user records: account creation, login verification,
// password updates, full account erasure, and short-lived verification
// codes. It is the only component allowed to touch the users collection's
// credential fields.
package vault

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/archeonlabs/cloudcore/internal/common"
	"github.com/archeonlabs/cloudcore/internal/identity"
	"github.com/archeonlabs/cloudcore/internal/logging"
	"github.com/archeonlabs/cloudcore/internal/tablestore"
	"github.com/archeonlabs/cloudcore/internal/taskq"
)

// codeTTL is the verification-code lifetime.
const codeTTL = 15 * time.Minute

type Service struct {
	store tablestore.Store
	tasks *taskq.Dispatcher
	log   logging.Logger
	now   func() time.Time
}

func NewService(store tablestore.Store, tasks *taskq.Dispatcher, log logging.Logger) *Service {
	return &Service{
		store: store,
		tasks: tasks,
		log:   log,
		now:   time.Now,
	}
}

// DefaultConfig is the configuration blob written at account creation.
func DefaultConfig(displayName string) map[string]any {
	return map[string]any{
		"nombre":    "Archeon",
		"tema":      "dark",
		"voz_id":    "",
		"user_name": displayName,
	}
}

// CreateUser registers a new account. A user whose derived identity already
// exists is rejected with ErrAlreadyExists; the first record is never
// altered by a duplicate attempt.
func (s *Service) CreateUser(ctx context.Context, email, displayName, password string) error {
	id := identity.Derive(email)

	existing, err := s.store.Select(ctx, tablestore.Users, tablestore.Where("id", id))
	if err != nil {
		s.log.Error(ctx, "user lookup failed", "error", err)
		return fmt.Errorf("create user: %w", common.ErrUnavailable)
	}
	if len(existing) > 0 {
		return common.ErrAlreadyExists
	}

	hashHex, saltHex, err := HashPassword(password, "")
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}

	cfg, err := json.Marshal(DefaultConfig(displayName))
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}

	now := s.now().UTC()
	row := tablestore.Row{
		"id":            id,
		"email":         identity.Normalize(email),
		"username":      displayName,
		"password_hash": hashHex,
		"salt":          saltHex,
		"creado":        now,
		"ultimo_login":  now,
		"config":        string(cfg),
	}
	if err := s.store.Insert(ctx, tablestore.Users, row); err != nil {
		s.log.Error(ctx, "user insert failed", "error", err)
		if errors.Is(err, common.ErrUnavailable) {
			return fmt.Errorf("create user: %w", common.ErrUnavailable)
		}
		return fmt.Errorf("create user: %w", common.ErrPersistenceFailed)
	}

	s.log.Info(ctx, "user created", "identity", id)
	return nil
}

// VerifyLogin checks the password against the stored hash in constant time.
// Wrong password and unknown user are indistinguishable to the caller. On
// success the last-login timestamp is updated off the calling path.
func (s *Service) VerifyLogin(ctx context.Context, email, password string) bool {
	id := identity.Derive(email)

	rows, err := s.store.Select(ctx, tablestore.Users, tablestore.Where("id", id))
	if err != nil {
		s.log.Error(ctx, "login lookup failed", "error", err)
		return false
	}
	if len(rows) == 0 {
		return false
	}

	user := rows[0]
	storedHash := user.String("password_hash")
	storedSalt := user.String("salt")
	if storedHash == "" || storedSalt == "" {
		return false
	}

	candidate, _, err := HashPassword(password, storedSalt)
	if err != nil {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(candidate), []byte(storedHash)) != 1 {
		return false
	}

	store, now := s.store, s.now().UTC()
	s.tasks.Submit("update-last-login", func(ctx context.Context) error {
		return store.Update(ctx, tablestore.Users,
			tablestore.Where("id", id),
			tablestore.Row{"ultimo_login": now})
	})
	return true
}

// UpdatePassword re-derives salt and hash and persists synchronously.
// Unlike the write-behind paths, a failure here is reported to the caller.
func (s *Service) UpdatePassword(ctx context.Context, email, newPassword string) bool {
	id := identity.Derive(email)

	hashHex, saltHex, err := HashPassword(newPassword, "")
	if err != nil {
		return false
	}

	err = s.store.Update(ctx, tablestore.Users,
		tablestore.Where("id", id),
		tablestore.Row{
			"password_hash": hashHex,
			"salt":          saltHex,
			"actualizado":   s.now().UTC(),
		})
	if err != nil {
		s.log.Error(ctx, "password update failed", "error", err)
		return false
	}
	return true
}

// EraseUser removes the user and every dependent row. Each sub-deletion is
// attempted independently; one failing collection does not abort the rest.
// Calling it again when the rows are already gone still succeeds.
func (s *Service) EraseUser(ctx context.Context, email string) bool {
	id := identity.Derive(email)
	norm := identity.Normalize(email)

	byUser := []string{
		tablestore.Memoria,
		tablestore.Gustos,
		tablestore.Comandos,
		tablestore.ChatsMensajes,
		tablestore.Skills,
	}
	for _, collection := range byUser {
		if err := s.store.Delete(ctx, collection, tablestore.Where("user_id", id)); err != nil {
			s.log.Error(ctx, "erasure sub-delete failed", "collection", collection, "error", err)
		}
	}

	if err := s.store.Delete(ctx, tablestore.Sessions, tablestore.Where("email", norm)); err != nil {
		s.log.Error(ctx, "erasure sub-delete failed", "collection", tablestore.Sessions, "error", err)
	}
	if err := s.store.Delete(ctx, tablestore.VerificationCodes, tablestore.Where("email", norm)); err != nil {
		s.log.Error(ctx, "erasure sub-delete failed", "collection", tablestore.VerificationCodes, "error", err)
	}

	if err := s.store.Delete(ctx, tablestore.Users, tablestore.Where("id", id)); err != nil {
		s.log.Error(ctx, "user delete failed", "error", err)
		return false
	}

	s.log.Info(ctx, "user erased", "identity", id)
	return true
}
