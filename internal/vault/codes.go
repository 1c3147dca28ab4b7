package vault

import (
	"context"
	"fmt"
	"strings"

	"github.com/archeonlabs/cloudcore/internal/common"
	"github.com/archeonlabs/cloudcore/internal/identity"
	"github.com/archeonlabs/cloudcore/internal/tablestore"
)

// SaveCode persists a one-time verification code for the email,
// synchronously, and confirms the write with a read-back before reporting
// success. Unlike the credential flows this path deliberately blocks: a code
// the user is about to type must be durably stored first.
func (s *Service) SaveCode(ctx context.Context, email, code string) error {
	docID := identity.DeriveCode(email)
	now := s.now().UTC()

	row := tablestore.Row{
		"id":     docID,
		"email":  identity.Normalize(email),
		"codigo": strings.TrimSpace(code),
		"creado": now,
		"expira": now.Add(codeTTL),
	}
	if err := s.store.Upsert(ctx, tablestore.VerificationCodes, row, "id"); err != nil {
		s.log.Error(ctx, "verification code write rejected", "error", err)
		return fmt.Errorf("save code: %w", common.ErrPersistenceFailed)
	}

	stored, err := s.store.Select(ctx, tablestore.VerificationCodes, tablestore.Where("id", docID))
	if err != nil || len(stored) == 0 {
		s.log.Error(ctx, "verification code not readable after write", "error", err)
		return fmt.Errorf("save code: %w", common.ErrPersistenceFailed)
	}
	return nil
}

// ValidateCode checks a user-entered code. The email is already known to the
// caller, so unlike login this path discloses why validation failed:
// ErrNotFound, ErrExpired or ErrValidationFailed. A correct code is deleted
// on success and cannot be used twice.
func (s *Service) ValidateCode(ctx context.Context, email, code string) error {
	docID := identity.DeriveCode(email)

	rows, err := s.store.Select(ctx, tablestore.VerificationCodes, tablestore.Where("id", docID))
	if err != nil {
		s.log.Error(ctx, "verification code lookup failed", "error", err)
		return fmt.Errorf("validate code: %w", common.ErrUnavailable)
	}
	if len(rows) == 0 {
		return common.ErrNotFound
	}

	stored := rows[0]
	if expira := stored.Time("expira"); !expira.IsZero() && s.now().UTC().After(expira) {
		return common.ErrExpired
	}

	if strings.TrimSpace(code) != stored.String("codigo") {
		return common.ErrValidationFailed
	}

	// Single use: best-effort delete, the validation already succeeded.
	if err := s.store.Delete(ctx, tablestore.VerificationCodes, tablestore.Where("id", docID)); err != nil {
		s.log.Warn(ctx, "used verification code not deleted", "error", err)
	}
	return nil
}
