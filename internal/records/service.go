// Package records is the gateway for append-mostly user data: long-term
// memories, chat history, and macros ("skills"). Appends run off the calling
// path and never fail the caller; reads are synchronous and degrade to empty
// results when the store cannot be reached.
package records

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/archeonlabs/cloudcore/internal/common"
	"github.com/archeonlabs/cloudcore/internal/identity"
	"github.com/archeonlabs/cloudcore/internal/logging"
	"github.com/archeonlabs/cloudcore/internal/tablestore"
	"github.com/archeonlabs/cloudcore/internal/taskq"
)

// Memory is one long-term memory entry.
type Memory struct {
	ID         string
	Category   string
	Content    string
	Importance int
	At         time.Time
}

// ChatMessage is one message of a conversation with a contact.
type ChatMessage struct {
	ID      string
	Contact string
	Text    string
	Author  string
	Read    bool
	At      time.Time
}

// Macro is a named automation: a trigger phrase and its action list.
type Macro struct {
	ID      string
	Trigger string
	Actions []string
}

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

// AppendMemory records a memory entry off the calling path.
func (s *Service) AppendMemory(ctx context.Context, email, category, content string, importance int) {
	if importance < 1 {
		importance = 1
	}
	row := tablestore.Row{
		"id":          uuid.NewString(),
		"user_id":     identity.Derive(email),
		"categoria":   category,
		"contenido":   content,
		"importancia": importance,
		"fecha":       s.now().UTC(),
	}
	store := s.store
	s.tasks.Submit("append-memory", func(ctx context.Context) error {
		return store.Insert(ctx, tablestore.Memoria, row)
	})
}

// ListMemories returns up to limit memories with at least the given
// importance, newest first. A store failure yields an empty list.
func (s *Service) ListMemories(ctx context.Context, email string, minImportance, limit int) []Memory {
	f := tablestore.Where("user_id", identity.Derive(email)).Order("fecha", true)
	rows, err := s.store.Select(ctx, tablestore.Memoria, f)
	if err != nil {
		s.log.Warn(ctx, "memory list failed", "error", err)
		return nil
	}

	out := make([]Memory, 0, len(rows))
	for _, r := range rows {
		if r.Int("importancia") < minImportance {
			continue
		}
		out = append(out, Memory{
			ID:         r.String("id"),
			Category:   r.String("categoria"),
			Content:    r.String("contenido"),
			Importance: r.Int("importancia"),
			At:         r.Time("fecha"),
		})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// AppendChatMessage records a chat message off the calling path.
func (s *Service) AppendChatMessage(ctx context.Context, email, contact, text, author string, read bool) {
	row := tablestore.Row{
		"id":       uuid.NewString(),
		"user_id":  identity.Derive(email),
		"contacto": contact,
		"texto":    text,
		"autor":    author,
		"leido":    read,
		"fecha":    s.now().UTC(),
	}
	store := s.store
	s.tasks.Submit("append-chat", func(ctx context.Context) error {
		return store.Insert(ctx, tablestore.ChatsMensajes, row)
	})
}

// ListChat returns the last n messages exchanged with a contact in
// chronological order. A store failure yields an empty list.
func (s *Service) ListChat(ctx context.Context, email, contact string, n int) []ChatMessage {
	f := tablestore.Where("user_id", identity.Derive(email)).
		Eq("contacto", contact).
		Order("fecha", true)
	if n > 0 {
		f = f.Take(n)
	}
	rows, err := s.store.Select(ctx, tablestore.ChatsMensajes, f)
	if err != nil {
		s.log.Warn(ctx, "chat list failed", "error", err)
		return nil
	}

	// newest-first from the store, oldest-first for the caller
	out := make([]ChatMessage, len(rows))
	for i, r := range rows {
		out[len(rows)-1-i] = ChatMessage{
			ID:      r.String("id"),
			Contact: r.String("contacto"),
			Text:    r.String("texto"),
			Author:  r.String("autor"),
			Read:    r.Bool("leido"),
			At:      r.Time("fecha"),
		}
	}
	return out
}

// UnreadContacts returns the contacts with at least one incoming unread
// message.
func (s *Service) UnreadContacts(ctx context.Context, email string) []string {
	f := tablestore.Where("user_id", identity.Derive(email)).
		Neq("autor", "yo").
		Eq("leido", false)
	rows, err := s.store.Select(ctx, tablestore.ChatsMensajes, f)
	if err != nil {
		s.log.Warn(ctx, "unread lookup failed", "error", err)
		return nil
	}

	seen := make(map[string]struct{}, len(rows))
	var out []string
	for _, r := range rows {
		c := r.String("contacto")
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// SaveMacro stores a macro off the calling path, replacing any existing
// macro with the same trigger.
func (s *Service) SaveMacro(ctx context.Context, email, trigger string, actions []string) {
	id := identity.Derive(email)
	encoded, err := json.Marshal(actions)
	if err != nil {
		s.log.Error(ctx, "macro encode failed", "trigger", trigger, "error", err)
		return
	}
	row := tablestore.Row{
		"id":      uuid.NewString(),
		"user_id": id,
		"trigger": trigger,
		"actions": string(encoded),
	}
	store := s.store
	s.tasks.Submit("save-macro", func(ctx context.Context) error {
		return tablestore.Atomically(ctx, store, func(tx tablestore.Store) error {
			f := tablestore.Where("user_id", id).Eq("trigger", trigger)
			if err := tx.Delete(ctx, tablestore.Skills, f); err != nil {
				return fmt.Errorf("replace macro: %w", err)
			}
			return tx.Insert(ctx, tablestore.Skills, row)
		})
	})
}

// ListMacros returns all the user's macros. Rows whose action list does not
// decode are skipped. A store failure yields an empty list.
func (s *Service) ListMacros(ctx context.Context, email string) []Macro {
	rows, err := s.store.Select(ctx, tablestore.Skills,
		tablestore.Where("user_id", identity.Derive(email)))
	if err != nil {
		s.log.Warn(ctx, "macro list failed", "error", err)
		return nil
	}

	out := make([]Macro, 0, len(rows))
	for _, r := range rows {
		var actions []string
		if err := json.Unmarshal([]byte(r.String("actions")), &actions); err != nil {
			s.log.Warn(ctx, "macro has malformed action list, skipping", "id", r.String("id"), "error", err)
			continue
		}
		out = append(out, Macro{
			ID:      r.String("id"),
			Trigger: r.String("trigger"),
			Actions: actions,
		})
	}
	return out
}

// DeleteMacro removes one macro by row id. Deleting an absent macro is not
// an error.
func (s *Service) DeleteMacro(ctx context.Context, email, macroID string) error {
	f := tablestore.Where("user_id", identity.Derive(email)).Eq("id", macroID)
	if err := s.store.Delete(ctx, tablestore.Skills, f); err != nil {
		s.log.Error(ctx, "macro delete failed", "id", macroID, "error", err)
		return fmt.Errorf("delete macro: %w", common.ErrPersistenceFailed)
	}
	return nil
}
