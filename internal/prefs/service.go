// Package prefs exposes the three synchronized per-user state categories:
// the configuration blob, on/off preference flags, and command bindings.
// Each is a syncache category keyed by the normalized email, backed by the
// table store. Reads go through the cache; writes land in the cache
// synchronously and reach the store through the dispatcher.
package prefs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/archeonlabs/cloudcore/internal/identity"
	"github.com/archeonlabs/cloudcore/internal/logging"
	"github.com/archeonlabs/cloudcore/internal/syncache"
	"github.com/archeonlabs/cloudcore/internal/tablestore"
	"github.com/archeonlabs/cloudcore/internal/taskq"
)

type Service struct {
	store tablestore.Store
	tasks *taskq.Dispatcher
	log   logging.Logger
	now   func() time.Time

	config   *syncache.Category[any]
	flags    *syncache.Category[bool]
	bindings *syncache.Category[string]
}

func NewService(store tablestore.Store, tasks *taskq.Dispatcher, log logging.Logger, ttl time.Duration) *Service {
	s := &Service{
		store: store,
		tasks: tasks,
		log:   log,
		now:   time.Now,
	}
	s.config = syncache.NewCategory("config", ttl, s.configBackend(), tasks, log)
	s.flags = syncache.NewCategory("gustos", ttl, s.flagsBackend(), tasks, log)
	s.bindings = syncache.NewCategory("comandos", ttl, s.bindingsBackend(), tasks, log)
	return s
}

// GetConfig returns the user's full configuration blob. Every known field
// is present: missing ones are filled from the defaults.
func (s *Service) GetConfig(ctx context.Context, email string) map[string]any {
	return s.config.Get(ctx, identity.Normalize(email))
}

// PutConfig merges partial into the configuration. The local copy reflects
// the change before this returns; the store catches up in the background.
func (s *Service) PutConfig(ctx context.Context, email string, partial map[string]any) {
	s.config.Put(ctx, identity.Normalize(email), partial)
}

// GetPreferences returns the user's preference flags by name.
func (s *Service) GetPreferences(ctx context.Context, email string) map[string]bool {
	return s.flags.Get(ctx, identity.Normalize(email))
}

// PutPreference sets one preference flag.
func (s *Service) PutPreference(ctx context.Context, email, name string, active bool) {
	s.flags.Put(ctx, identity.Normalize(email), map[string]bool{name: active})
}

// GetBindings returns the user's command-to-action bindings.
func (s *Service) GetBindings(ctx context.Context, email string) map[string]string {
	return s.bindings.Get(ctx, identity.Normalize(email))
}

// PutBinding binds a command name to an action.
func (s *Service) PutBinding(ctx context.Context, email, command, action string) {
	s.bindings.Put(ctx, identity.Normalize(email), map[string]string{command: action})
}

// RecordCommandUse bumps the use counter for one command off the calling
// path. The first use of an unbound command creates its row.
func (s *Service) RecordCommandUse(ctx context.Context, email, command string) {
	id := identity.Derive(email)
	store, now := s.store, s.now().UTC()
	s.tasks.Submit("record-command-use", func(ctx context.Context) error {
		return tablestore.Atomically(ctx, store, func(tx tablestore.Store) error {
			f := tablestore.Where("user_id", id).Eq("comando", command)
			rows, err := tx.Select(ctx, tablestore.Comandos, f)
			if err != nil {
				return fmt.Errorf("command use lookup: %w", err)
			}
			if len(rows) == 0 {
				return tx.Insert(ctx, tablestore.Comandos, tablestore.Row{
					"user_id": id,
					"comando": command,
					"accion":  "",
					"usos":    1,
					"fecha":   now,
				})
			}
			return tx.Update(ctx, tablestore.Comandos, f, tablestore.Row{
				"usos":  rows[0].Int("usos") + 1,
				"fecha": now,
			})
		})
	})
}

// Flush drops one user's cached entries across all three categories.
func (s *Service) Flush(email string) {
	key := identity.Normalize(email)
	s.config.Flush(key)
	s.flags.Flush(key)
	s.bindings.Flush(key)
}

// FlushAll drops every cached entry.
func (s *Service) FlushAll() {
	s.config.FlushAll()
	s.flags.FlushAll()
	s.bindings.FlushAll()
}

// Sizes reports the number of cached users per category.
func (s *Service) Sizes() map[string]int {
	return map[string]int{
		"config":   s.config.Size(),
		"gustos":   s.flags.Size(),
		"comandos": s.bindings.Size(),
	}
}

// configBackend stores the configuration as a JSON blob on the user row.
// Persisting re-reads the remote blob and merges the pending delta over it,
// so two processes writing different fields both survive.
func (s *Service) configBackend() syncache.Backend[any] {
	return syncache.Backend[any]{
		Fetch: func(ctx context.Context, email string) (map[string]any, error) {
			rows, err := s.store.Select(ctx, tablestore.Users, tablestore.Where("id", identity.Derive(email)))
			if err != nil {
				return nil, err
			}
			if len(rows) == 0 {
				return map[string]any{}, nil
			}
			blob := rows[0].String("config")
			if blob == "" {
				return map[string]any{}, nil
			}
			var cfg map[string]any
			if err := json.Unmarshal([]byte(blob), &cfg); err != nil {
				s.log.Warn(ctx, "stored config blob is not valid JSON, ignoring", "error", err)
				return map[string]any{}, nil
			}
			return cfg, nil
		},
		Persist: func(ctx context.Context, email string, pending map[string]any) error {
			id := identity.Derive(email)
			return tablestore.Atomically(ctx, s.store, func(tx tablestore.Store) error {
				rows, err := tx.Select(ctx, tablestore.Users, tablestore.Where("id", id))
				if err != nil {
					return fmt.Errorf("config fetch: %w", err)
				}

				merged := make(map[string]any)
				if len(rows) > 0 {
					if blob := rows[0].String("config"); blob != "" {
						_ = json.Unmarshal([]byte(blob), &merged)
					}
				}
				for k, v := range pending {
					merged[k] = v
				}
				blob, err := json.Marshal(merged)
				if err != nil {
					return fmt.Errorf("config encode: %w", err)
				}

				now := s.now().UTC()
				if len(rows) == 0 {
					// Config arriving before the account row: keep the data
					// rather than drop the write.
					return tx.Insert(ctx, tablestore.Users, tablestore.Row{
						"id":     id,
						"email":  email,
						"creado": now,
						"config": string(blob),
					})
				}
				return tx.Update(ctx, tablestore.Users, tablestore.Where("id", id), tablestore.Row{
					"config":      string(blob),
					"actualizado": now,
				})
			})
		},
		Defaults: func(email string) map[string]any {
			return map[string]any{
				"nombre":    "Archeon",
				"tema":      "dark",
				"voz_id":    "",
				"user_name": identity.LocalPart(email),
			}
		},
	}
}

// flagsBackend keeps one row per (user, flag) in the gustos collection.
func (s *Service) flagsBackend() syncache.Backend[bool] {
	return syncache.Backend[bool]{
		Fetch: func(ctx context.Context, email string) (map[string]bool, error) {
			rows, err := s.store.Select(ctx, tablestore.Gustos, tablestore.Where("user_id", identity.Derive(email)))
			if err != nil {
				return nil, err
			}
			out := make(map[string]bool, len(rows))
			for _, r := range rows {
				out[r.String("gusto")] = r.Bool("activo")
			}
			return out, nil
		},
		Persist: func(ctx context.Context, email string, pending map[string]bool) error {
			id := identity.Derive(email)
			now := s.now().UTC()
			for name, active := range pending {
				err := s.store.Upsert(ctx, tablestore.Gustos, tablestore.Row{
					"user_id": id,
					"gusto":   name,
					"activo":  active,
					"fecha":   now,
				}, "user_id", "gusto")
				if err != nil {
					return fmt.Errorf("flag %q: %w", name, err)
				}
			}
			return nil
		},
		Defaults: func(email string) map[string]bool { return map[string]bool{} },
	}
}

// bindingsBackend keeps one row per (user, command). Saving a binding
// leaves the use counter alone; RecordCommandUse owns it.
func (s *Service) bindingsBackend() syncache.Backend[string] {
	return syncache.Backend[string]{
		Fetch: func(ctx context.Context, email string) (map[string]string, error) {
			rows, err := s.store.Select(ctx, tablestore.Comandos, tablestore.Where("user_id", identity.Derive(email)))
			if err != nil {
				return nil, err
			}
			out := make(map[string]string, len(rows))
			for _, r := range rows {
				out[r.String("comando")] = r.String("accion")
			}
			return out, nil
		},
		Persist: func(ctx context.Context, email string, pending map[string]string) error {
			id := identity.Derive(email)
			now := s.now().UTC()
			for command, action := range pending {
				err := s.store.Upsert(ctx, tablestore.Comandos, tablestore.Row{
					"user_id": id,
					"comando": command,
					"accion":  action,
					"fecha":   now,
				}, "user_id", "comando")
				if err != nil {
					return fmt.Errorf("binding %q: %w", command, err)
				}
			}
			return nil
		},
		Defaults: func(email string) map[string]string { return map[string]string{} },
	}
}
