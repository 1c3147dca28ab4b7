// Package cloudcore is the in-process engine behind the assistant: account
// credentials, bearer sessions, synchronized per-user state, and
// append-mostly records, all backed by one shared table store. The embedding
// application constructs a Manager once and calls it from any goroutine.
//
// The store being unreachable is an operating mode, not a fatal condition:
// reads degrade to defaults or empty results, session issuance hands out
// degraded tokens, and background writes are logged and dropped.
package cloudcore

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/archeonlabs/cloudcore/internal/config"
	"github.com/archeonlabs/cloudcore/internal/logging"
	"github.com/archeonlabs/cloudcore/internal/maintenance"
	"github.com/archeonlabs/cloudcore/internal/prefs"
	"github.com/archeonlabs/cloudcore/internal/records"
	"github.com/archeonlabs/cloudcore/internal/session"
	"github.com/archeonlabs/cloudcore/internal/tablestore"
	"github.com/archeonlabs/cloudcore/internal/tablestore/sqlstore"
	"github.com/archeonlabs/cloudcore/internal/taskq"
	"github.com/archeonlabs/cloudcore/internal/vault"
)

// Config is the public alias of the runtime configuration. Use
// cloudcore.LoadConfig to build one from defaults, credential sources, the
// optional JSON file and flags.
type Config = config.Config

// Credential sources accepted by LoadConfig, tried in the order given.
type (
	Source       = config.Source
	InlineSource = config.InlineSource
	EnvSource    = config.EnvSource
	JSONSource   = config.JSONSource
	FileSource   = config.FileSource
)

// Record types returned by the listing methods.
type (
	Memory      = records.Memory
	ChatMessage = records.ChatMessage
	Macro       = records.Macro
)

// Store, Row and Filter re-export the table-store boundary so an embedding
// can supply its own backend to NewWithStore.
type (
	Store  = tablestore.Store
	Row    = tablestore.Row
	Filter = tablestore.Filter
)

// Logger is the structured logger consumed by the Manager.
type Logger = logging.Logger

// NewLogger returns a JSON slog-backed Logger writing to w.
func NewLogger(w io.Writer) Logger {
	return logging.NewJSON(w)
}

// LoadConfig builds a Config. See internal/config for the layering rules.
func LoadConfig(sources ...Source) (*Config, error) {
	return config.Load(sources...)
}

// Status is a point-in-time snapshot of the engine.
type Status struct {
	// StoreReady reports whether the table store was reachable when the
	// Manager was built.
	StoreReady bool

	// CacheSizes is the number of cached users per category.
	CacheSizes map[string]int
}

const (
	openTimeout  = 20 * time.Second
	closeTimeout = 10 * time.Second
)

// Manager wires the services together behind one façade. All methods are
// safe for concurrent use.
type Manager struct {
	cfg      *config.Config
	log      logging.Logger
	store    tablestore.Store
	sqls     *sqlstore.Store
	tasks    *taskq.Dispatcher
	vault    *vault.Service
	sessions *session.Authority
	prefs    *prefs.Service
	records  *records.Service
	sweeper  *maintenance.Sweeper

	storeReady bool
	cancel     context.CancelFunc
}

// New builds a Manager from the configuration. An unreachable or
// unconfigured store yields a degraded Manager rather than an error; a
// missing secret key is an error because every session the process would
// issue could be forged.
func New(cfg *Config, log Logger) (*Manager, error) {
	var (
		store tablestore.Store = tablestore.Unavailable()
		sqls  *sqlstore.Store
	)

	if cfg.StoreDSN == "" {
		log.Warn(context.Background(), "no store DSN configured, starting degraded")
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
		defer cancel()

		opened, err := sqlstore.Open(ctx, cfg.StoreDriver, cfg.StoreDSN)
		if err != nil {
			log.Error(ctx, "store unreachable, starting degraded", "error", err)
		} else {
			store, sqls = opened, opened
		}
	}

	return newManager(cfg, log, store, sqls, sqls != nil)
}

// NewWithStore builds a Manager over a caller-supplied store. Used by tests
// and by embeddings that manage their own storage.
func NewWithStore(cfg *Config, log Logger, store Store) (*Manager, error) {
	return newManager(cfg, log, store, nil, true)
}

func newManager(cfg *Config, log Logger, store tablestore.Store, sqls *sqlstore.Store, ready bool) (*Manager, error) {
	tasks := taskq.New(cfg.Workers, log)

	sessions, err := session.NewAuthority(store, tasks, log, cfg.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("cloudcore: %w", err)
	}
	sessions.WithHorizon(cfg.SessionTTL)

	m := &Manager{
		cfg:        cfg,
		log:        log,
		store:      store,
		sqls:       sqls,
		tasks:      tasks,
		vault:      vault.NewService(store, tasks, log),
		sessions:   sessions,
		prefs:      prefs.NewService(store, tasks, log, cfg.CacheTTL),
		records:    records.NewService(store, tasks, log),
		storeReady: ready,
	}
	m.sweeper = maintenance.NewSweeper(sessions.SweepExpired, log).
		WithSchedule(cfg.SweepInitialDelay, cfg.SweepInterval).
		WithBatchSize(cfg.SweepBatchSize)
	return m, nil
}

// Start launches the background maintenance loop. It returns immediately;
// the loop stops when ctx is cancelled or Close is called.
func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	go m.sweeper.Run(ctx)
}

// Close stops maintenance, waits for in-flight background writes within a
// grace window, and releases the store.
func (m *Manager) Close() error {
	if m.cancel != nil {
		m.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := m.tasks.Drain(ctx); err != nil {
		m.log.Warn(ctx, "background tasks still running at close", "error", err)
	}

	if m.sqls != nil {
		return m.sqls.Close()
	}
	return nil
}

// GetStatus reports store readiness and cache occupancy.
func (m *Manager) GetStatus() Status {
	return Status{
		StoreReady: m.storeReady,
		CacheSizes: m.prefs.Sizes(),
	}
}

// FlushCache drops cached state for one user, or for everyone when email is
// empty.
func (m *Manager) FlushCache(email string) {
	if email == "" {
		m.prefs.FlushAll()
		return
	}
	m.prefs.Flush(email)
}

// Accounts.

func (m *Manager) CreateUser(ctx context.Context, email, displayName, password string) error {
	return m.vault.CreateUser(ctx, email, displayName, password)
}

func (m *Manager) VerifyLogin(ctx context.Context, email, password string) bool {
	return m.vault.VerifyLogin(ctx, email, password)
}

func (m *Manager) UpdatePassword(ctx context.Context, email, newPassword string) bool {
	return m.vault.UpdatePassword(ctx, email, newPassword)
}

// EraseUser removes the account, its dependent rows and its cached state.
func (m *Manager) EraseUser(ctx context.Context, email string) bool {
	ok := m.vault.EraseUser(ctx, email)
	m.prefs.Flush(email)
	return ok
}

func (m *Manager) IssueVerificationCode(ctx context.Context, email, code string) error {
	return m.vault.SaveCode(ctx, email, code)
}

func (m *Manager) ValidateVerificationCode(ctx context.Context, email, code string) error {
	return m.vault.ValidateCode(ctx, email, code)
}

// Sessions.

func (m *Manager) IssueSession(ctx context.Context, email string) string {
	return m.sessions.IssueSession(ctx, email)
}

func (m *Manager) ResolveIdentity(ctx context.Context, token string) (string, error) {
	return m.sessions.ResolveIdentity(ctx, token)
}

func (m *Manager) RevokeSession(ctx context.Context, token string) error {
	return m.sessions.Revoke(ctx, token)
}

// SweepSessions runs one expired-session sweep immediately, outside the
// periodic schedule.
func (m *Manager) SweepSessions(ctx context.Context) (int, error) {
	return m.sessions.SweepExpired(ctx, m.cfg.SweepBatchSize)
}

// Synchronized per-user state.

func (m *Manager) GetConfig(ctx context.Context, email string) map[string]any {
	return m.prefs.GetConfig(ctx, email)
}

func (m *Manager) PutConfig(ctx context.Context, email string, partial map[string]any) {
	m.prefs.PutConfig(ctx, email, partial)
}

func (m *Manager) GetPreferences(ctx context.Context, email string) map[string]bool {
	return m.prefs.GetPreferences(ctx, email)
}

func (m *Manager) PutPreference(ctx context.Context, email, name string, active bool) {
	m.prefs.PutPreference(ctx, email, name, active)
}

func (m *Manager) GetBindings(ctx context.Context, email string) map[string]string {
	return m.prefs.GetBindings(ctx, email)
}

func (m *Manager) PutBinding(ctx context.Context, email, command, action string) {
	m.prefs.PutBinding(ctx, email, command, action)
}

func (m *Manager) RecordCommandUse(ctx context.Context, email, command string) {
	m.prefs.RecordCommandUse(ctx, email, command)
}

// Records.

func (m *Manager) AppendMemory(ctx context.Context, email, category, content string, importance int) {
	m.records.AppendMemory(ctx, email, category, content, importance)
}

func (m *Manager) ListMemories(ctx context.Context, email string, minImportance, limit int) []Memory {
	return m.records.ListMemories(ctx, email, minImportance, limit)
}

func (m *Manager) AppendChatMessage(ctx context.Context, email, contact, text, author string, read bool) {
	m.records.AppendChatMessage(ctx, email, contact, text, author, read)
}

func (m *Manager) ListChat(ctx context.Context, email, contact string, n int) []ChatMessage {
	return m.records.ListChat(ctx, email, contact, n)
}

func (m *Manager) UnreadContacts(ctx context.Context, email string) []string {
	return m.records.UnreadContacts(ctx, email)
}

func (m *Manager) SaveMacro(ctx context.Context, email, trigger string, actions []string) {
	m.records.SaveMacro(ctx, email, trigger, actions)
}

func (m *Manager) ListMacros(ctx context.Context, email string) []Macro {
	return m.records.ListMacros(ctx, email)
}

func (m *Manager) DeleteMacro(ctx context.Context, email, macroID string) error {
	return m.records.DeleteMacro(ctx, email, macroID)
}
