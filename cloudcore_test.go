package cloudcore

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/archeonlabs/cloudcore/internal/common"
	"github.com/archeonlabs/cloudcore/internal/identity"
	"github.com/archeonlabs/cloudcore/internal/logging"
	"github.com/archeonlabs/cloudcore/internal/tablestore"
	"github.com/archeonlabs/cloudcore/internal/tablestore/memstore"
)

func testConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	cfg.SecretKey = "test-secret"
	cfg.Workers = 4
	return cfg
}

func newTestManager(t *testing.T) (*Manager, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	m, err := NewWithStore(testConfig(), logging.NewJSON(&bytes.Buffer{}), store)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, m.Close()) })
	return m, store
}

func TestNew_EmptySecretRefused(t *testing.T) {
	cfg := testConfig()
	cfg.SecretKey = ""
	_, err := NewWithStore(cfg, logging.NewJSON(&bytes.Buffer{}), memstore.New())
	require.Error(t, err)
}

func TestLifecycle_CreateLoginSessionAndState(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.CreateUser(ctx, "ana@x.com", "Ana", "pw123456"))
	require.ErrorIs(t, m.CreateUser(ctx, "ana@x.com", "Ana2", "other"), common.ErrAlreadyExists)

	require.True(t, m.VerifyLogin(ctx, "ana@x.com", "pw123456"))
	require.False(t, m.VerifyLogin(ctx, "ana@x.com", "wrong"))

	token := m.IssueSession(ctx, "ana@x.com")
	require.Contains(t, token, ":")
	id, err := m.ResolveIdentity(ctx, token)
	require.NoError(t, err)
	require.Equal(t, "ana@x.com", id)

	// tampering with the signed part fails closed
	_, err = m.ResolveIdentity(ctx, token+"x")
	require.Error(t, err)

	m.PutConfig(ctx, "ana@x.com", map[string]any{"tema": "light"})
	require.Equal(t, "light", m.GetConfig(ctx, "ana@x.com")["tema"])
}

func TestGuestSession_NeverPersisted(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()

	token := m.IssueSession(ctx, "guest")
	require.True(t, strings.HasPrefix(token, "guest_"))
	require.Equal(t, 0, store.Count(tablestore.Sessions))

	id, err := m.ResolveIdentity(ctx, token)
	require.NoError(t, err)
	require.Equal(t, token, id, "guest tokens are their own identity")
}

func TestDegradedMode_UnavailableStore(t *testing.T) {
	cfg := testConfig()
	m, err := NewWithStore(cfg, logging.NewJSON(&bytes.Buffer{}), tablestore.Unavailable())
	require.NoError(t, err)
	defer m.Close()
	ctx := context.Background()

	token := m.IssueSession(ctx, "ana@x.com")
	require.True(t, strings.HasPrefix(token, "offline_"))

	id, err := m.ResolveIdentity(ctx, token)
	require.NoError(t, err)
	require.Equal(t, identity.Offline, id)

	require.False(t, m.VerifyLogin(ctx, "ana@x.com", "pw"))
	require.Equal(t, "dark", m.GetConfig(ctx, "ana@x.com")["tema"], "defaults keep the caller working")
	require.Empty(t, m.ListMemories(ctx, "ana@x.com", 1, 10))
}

func TestEraseUser_RemovesRowsAndCache(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.CreateUser(ctx, "ana@x.com", "Ana", "pw123456"))
	m.PutConfig(ctx, "ana@x.com", map[string]any{"tema": "light"})
	m.AppendMemory(ctx, "ana@x.com", "personal", "dato", 3)
	require.NoError(t, m.Close()) // drain pending writes
	require.NotZero(t, store.Count(tablestore.Memoria))

	m2, err := NewWithStore(testConfig(), logging.NewJSON(&bytes.Buffer{}), store)
	require.NoError(t, err)
	defer m2.Close()

	require.True(t, m2.EraseUser(ctx, "ana@x.com"))
	require.Equal(t, 0, store.Count(tablestore.Users))
	require.Equal(t, 0, store.Count(tablestore.Memoria))
	require.True(t, m2.EraseUser(ctx, "ana@x.com"), "erasing again is still a success")
}

func TestVerificationCodes_SingleUse(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.IssueVerificationCode(ctx, "ana@x.com", "123456"))
	require.ErrorIs(t, m.ValidateVerificationCode(ctx, "ana@x.com", "000000"), common.ErrValidationFailed)
	require.NoError(t, m.ValidateVerificationCode(ctx, "ana@x.com", "123456"))
	require.ErrorIs(t, m.ValidateVerificationCode(ctx, "ana@x.com", "123456"), common.ErrNotFound)
}

func TestMacrosAndChat_EndToEnd(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	m.SaveMacro(ctx, "ana@x.com", "buenas noches", []string{"luz off", "alarma on"})
	m.AppendChatMessage(ctx, "ana@x.com", "luis", "hola", "luis", false)
	m.RecordCommandUse(ctx, "ana@x.com", "luz")

	require.NoError(t, m.Close())

	macros := m.ListMacros(ctx, "ana@x.com")
	require.Len(t, macros, 1)
	require.Equal(t, []string{"luz off", "alarma on"}, macros[0].Actions)

	chat := m.ListChat(ctx, "ana@x.com", "luis", 10)
	require.Len(t, chat, 1)
	require.ElementsMatch(t, []string{"luis"}, m.UnreadContacts(ctx, "ana@x.com"))
}

func TestStatusAndFlush(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	st := m.GetStatus()
	require.True(t, st.StoreReady)
	require.Equal(t, 0, st.CacheSizes["config"])

	_ = m.GetConfig(ctx, "ana@x.com")
	_ = m.GetConfig(ctx, "luis@x.com")
	require.Equal(t, 2, m.GetStatus().CacheSizes["config"])

	m.FlushCache("ana@x.com")
	require.Equal(t, 1, m.GetStatus().CacheSizes["config"])

	m.FlushCache("")
	require.Equal(t, 0, m.GetStatus().CacheSizes["config"])
}

func TestStartAndClose_SweeperLifecycle(t *testing.T) {
	store := memstore.New()
	cfg := testConfig()
	cfg.SweepInitialDelay = time.Millisecond
	cfg.SweepInterval = 5 * time.Millisecond
	m, err := NewWithStore(cfg, logging.NewJSON(&bytes.Buffer{}), store)
	require.NoError(t, err)

	// an already-expired session row for the sweeper to collect
	past := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, store.Insert(context.Background(), tablestore.Sessions, tablestore.Row{
		"token": "stale", "email": "ana@x.com", "firma": "f", "creado": past, "expira": past,
	}))

	m.Start(context.Background())
	require.Eventually(t, func() bool { return store.Count(tablestore.Sessions) == 0 },
		2*time.Second, time.Millisecond)
	require.NoError(t, m.Close())
}
