package prefs

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/archeonlabs/cloudcore/internal/identity"
	"github.com/archeonlabs/cloudcore/internal/logging"
	"github.com/archeonlabs/cloudcore/internal/tablestore"
	"github.com/archeonlabs/cloudcore/internal/tablestore/memstore"
	"github.com/archeonlabs/cloudcore/internal/taskq"
)

func newTestService(t *testing.T) (*Service, *memstore.Store, *taskq.Dispatcher) {
	t.Helper()
	store := memstore.New()
	log := logging.NewJSON(&bytes.Buffer{})
	tasks := taskq.New(4, log)
	return NewService(store, tasks, log, time.Minute), store, tasks
}

func drain(t *testing.T, tasks *taskq.Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tasks.Drain(ctx))
}

func TestGetConfig_DefaultsForUnknownUser(t *testing.T) {
	s, _, _ := newTestService(t)

	cfg := s.GetConfig(context.Background(), "Nadia@x.com")
	require.Equal(t, "Archeon", cfg["nombre"])
	require.Equal(t, "dark", cfg["tema"])
	require.Equal(t, "", cfg["voz_id"])
	require.Equal(t, "nadia", cfg["user_name"])
}

func TestGetConfig_StoredBlobOverlaysDefaults(t *testing.T) {
	s, store, _ := newTestService(t)
	ctx := context.Background()

	blob, _ := json.Marshal(map[string]any{"tema": "light"})
	require.NoError(t, store.Insert(ctx, tablestore.Users, tablestore.Row{
		"id":     identity.Derive("a@x.com"),
		"email":  "a@x.com",
		"config": string(blob),
	}))

	cfg := s.GetConfig(ctx, "a@x.com")
	require.Equal(t, "light", cfg["tema"])
	require.Equal(t, "Archeon", cfg["nombre"], "unset fields still come from defaults")
}

func TestPutConfig_VisibleImmediatelyAndPersisted(t *testing.T) {
	s, store, tasks := newTestService(t)
	ctx := context.Background()
	require.NoError(t, store.Insert(ctx, tablestore.Users, tablestore.Row{
		"id":     identity.Derive("a@x.com"),
		"email":  "a@x.com",
		"config": `{"tema":"dark"}`,
	}))

	s.PutConfig(ctx, "a@x.com", map[string]any{"tema": "light"})
	require.Equal(t, "light", s.GetConfig(ctx, "a@x.com")["tema"])

	drain(t, tasks)
	rows, err := store.Select(ctx, tablestore.Users, tablestore.Where("id", identity.Derive("a@x.com")))
	require.NoError(t, err)
	require.Len(t, rows, 1)

	var persisted map[string]any
	require.NoError(t, json.Unmarshal([]byte(rows[0].String("config")), &persisted))
	require.Equal(t, "light", persisted["tema"])
}

func TestPutConfig_RemoteMergePreservesForeignFields(t *testing.T) {
	s, store, tasks := newTestService(t)
	ctx := context.Background()
	require.NoError(t, store.Insert(ctx, tablestore.Users, tablestore.Row{
		"id":     identity.Derive("a@x.com"),
		"email":  "a@x.com",
		"config": `{"tema":"dark","voz_id":"v7"}`,
	}))

	s.PutConfig(ctx, "a@x.com", map[string]any{"tema": "light"})
	drain(t, tasks)

	rows, _ := store.Select(ctx, tablestore.Users, tablestore.Where("id", identity.Derive("a@x.com")))
	var persisted map[string]any
	require.NoError(t, json.Unmarshal([]byte(rows[0].String("config")), &persisted))
	require.Equal(t, "light", persisted["tema"])
	require.Equal(t, "v7", persisted["voz_id"], "fields outside the delta survive the merge")
}

func TestPutConfig_CreatesRowWhenUserMissing(t *testing.T) {
	s, store, tasks := newTestService(t)
	ctx := context.Background()

	s.PutConfig(ctx, "ghost@x.com", map[string]any{"tema": "light"})
	drain(t, tasks)

	rows, err := store.Select(ctx, tablestore.Users, tablestore.Where("id", identity.Derive("ghost@x.com")))
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestPreferences_RoundTrip(t *testing.T) {
	s, store, tasks := newTestService(t)
	ctx := context.Background()

	s.PutPreference(ctx, "a@x.com", "musica", true)
	s.PutPreference(ctx, "a@x.com", "noticias", false)
	got := s.GetPreferences(ctx, "a@x.com")
	require.True(t, got["musica"])
	require.False(t, got["noticias"])

	drain(t, tasks)
	require.Equal(t, 2, store.Count(tablestore.Gustos))

	// a fresh service sees the persisted flags
	s2 := NewService(store, tasks, logging.NewJSON(&bytes.Buffer{}), time.Minute)
	got = s2.GetPreferences(ctx, "a@x.com")
	require.True(t, got["musica"])
	require.False(t, got["noticias"])
}

func TestBindings_RoundTrip(t *testing.T) {
	s, store, tasks := newTestService(t)
	ctx := context.Background()

	s.PutBinding(ctx, "a@x.com", "luz", "toggle_light")
	require.Equal(t, "toggle_light", s.GetBindings(ctx, "a@x.com")["luz"])

	drain(t, tasks)
	rows, err := store.Select(ctx, tablestore.Comandos, tablestore.Where("user_id", identity.Derive("a@x.com")))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "toggle_light", rows[0].String("accion"))
}

func TestRecordCommandUse_IncrementsOnConflict(t *testing.T) {
	s, store, tasks := newTestService(t)
	ctx := context.Background()

	s.RecordCommandUse(ctx, "a@x.com", "luz")
	drain(t, tasks)
	s.RecordCommandUse(ctx, "a@x.com", "luz")
	s.RecordCommandUse(ctx, "a@x.com", "tele")
	drain(t, tasks)

	rows, err := store.Select(ctx, tablestore.Comandos,
		tablestore.Where("user_id", identity.Derive("a@x.com")).Eq("comando", "luz"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, 2, rows[0].Int("usos"))

	rows, err = store.Select(ctx, tablestore.Comandos,
		tablestore.Where("user_id", identity.Derive("a@x.com")).Eq("comando", "tele"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, 1, rows[0].Int("usos"))
}

func TestFlush_ForcesRefetch(t *testing.T) {
	s, store, _ := newTestService(t)
	ctx := context.Background()
	id := identity.Derive("a@x.com")
	require.NoError(t, store.Insert(ctx, tablestore.Users, tablestore.Row{
		"id": id, "email": "a@x.com", "config": `{"tema":"dark"}`,
	}))

	require.Equal(t, "dark", s.GetConfig(ctx, "a@x.com")["tema"])

	// a write from elsewhere is invisible until the entry is flushed
	require.NoError(t, store.Update(ctx, tablestore.Users, tablestore.Where("id", id),
		tablestore.Row{"config": `{"tema":"light"}`}))
	require.Equal(t, "dark", s.GetConfig(ctx, "a@x.com")["tema"])

	s.Flush("a@x.com")
	require.Equal(t, "light", s.GetConfig(ctx, "a@x.com")["tema"])
}

func TestSizes_CountsCachedUsers(t *testing.T) {
	s, _, _ := newTestService(t)
	ctx := context.Background()

	_ = s.GetConfig(ctx, "a@x.com")
	_ = s.GetConfig(ctx, "b@x.com")
	_ = s.GetPreferences(ctx, "a@x.com")

	sizes := s.Sizes()
	require.Equal(t, 2, sizes["config"])
	require.Equal(t, 1, sizes["gustos"])
	require.Equal(t, 0, sizes["comandos"])

	s.FlushAll()
	sizes = s.Sizes()
	require.Equal(t, 0, sizes["config"]+sizes["gustos"]+sizes["comandos"])
}

func TestGetConfig_UnavailableStoreServesDefaults(t *testing.T) {
	log := logging.NewJSON(&bytes.Buffer{})
	tasks := taskq.New(2, log)
	s := NewService(tablestore.Unavailable(), tasks, log, time.Minute)

	cfg := s.GetConfig(context.Background(), "a@x.com")
	require.Equal(t, "dark", cfg["tema"])
	require.Equal(t, "a", cfg["user_name"])
}

func TestPreferences_RecordedUseRowWithoutActionStaysHidden(t *testing.T) {
	s, _, tasks := newTestService(t)
	ctx := context.Background()

	s.RecordCommandUse(ctx, "a@x.com", "luz")
	drain(t, tasks)
	s.Flush("a@x.com")

	got := s.GetBindings(ctx, "a@x.com")
	require.Equal(t, "", got["luz"], "usage-only rows have no action bound")
}