package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sol-beast/internal/domain"
	"sol-beast/internal/storage/memory"
)

func newTestStore(t *testing.T) (*Store, *memory.KVStore) {
	t.Helper()
	kv := memory.NewKVStore()
	return NewStore(kv, StoreOptions{Logger: log.New(io.Discard, "", 0)}), kv
}

func TestStore_InitialState(t *testing.T) {
	store, _ := newTestStore(t)

	run := store.RunState()
	assert.Equal(t, domain.ModeDryRun, run.Mode)
	assert.False(t, run.Running)
	assert.NoError(t, store.Settings().Validate())
	assert.Empty(t, store.Detections())
}

func TestStore_RecordDetectionBoundedUnderConcurrency(t *testing.T) {
	store, _ := newTestStore(t)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				store.RecordDetection(domain.DetectedToken{Signature: fmt.Sprintf("w%d-%d", w, i)})
				store.RecordLog(domain.LevelInfo, "tick", "")
			}
		}(w)
	}
	wg.Wait()

	assert.Len(t, store.Detections(), DefaultTokenCapacity)
	assert.Len(t, store.Logs(), DefaultLogCapacity)
}

func TestStore_DetectionsNewestFirst(t *testing.T) {
	store, _ := newTestStore(t)
	store.RecordDetection(domain.DetectedToken{Signature: "first"})
	store.RecordDetection(domain.DetectedToken{Signature: "second"})

	got := store.Detections()
	require.Len(t, got, 2)
	assert.Equal(t, "second", got[0].Signature)
	assert.Equal(t, "first", got[1].Signature)
}

func TestStore_RecordLogAssignsIDs(t *testing.T) {
	store, _ := newTestStore(t)
	store.RecordLog(domain.LevelWarn, "a", "details")
	store.RecordLog(domain.LevelInfo, "b", "")

	logs := store.Logs()
	require.Len(t, logs, 2)
	assert.NotEmpty(t, logs[0].ID)
	assert.NotEqual(t, logs[0].ID, logs[1].ID)
	assert.Equal(t, "details", logs[1].Details)
	assert.False(t, logs[0].Timestamp.IsZero())
}

func TestStore_SetModeRejectsInvalid(t *testing.T) {
	store, kv := newTestStore(t)

	for _, raw := range []string{"live", "", "real\r", "dry-run\x00"} {
		err := store.SetMode(raw)
		var verr *domain.ValidationError
		assert.True(t, errors.As(err, &verr), "SetMode(%q) should be a validation error, got %v", raw, err)
	}

	assert.Equal(t, domain.ModeDryRun, store.RunState().Mode)
	_, ok, _ := kv.Get(context.Background(), KeyMode)
	assert.False(t, ok, "rejected mode must not be persisted")
}

func TestStore_SetModePersists(t *testing.T) {
	store, kv := newTestStore(t)

	require.NoError(t, store.SetMode("real"))
	assert.Equal(t, domain.ModeReal, store.RunState().Mode)

	v, ok, err := kv.Get(context.Background(), KeyMode)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "real", v)
}

func TestStore_SetModeLockedWhileRunning(t *testing.T) {
	store, _ := newTestStore(t)

	require.NoError(t, store.Start())
	assert.ErrorIs(t, store.SetMode("real"), ErrModeLocked)
	assert.Equal(t, domain.ModeDryRun, store.RunState().Mode)
}

func TestStore_StartStop(t *testing.T) {
	store, _ := newTestStore(t)

	assert.ErrorIs(t, store.Stop(), ErrNotRunning)
	require.NoError(t, store.Start())
	assert.ErrorIs(t, store.Start(), ErrAlreadyRunning)
	assert.True(t, store.RunState().Running)
	require.NoError(t, store.Stop())
	assert.False(t, store.RunState().Running)
}

func TestStore_UpdateSettingsValidates(t *testing.T) {
	store, kv := newTestStore(t)

	bad := domain.DefaultSettings()
	bad.BuyAmount = -1
	err := store.UpdateSettings(bad)
	var verr *domain.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "buy_amount", verr.Field)
	assert.Equal(t, 0.1, store.Settings().BuyAmount)
	assert.Equal(t, 0, kv.SetCount())

	good := domain.DefaultSettings()
	good.BuyAmount = 0.5
	require.NoError(t, store.UpdateSettings(good))
	assert.Equal(t, 0.5, store.Settings().BuyAmount)

	raw, ok, err := kv.Get(context.Background(), KeySettings)
	require.NoError(t, err)
	require.True(t, ok)
	var stored domain.Settings
	require.NoError(t, json.Unmarshal([]byte(raw), &stored))
	assert.Equal(t, 0.5, stored.BuyAmount)
}

func TestStore_UpdateSettingsPersistFailureKeepsCommit(t *testing.T) {
	store, kv := newTestStore(t)
	kv.FailSets(true)

	next := domain.DefaultSettings()
	next.MaxLiquiditySOL = 42
	require.NoError(t, store.UpdateSettings(next))
	assert.Equal(t, 42.0, store.Settings().MaxLiquiditySOL)

	var warned bool
	for _, entry := range store.Logs() {
		if entry.Level == domain.LevelWarn {
			warned = true
		}
	}
	assert.True(t, warned, "persist failure should be recorded as a warning")
}

// gatedKV holds the first Set of KeySettings until release is closed.
type gatedKV struct {
	*memory.KVStore
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedKV) Set(ctx context.Context, key, value string) error {
	if key == KeySettings {
		first := false
		g.once.Do(func() { first = true })
		if first {
			close(g.entered)
			<-g.release
		}
	}
	return g.KVStore.Set(ctx, key, value)
}

func TestStore_ConcurrentUpdatesPersistLastCommit(t *testing.T) {
	kv := &gatedKV{KVStore: memory.NewKVStore(), entered: make(chan struct{}), release: make(chan struct{})}
	store := NewStore(kv, StoreOptions{Logger: log.New(io.Discard, "", 0)})

	first := domain.DefaultSettings()
	first.BuyAmount = 0.2
	second := domain.DefaultSettings()
	second.BuyAmount = 0.3

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		assert.NoError(t, store.UpdateSettings(first))
	}()
	<-kv.entered

	go func() {
		defer wg.Done()
		assert.NoError(t, store.UpdateSettings(second))
	}()
	require.Eventually(t, func() bool { return store.Settings().BuyAmount == 0.3 }, 2*time.Second, time.Millisecond)

	close(kv.release)
	wg.Wait()

	raw, ok, err := kv.Get(context.Background(), KeySettings)
	require.NoError(t, err)
	require.True(t, ok)
	var stored domain.Settings
	require.NoError(t, json.Unmarshal([]byte(raw), &stored))
	assert.Equal(t, 0.3, stored.BuyAmount)
	assert.Equal(t, 0.3, store.Settings().BuyAmount)
}

func TestStore_SettingsReturnsCopy(t *testing.T) {
	store, _ := newTestStore(t)
	s := store.Settings()
	s.SolanaRPCURLs[0] = "http://mutated"
	assert.Equal(t, domain.DefaultSolanaRPCURL, store.Settings().SolanaRPCURLs[0])
}

// poison simulates a holder that panicked halfway through a mutation.
func poison(store *Store, mutate func(*Store)) {
	defer func() { _ = recover() }()
	store.withLock(true, func() {
		mutate(store)
		panic("interrupted mutation")
	})
}

func TestStore_RecoversFromInterruptedMutation(t *testing.T) {
	store, kv := newTestStore(t)

	poison(store, func(s *Store) {
		s.settings.TPPercent = -10
	})
	require.False(t, store.valid)

	settings := store.Settings()
	assert.NoError(t, settings.Validate())
	assert.Equal(t, domain.DefaultSettings().TPPercent, settings.TPPercent)
	assert.True(t, store.valid)

	raw, ok, err := kv.Get(context.Background(), KeySettings)
	require.NoError(t, err)
	assert.True(t, ok, "defaults should be persisted after recovery")
	assert.Contains(t, raw, `"tp_percent":100`)
}

func TestStore_RecoveryKeepsValidSettings(t *testing.T) {
	store, kv := newTestStore(t)

	next := domain.DefaultSettings()
	next.BuyAmount = 0.25
	require.NoError(t, store.UpdateSettings(next))
	sets := kv.SetCount()

	poison(store, func(s *Store) {
		s.tokens.Push(domain.DetectedToken{Signature: "partial"})
	})

	assert.Equal(t, 0.25, store.Settings().BuyAmount)
	assert.Equal(t, sets, kv.SetCount(), "valid settings are not rewritten")
	assert.Len(t, store.Detections(), 1)
}
