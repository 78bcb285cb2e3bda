package state

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"sol-beast/internal/domain"
	"sol-beast/internal/observability"
)

// Persistence keys.
const (
	KeySettings = "sol_beast_settings"
	KeyMode     = "sol_beast_mode"
)

// PersistenceError describes corrupt or unreadable stored state.
// It is logged and recovered, never returned to command callers.
type PersistenceError struct {
	Key    string
	Reason string
	Err    error
}

func (e *PersistenceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("persistence %s: %s: %v", e.Key, e.Reason, e.Err)
	}
	return fmt.Sprintf("persistence %s: %s", e.Key, e.Reason)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Load restores settings and mode from the KV surface. Corrupt values are
// discarded and their slot cleared; defaults are used instead. Loading twice
// yields the same state.
func (s *Store) Load(ctx context.Context) {
	settings, repaired := s.loadSettings(ctx)
	mode := s.loadMode(ctx)

	s.withLock(true, func() {
		s.settings = settings
		if !s.run.Running {
			s.run.Mode = mode
		}
	})
	if repaired {
		s.persistSettings()
	}
}

// loadSettings reports repaired when sanitizing changed the stored value and
// the slot should be rewritten.
func (s *Store) loadSettings(ctx context.Context) (settings domain.Settings, repaired bool) {
	raw, ok := s.read(ctx, KeySettings)
	if !ok {
		return domain.DefaultSettings(), false
	}

	if perr := checkRaw(KeySettings, raw); perr != nil {
		s.discard(ctx, perr)
		return domain.DefaultSettings(), false
	}

	settings, err := decodeSettings(raw)
	if err != nil {
		s.discard(ctx, &PersistenceError{Key: KeySettings, Reason: "parse failed", Err: err})
		return domain.DefaultSettings(), false
	}

	if err := settings.Validate(); err != nil {
		fixed := SanitizeSettings(settings)
		if rerr := fixed.Validate(); rerr != nil {
			s.discard(ctx, &PersistenceError{Key: KeySettings, Reason: "invalid after sanitize", Err: rerr})
			return domain.DefaultSettings(), false
		}
		s.logger.Printf("[store] stored settings invalid (%v), sanitized", err)
		return fixed, true
	}

	return settings, false
}

func (s *Store) loadMode(ctx context.Context) domain.Mode {
	raw, ok := s.read(ctx, KeyMode)
	if !ok {
		return domain.ModeDryRun
	}
	if perr := checkRaw(KeyMode, raw); perr != nil {
		s.discard(ctx, perr)
		return domain.ModeDryRun
	}
	mode, err := domain.ParseMode(strings.TrimSpace(raw))
	if err != nil {
		s.discard(ctx, &PersistenceError{Key: KeyMode, Reason: "unrecognized mode", Err: err})
		return domain.ModeDryRun
	}
	return mode
}

// checkRaw rejects content that must not reach the decoder.
func checkRaw(key, raw string) *PersistenceError {
	if strings.TrimSpace(raw) == "" {
		return &PersistenceError{Key: key, Reason: "empty value"}
	}
	if strings.ContainsRune(raw, 0) {
		return &PersistenceError{Key: key, Reason: "contains null bytes"}
	}
	return nil
}

// decodeSettings parses stored JSON. Decoder panics are turned into errors.
func decodeSettings(raw string) (settings domain.Settings, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("decoder panic: %v", r)
		}
	}()

	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()

	// Start from defaults so fields added after the value was written get sane values.
	settings = domain.DefaultSettings()
	settings.SolanaRPCURLs = nil
	settings.SolanaWSURLs = nil
	if err := dec.Decode(&settings); err != nil {
		return domain.Settings{}, err
	}
	if dec.More() {
		return domain.Settings{}, fmt.Errorf("trailing data after settings object")
	}
	return settings, nil
}

func (s *Store) read(ctx context.Context, key string) (string, bool) {
	if s.kv == nil {
		return "", false
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	raw, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		s.logger.Printf("[store] read %s failed: %v", key, err)
		return "", false
	}
	return raw, ok
}

// discard logs a persistence error and clears the slot.
func (s *Store) discard(ctx context.Context, perr *PersistenceError) {
	s.logger.Printf("[store] %v, clearing stored value and using defaults", perr)
	s.RecordLog(domain.LevelWarn, "Discarded corrupted stored state", perr.Error())

	if s.kv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.kv.Remove(ctx, perr.Key); err != nil {
		s.logger.Printf("[store] clear %s failed: %v", perr.Key, err)
	}
}

// persistSettings writes the settings held in memory at the time of the
// write. Writes are serialized by persistMu, so the slot ends up holding the
// last committed value even when commits race.
func (s *Store) persistSettings() {
	if s.kv == nil {
		return
	}
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	var current domain.Settings
	s.withLock(false, func() {
		current = s.settings.Clone()
	})
	data, err := json.Marshal(current)
	if err != nil {
		s.logger.Printf("[store] marshal settings: %v", err)
		return
	}
	s.persist(KeySettings, string(data))
}

// persistMode writes the current mode under persistMu.
func (s *Store) persistMode() {
	if s.kv == nil {
		return
	}
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	var mode domain.Mode
	s.withLock(false, func() {
		mode = s.run.Mode
	})
	s.persist(KeyMode, mode.String())
}

// persist writes one key. Failures are logged, counted and recorded as a
// warning; callers never see them. Callers hold persistMu.
func (s *Store) persist(key, value string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.kv.Set(ctx, key, value); err != nil {
		observability.RecordPersistFailure(key)
		s.RecordLog(domain.LevelWarn, "Failed to persist "+key, err.Error())
	}
}
