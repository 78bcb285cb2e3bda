// Package state holds the single source of truth for settings, run state,
// detections and operator logs.
package state

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"sol-beast/internal/domain"
	"sol-beast/internal/observability"
	"sol-beast/internal/storage"
)

// Default ring capacities.
const (
	DefaultTokenCapacity = 50
	DefaultLogCapacity   = 200
)

// Command errors returned to operators.
var (
	ErrAlreadyRunning = errors.New("bot is already running")
	ErrNotRunning     = errors.New("bot is not running")
	ErrModeLocked     = errors.New("cannot change mode while bot is running")
)

// StoreOptions configures a Store.
type StoreOptions struct {
	TokenCapacity int         // Default: DefaultTokenCapacity
	LogCapacity   int         // Default: DefaultLogCapacity
	Logger        *log.Logger // Default: log.Default()
	Now           func() time.Time
}

// Store guards settings, run state and both ring buffers behind one mutex.
//
// valid is cleared for the duration of every mutation. A panic while
// mutating leaves it cleared, and the next holder validates the payload
// before trusting it.
type Store struct {
	mu       sync.Mutex
	valid    bool
	settings domain.Settings
	run      domain.RunState
	tokens   *Ring[domain.DetectedToken]
	logs     *Ring[domain.LogEntry]

	// persistMu orders KV writes; it is never taken while mu is held.
	persistMu sync.Mutex
	kv        storage.KV
	logger    *log.Logger
	now       func() time.Time
	timeout   time.Duration
}

// NewStore creates a store holding default settings.
// Call Load to restore persisted values.
func NewStore(kv storage.KV, opts StoreOptions) *Store {
	tokenCap := opts.TokenCapacity
	if tokenCap <= 0 {
		tokenCap = DefaultTokenCapacity
	}
	logCap := opts.LogCapacity
	if logCap <= 0 {
		logCap = DefaultLogCapacity
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Store{
		valid:    true,
		settings: domain.DefaultSettings(),
		run:      domain.InitialRunState(),
		tokens:   NewRing[domain.DetectedToken](tokenCap),
		logs:     NewRing[domain.LogEntry](logCap),
		kv:       kv,
		logger:   logger,
		now:      now,
		timeout:  5 * time.Second,
	}
}

// withLock runs fn under the mutex. When mutating, valid is cleared until fn
// returns normally. Returns true when recovery replaced the settings with
// defaults, so the caller must persist them once the lock is released.
func (s *Store) withLock(mutating bool, fn func()) (reset bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.valid {
		reset = s.recoverLocked()
	}
	if mutating {
		s.valid = false
	}
	fn()
	s.valid = true
	return reset
}

// recoverLocked validates every guarded field after an interrupted mutation.
func (s *Store) recoverLocked() (settingsReset bool) {
	observability.RecordStoreRecovery()

	if err := s.settings.Validate(); err != nil {
		s.logger.Printf("[store] recovered inconsistent state, settings invalid (%v), restoring defaults", err)
		s.settings = domain.DefaultSettings()
		settingsReset = true
	} else {
		s.logger.Printf("[store] recovered inconsistent state, settings still valid")
	}
	if !s.run.Mode.IsValid() {
		s.run = domain.InitialRunState()
	}
	if !s.tokens.consistent() {
		s.tokens.Reset()
	}
	if !s.logs.consistent() {
		s.logs.Reset()
	}
	s.valid = true
	return settingsReset
}

// Settings returns a copy of the current settings. Never fails.
func (s *Store) Settings() domain.Settings {
	var out domain.Settings
	reset := s.withLock(false, func() {
		out = s.settings.Clone()
	})
	if reset {
		s.persistSettings()
	}
	return out
}

// UpdateSettings validates next and commits it. A persistence failure is
// logged but the in-memory commit stands.
func (s *Store) UpdateSettings(next domain.Settings) error {
	if err := next.Validate(); err != nil {
		return err
	}
	next = next.Clone()

	s.withLock(true, func() {
		s.settings = next
	})
	s.persistSettings()
	s.RecordLog(domain.LevelInfo, "Settings updated", "")
	return nil
}

// RunState returns the current run state. Never fails.
func (s *Store) RunState() domain.RunState {
	var out domain.RunState
	s.afterLock(s.withLock(false, func() {
		out = s.run
	}))
	return out
}

// SetMode switches between dry-run and real. Invalid input and changes while
// running leave the state untouched.
func (s *Store) SetMode(raw string) error {
	mode, err := domain.ParseMode(raw)
	if err != nil {
		return err
	}

	var cmdErr error
	s.afterLock(s.withLock(true, func() {
		if s.run.Running {
			cmdErr = ErrModeLocked
			return
		}
		s.run.Mode = mode
	}))
	if cmdErr != nil {
		return cmdErr
	}

	s.persistMode()
	s.RecordLog(domain.LevelInfo, "Mode set to "+mode.String(), "")
	return nil
}

// Start marks the bot running.
func (s *Store) Start() error {
	var cmdErr error
	var mode domain.Mode
	s.afterLock(s.withLock(true, func() {
		if s.run.Running {
			cmdErr = ErrAlreadyRunning
			return
		}
		s.run.Running = true
		mode = s.run.Mode
	}))
	if cmdErr != nil {
		return cmdErr
	}
	s.RecordLog(domain.LevelInfo, "Bot started in "+mode.String()+" mode", "")
	return nil
}

// Stop marks the bot stopped.
func (s *Store) Stop() error {
	var cmdErr error
	s.afterLock(s.withLock(true, func() {
		if !s.run.Running {
			cmdErr = ErrNotRunning
			return
		}
		s.run.Running = false
	}))
	if cmdErr != nil {
		return cmdErr
	}
	s.RecordLog(domain.LevelInfo, "Bot stopped", "")
	return nil
}

// RecordDetection appends a detection, evicting the oldest when full.
func (s *Store) RecordDetection(t domain.DetectedToken) {
	var n int
	s.afterLock(s.withLock(true, func() {
		s.tokens.Push(t)
		n = s.tokens.Len()
	}))
	observability.SetDetectionsRetained(n)
}

// RecordLog appends an operator log entry and mirrors it to the process logger.
func (s *Store) RecordLog(level domain.LogLevel, message, details string) {
	entry := domain.LogEntry{
		ID:        uuid.New().String(),
		Timestamp: s.now(),
		Level:     level,
		Message:   message,
		Details:   details,
	}
	s.afterLock(s.withLock(true, func() {
		s.logs.Push(entry)
	}))

	if details != "" {
		s.logger.Printf("[%s] %s: %s", level, message, details)
	} else {
		s.logger.Printf("[%s] %s", level, message)
	}
}

// Logf is RecordLog with formatting and no details.
func (s *Store) Logf(level domain.LogLevel, format string, args ...any) {
	s.RecordLog(level, fmt.Sprintf(format, args...), "")
}

// Detections returns retained detections, newest first. Never fails.
func (s *Store) Detections() []domain.DetectedToken {
	var out []domain.DetectedToken
	s.afterLock(s.withLock(false, func() {
		out = s.tokens.Newest()
	}))
	return out
}

// Logs returns retained log entries, newest first. Never fails.
func (s *Store) Logs() []domain.LogEntry {
	var out []domain.LogEntry
	s.afterLock(s.withLock(false, func() {
		out = s.logs.Newest()
	}))
	return out
}

// afterLock persists defaults when a recovery reset the settings.
func (s *Store) afterLock(reset bool) {
	if reset {
		s.persistSettings()
	}
}
