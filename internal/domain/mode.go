package domain

import (
	"strings"
	"unicode"
)

// Mode is the bot execution mode.
type Mode string

const (
	// ModeDryRun evaluates and records detections without executing trades.
	ModeDryRun Mode = "dry-run"
	// ModeReal hands accepted detections to the trade executor.
	ModeReal Mode = "real"
)

// String returns the string representation of Mode.
func (m Mode) String() string {
	return string(m)
}

// IsValid checks if the mode is a recognized value.
func (m Mode) IsValid() bool {
	return m == ModeDryRun || m == ModeReal
}

// IsLive reports whether detections may be handed off for execution.
func (m Mode) IsLive() bool {
	return m == ModeReal
}

// ParseMode validates raw operator input and returns the Mode.
// Control characters are rejected before the value is compared.
func ParseMode(raw string) (Mode, error) {
	if strings.IndexFunc(raw, unicode.IsControl) >= 0 {
		return "", &ValidationError{Field: "mode", Reason: "contains control characters"}
	}
	m := Mode(raw)
	if !m.IsValid() {
		return "", &ValidationError{Field: "mode", Reason: "must be 'dry-run' or 'real', got '" + raw + "'"}
	}
	return m, nil
}

// RunState is the operator-controlled lifecycle state.
type RunState struct {
	Mode    Mode `json:"mode"`
	Running bool `json:"running"`
}

// InitialRunState is the state at process start.
func InitialRunState() RunState {
	return RunState{Mode: ModeDryRun, Running: false}
}

// Status returns "running" or "stopped".
func (r RunState) Status() string {
	if r.Running {
		return "running"
	}
	return "stopped"
}
