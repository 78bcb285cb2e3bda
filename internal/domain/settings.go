package domain

import (
	"fmt"
	"strings"
)

// Well-known Solana program IDs and public endpoints.
const (
	PumpFunProgram       = "6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P"
	MetadataProgram      = "metaqbxxUerdq28cj1RbAWkYQm3ybzjb6a8bt518x1s"
	DefaultSolanaRPCURL  = "https://api.mainnet-beta.solana.com/"
	DefaultSolanaWSURL   = "wss://api.mainnet-beta.solana.com/"
	DefaultCacheCapacity = 1024
)

// Settings is the operator-tunable configuration.
// Persisted as JSON; field names are part of the stored format.
type Settings struct {
	SolanaWSURLs  []string `json:"solana_ws_urls"`
	SolanaRPCURLs []string `json:"solana_rpc_urls"`

	PumpFunProgram  string `json:"pump_fun_program"`
	MetadataProgram string `json:"metadata_program"`

	// Heuristics
	BuyAmount          float64 `json:"buy_amount"`
	MinTokensThreshold uint64  `json:"min_tokens_threshold"`
	MaxSOLPerToken     float64 `json:"max_sol_per_token"`
	MinLiquiditySOL    float64 `json:"min_liquidity_sol"`
	MaxLiquiditySOL    float64 `json:"max_liquidity_sol"`
	EnableSaferSniping bool    `json:"enable_safer_sniping"`
	CustomRule         string  `json:"custom_rule,omitempty"`

	// Position sizing, consumed by the trade executor
	TPPercent   float64 `json:"tp_percent"`
	SLPercent   float64 `json:"sl_percent"`
	TimeoutSecs int64   `json:"timeout_secs"`

	CacheCapacity           int `json:"cache_capacity"`
	MaxConcurrentDetections int `json:"max_concurrent_detections"`
}

// DefaultSettings returns the settings used when nothing valid is stored.
func DefaultSettings() Settings {
	return Settings{
		SolanaWSURLs:            []string{DefaultSolanaWSURL},
		SolanaRPCURLs:           []string{DefaultSolanaRPCURL},
		PumpFunProgram:          PumpFunProgram,
		MetadataProgram:         MetadataProgram,
		BuyAmount:               0.1,
		MinTokensThreshold:      1_000_000,
		MaxSOLPerToken:          0.0001,
		MinLiquiditySOL:         0.0,
		MaxLiquiditySOL:         100.0,
		EnableSaferSniping:      false,
		TPPercent:               100.0,
		SLPercent:               -50.0,
		TimeoutSecs:             50,
		CacheCapacity:           DefaultCacheCapacity,
		MaxConcurrentDetections: 8,
	}
}

// Clone returns a deep copy.
func (s Settings) Clone() Settings {
	out := s
	out.SolanaWSURLs = append([]string(nil), s.SolanaWSURLs...)
	out.SolanaRPCURLs = append([]string(nil), s.SolanaRPCURLs...)
	return out
}

// Validate checks every field and returns the first failure.
func (s Settings) Validate() error {
	if s.TPPercent <= 0 {
		return &ValidationError{Field: "tp_percent", Reason: "must be positive"}
	}
	if s.SLPercent >= 0 {
		return &ValidationError{Field: "sl_percent", Reason: "must be negative"}
	}
	if s.BuyAmount <= 0 {
		return &ValidationError{Field: "buy_amount", Reason: "must be positive"}
	}
	if s.TimeoutSecs <= 0 {
		return &ValidationError{Field: "timeout_secs", Reason: "must be positive"}
	}
	if s.CacheCapacity <= 0 {
		return &ValidationError{Field: "cache_capacity", Reason: "must be positive"}
	}
	if s.MaxConcurrentDetections <= 0 {
		return &ValidationError{Field: "max_concurrent_detections", Reason: "must be positive"}
	}
	if s.MinLiquiditySOL < 0 {
		return &ValidationError{Field: "min_liquidity_sol", Reason: "must not be negative"}
	}
	if s.MaxLiquiditySOL < s.MinLiquiditySOL {
		return &ValidationError{Field: "max_liquidity_sol", Reason: "must be >= min_liquidity_sol"}
	}
	if s.MaxSOLPerToken <= 0 {
		return &ValidationError{Field: "max_sol_per_token", Reason: "must be positive"}
	}

	if err := validateURLs("solana_rpc_urls", s.SolanaRPCURLs, "http://", "https://"); err != nil {
		return err
	}
	if err := validateURLs("solana_ws_urls", s.SolanaWSURLs, "ws://", "wss://"); err != nil {
		return err
	}
	if err := validateProgramID("pump_fun_program", s.PumpFunProgram); err != nil {
		return err
	}
	if err := validateProgramID("metadata_program", s.MetadataProgram); err != nil {
		return err
	}

	if s.CustomRule != "" {
		if _, err := CompileRule(s.CustomRule); err != nil {
			return &ValidationError{Field: "custom_rule", Reason: err.Error()}
		}
	}
	return nil
}

// ValidURL reports whether u is usable as an endpoint with one of the schemes.
func ValidURL(u string, schemes ...string) bool {
	if strings.TrimSpace(u) == "" || strings.ContainsRune(u, 0) {
		return false
	}
	for _, scheme := range schemes {
		if strings.HasPrefix(u, scheme) && len(u) > len(scheme) {
			return true
		}
	}
	return false
}

func validateURLs(field string, urls []string, schemes ...string) error {
	if len(urls) == 0 {
		return &ValidationError{Field: field, Reason: "at least one URL is required"}
	}
	for i, u := range urls {
		if !ValidURL(u, schemes...) {
			return &ValidationError{Field: field, Reason: fmt.Sprintf("entry %d is not a valid %s URL", i, strings.Join(schemes, "/"))}
		}
	}
	return nil
}

func validateProgramID(field, id string) error {
	if strings.TrimSpace(id) == "" {
		return &ValidationError{Field: field, Reason: "must not be empty"}
	}
	if strings.ContainsRune(id, 0) {
		return &ValidationError{Field: field, Reason: "contains null byte"}
	}
	return nil
}
