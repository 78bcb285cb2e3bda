package state

import (
	"strings"

	"sol-beast/internal/domain"
)

// SanitizeSettings repairs a parsed-but-invalid Settings value field by field.
// Unusable URLs are dropped; anything left empty or out of range falls back to
// the default for that field. The result may still fail Validate only if the
// defaults themselves do.
func SanitizeSettings(s domain.Settings) domain.Settings {
	def := domain.DefaultSettings()
	out := s.Clone()

	out.SolanaRPCURLs = filterURLs(out.SolanaRPCURLs, "http://", "https://")
	if len(out.SolanaRPCURLs) == 0 {
		out.SolanaRPCURLs = def.SolanaRPCURLs
	}
	out.SolanaWSURLs = filterURLs(out.SolanaWSURLs, "ws://", "wss://")
	if len(out.SolanaWSURLs) == 0 {
		out.SolanaWSURLs = def.SolanaWSURLs
	}

	if strings.TrimSpace(out.PumpFunProgram) == "" || strings.ContainsRune(out.PumpFunProgram, 0) {
		out.PumpFunProgram = def.PumpFunProgram
	}
	if strings.TrimSpace(out.MetadataProgram) == "" || strings.ContainsRune(out.MetadataProgram, 0) {
		out.MetadataProgram = def.MetadataProgram
	}

	if out.TPPercent <= 0 {
		out.TPPercent = def.TPPercent
	}
	if out.SLPercent >= 0 {
		out.SLPercent = def.SLPercent
	}
	if out.BuyAmount <= 0 {
		out.BuyAmount = def.BuyAmount
	}
	if out.TimeoutSecs <= 0 {
		out.TimeoutSecs = def.TimeoutSecs
	}
	if out.CacheCapacity <= 0 {
		out.CacheCapacity = def.CacheCapacity
	}
	if out.MaxConcurrentDetections <= 0 {
		out.MaxConcurrentDetections = def.MaxConcurrentDetections
	}
	if out.MaxSOLPerToken <= 0 {
		out.MaxSOLPerToken = def.MaxSOLPerToken
	}
	if out.MinLiquiditySOL < 0 || out.MaxLiquiditySOL < out.MinLiquiditySOL {
		out.MinLiquiditySOL = def.MinLiquiditySOL
		out.MaxLiquiditySOL = def.MaxLiquiditySOL
	}
	if out.CustomRule != "" {
		if _, err := domain.CompileRule(out.CustomRule); err != nil {
			out.CustomRule = ""
		}
	}

	return out
}

func filterURLs(urls []string, schemes ...string) []string {
	kept := make([]string, 0, len(urls))
	for _, u := range urls {
		if domain.ValidURL(u, schemes...) {
			kept = append(kept, u)
		}
	}
	return kept
}
