package domain

import "time"

// DetectedToken is one evaluated token creation. Never mutated after recording.
type DetectedToken struct {
	Signature     string    `json:"signature"`
	Mint          string    `json:"mint"`
	Creator       string    `json:"creator"`
	BondingCurve  string    `json:"bonding_curve"`
	HolderAddress string    `json:"holder_address"`
	DetectedAt    time.Time `json:"timestamp"`

	// Display metadata; nil when enrichment failed
	Name        *string `json:"name,omitempty"`
	Symbol      *string `json:"symbol,omitempty"`
	ImageURI    *string `json:"image_uri,omitempty"`
	Description *string `json:"description,omitempty"`
	MetadataURI string  `json:"metadata_uri,omitempty"`

	ShouldBuy        bool     `json:"should_buy"`
	EvaluationReason string   `json:"evaluation_reason"`
	TokenAmount      float64  `json:"token_amount"`
	BuyPriceSOL      float64  `json:"buy_price_sol"`
	LiquiditySOL     *float64 `json:"liquidity_sol,omitempty"`
	PriceIsFallback  bool     `json:"price_is_fallback"`
}

// DisplayName returns the name or a placeholder.
func (t DetectedToken) DisplayName() string {
	if t.Name != nil && *t.Name != "" {
		return *t.Name
	}
	return "Unknown"
}

// DisplaySymbol returns the symbol or a placeholder.
func (t DetectedToken) DisplaySymbol() string {
	if t.Symbol != nil && *t.Symbol != "" {
		return *t.Symbol
	}
	return "???"
}
