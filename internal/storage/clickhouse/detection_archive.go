package clickhouse

import (
	"context"
	"fmt"
	"time"

	"sol-beast/internal/domain"
	"sol-beast/internal/storage"
)

// DetectionArchive implements storage.DetectionArchive using ClickHouse.
type DetectionArchive struct {
	conn *Conn
}

// NewDetectionArchive creates a new DetectionArchive.
func NewDetectionArchive(conn *Conn) *DetectionArchive {
	return &DetectionArchive{conn: conn}
}

// Compile-time interface check.
var _ storage.DetectionArchive = (*DetectionArchive)(nil)

// Append inserts one detection row.
func (a *DetectionArchive) Append(ctx context.Context, t domain.DetectedToken) error {
	batch, err := a.conn.PrepareBatch(ctx, `
		INSERT INTO detected_tokens (
			signature, mint, creator, bonding_curve, holder_address, detected_at,
			name, symbol, metadata_uri, should_buy, evaluation_reason,
			token_amount, buy_price_sol, liquidity_sol, price_is_fallback
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	err = batch.Append(
		t.Signature, t.Mint, t.Creator, t.BondingCurve, t.HolderAddress, t.DetectedAt.UTC(),
		t.Name, t.Symbol, t.MetadataURI, boolToUInt8(t.ShouldBuy), t.EvaluationReason,
		t.TokenAmount, t.BuyPriceSOL, t.LiquiditySOL, boolToUInt8(t.PriceIsFallback),
	)
	if err != nil {
		return fmt.Errorf("append to batch: %w", err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByMint returns archived detections for a mint, oldest first, or
// storage.ErrNotFound when the mint was never archived.
func (a *DetectionArchive) GetByMint(ctx context.Context, mint string) ([]domain.DetectedToken, error) {
	rows, err := a.conn.Query(ctx, `
		SELECT signature, mint, creator, bonding_curve, holder_address, detected_at,
		       name, symbol, metadata_uri, should_buy, evaluation_reason,
		       token_amount, buy_price_sol, liquidity_sol, price_is_fallback
		FROM detected_tokens FINAL
		WHERE mint = ?
		ORDER BY detected_at ASC
	`, mint)
	if err != nil {
		return nil, fmt.Errorf("query detections: %w", err)
	}
	defer rows.Close()

	var out []domain.DetectedToken
	for rows.Next() {
		var (
			t          domain.DetectedToken
			detectedAt time.Time
			shouldBuy  uint8
			fallback   uint8
		)
		if err := rows.Scan(
			&t.Signature, &t.Mint, &t.Creator, &t.BondingCurve, &t.HolderAddress, &detectedAt,
			&t.Name, &t.Symbol, &t.MetadataURI, &shouldBuy, &t.EvaluationReason,
			&t.TokenAmount, &t.BuyPriceSOL, &t.LiquiditySOL, &fallback,
		); err != nil {
			return nil, fmt.Errorf("scan detection: %w", err)
		}
		t.DetectedAt = detectedAt
		t.ShouldBuy = shouldBuy == 1
		t.PriceIsFallback = fallback == 1
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate detections: %w", err)
	}
	if len(out) == 0 {
		return nil, storage.ErrNotFound
	}
	return out, nil
}

func boolToUInt8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
