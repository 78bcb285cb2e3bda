package detection

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

// CurveDiscriminator prefixes bonding curve account data.
var CurveDiscriminator = []byte{0x17, 0xb7, 0xf8, 0x37, 0x60, 0xd8, 0xac, 0x60}

const (
	lamportsPerSOL  = 1e9
	tokenDecimals   = 1e6
	curveMinLength  = 8 + 5*8 + 1
	curveWithOwner  = curveMinLength + 32
	curveCompleteAt = 8 + 5*8
)

// BondingCurve is the decoded pricing account.
type BondingCurve struct {
	VirtualTokenReserves uint64
	VirtualSOLReserves   uint64
	RealTokenReserves    uint64
	RealSOLReserves      uint64
	TokenTotalSupply     uint64
	Complete             bool
	Creator              string
}

// DecodeBondingCurve parses raw account data.
func DecodeBondingCurve(data []byte) (*BondingCurve, error) {
	if len(data) < curveMinLength {
		return nil, fmt.Errorf("bonding curve data too short: %d bytes", len(data))
	}
	if !bytes.Equal(data[:8], CurveDiscriminator) {
		return nil, errors.New("bonding curve discriminator mismatch")
	}

	u64 := func(i int) uint64 { return binary.LittleEndian.Uint64(data[8+i*8:]) }
	c := &BondingCurve{
		VirtualTokenReserves: u64(0),
		VirtualSOLReserves:   u64(1),
		RealTokenReserves:    u64(2),
		RealSOLReserves:      u64(3),
		TokenTotalSupply:     u64(4),
		Complete:             data[curveCompleteAt] != 0,
	}
	if len(data) >= curveWithOwner {
		c.Creator = base58.Encode(data[curveMinLength:curveWithOwner])
	}
	if c.VirtualTokenReserves == 0 {
		return nil, errors.New("bonding curve has zero virtual token reserves")
	}
	return c, nil
}

// PriceSOL is the SOL price of one whole token.
func (c *BondingCurve) PriceSOL() float64 {
	return (float64(c.VirtualSOLReserves) / lamportsPerSOL) / (float64(c.VirtualTokenReserves) / tokenDecimals)
}

// LiquiditySOL is the real SOL held by the curve.
func (c *BondingCurve) LiquiditySOL() float64 {
	return float64(c.RealSOLReserves) / lamportsPerSOL
}
