package detection

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// Program IDs used for address derivation.
const (
	TokenProgram                  = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	AssociatedTokenAccountProgram = "ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL"
)

const pdaMarker = "ProgramDerivedAddress"

var errNoViableBump = errors.New("no viable bump seed")

// FindProgramAddress derives the program derived address for seeds under
// programID, searching bump seeds from 255 down to 0. It returns the
// base58 address and the bump used.
func FindProgramAddress(seeds [][]byte, programID string) (string, uint8, error) {
	program, err := decodePubkey(programID)
	if err != nil {
		return "", 0, fmt.Errorf("program id: %w", err)
	}
	for _, seed := range seeds {
		if len(seed) > 32 {
			return "", 0, fmt.Errorf("seed longer than 32 bytes")
		}
	}

	for bump := 255; bump >= 0; bump-- {
		h := sha256.New()
		for _, seed := range seeds {
			h.Write(seed)
		}
		h.Write([]byte{byte(bump)})
		h.Write(program)
		h.Write([]byte(pdaMarker))
		sum := h.Sum(nil)

		// a valid PDA must not be a point on the ed25519 curve
		if !isOnCurve(sum) {
			return base58.Encode(sum), uint8(bump), nil
		}
	}
	return "", 0, errNoViableBump
}

func isOnCurve(point []byte) bool {
	if len(point) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}

// decodePubkey decodes a base58 public key and checks its length.
func decodePubkey(address string) ([]byte, error) {
	b, err := base58.Decode(address)
	if err != nil {
		return nil, fmt.Errorf("decode %q: %w", address, err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("decode %q: expected 32 bytes, got %d", address, len(b))
	}
	return b, nil
}

// BondingCurveAddress derives the pricing account ["bonding-curve", mint].
func BondingCurveAddress(mint, programID string) (string, error) {
	m, err := decodePubkey(mint)
	if err != nil {
		return "", err
	}
	addr, _, err := FindProgramAddress([][]byte{[]byte("bonding-curve"), m}, programID)
	return addr, err
}

// AssociatedTokenAddress derives the SPL associated token account of
// owner for mint.
func AssociatedTokenAddress(owner, mint string) (string, error) {
	o, err := decodePubkey(owner)
	if err != nil {
		return "", err
	}
	m, err := decodePubkey(mint)
	if err != nil {
		return "", err
	}
	token, err := decodePubkey(TokenProgram)
	if err != nil {
		return "", err
	}
	addr, _, err := FindProgramAddress([][]byte{o, token, m}, AssociatedTokenAccountProgram)
	return addr, err
}

// MetadataAddress derives the Metaplex metadata account
// ["metadata", metadataProgram, mint].
func MetadataAddress(mint, metadataProgram string) (string, error) {
	m, err := decodePubkey(mint)
	if err != nil {
		return "", err
	}
	p, err := decodePubkey(metadataProgram)
	if err != nil {
		return "", err
	}
	addr, _, err := FindProgramAddress([][]byte{[]byte("metadata"), p, m}, metadataProgram)
	return addr, err
}
