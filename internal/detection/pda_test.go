package detection

import (
	"crypto/sha256"
	"strings"
	"testing"

	"github.com/mr-tron/base58"
)

func TestFindProgramAddress(t *testing.T) {
	seeds := [][]byte{[]byte("bonding-curve"), base58Decode(t, testMint)}

	addr, bump, err := FindProgramAddress(seeds, testProgram)
	if err != nil {
		t.Fatalf("FindProgramAddress: %v", err)
	}

	raw := base58Decode(t, addr)
	if len(raw) != 32 {
		t.Fatalf("address length = %d", len(raw))
	}
	if isOnCurve(raw) {
		t.Error("derived address is on the curve")
	}

	h := sha256.New()
	for _, s := range seeds {
		h.Write(s)
	}
	h.Write([]byte{bump})
	h.Write(base58Decode(t, testProgram))
	h.Write([]byte("ProgramDerivedAddress"))
	if want := base58.Encode(h.Sum(nil)); addr != want {
		t.Errorf("address = %s, want %s", addr, want)
	}

	again, againBump, _ := FindProgramAddress(seeds, testProgram)
	if again != addr || againBump != bump {
		t.Error("derivation is not deterministic")
	}
}

func TestFindProgramAddressRejectsLongSeed(t *testing.T) {
	_, _, err := FindProgramAddress([][]byte{make([]byte, 33)}, testProgram)
	if err == nil || !strings.Contains(err.Error(), "32 bytes") {
		t.Fatalf("err = %v", err)
	}
}

func TestDerivedAddresses(t *testing.T) {
	a, err := BondingCurveAddress(key(1), testProgram)
	if err != nil {
		t.Fatal(err)
	}
	b, err := BondingCurveAddress(key(3), testProgram)
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("different mints derived the same curve")
	}

	ata, err := AssociatedTokenAddress(a, key(1))
	if err != nil {
		t.Fatal(err)
	}
	if ata == a {
		t.Error("holder address equals owner")
	}

	if _, err := MetadataAddress("not-base58-0OIl", testProgram); err == nil {
		t.Error("expected decode error")
	}
	if _, err := AssociatedTokenAddress(base58.Encode([]byte{1, 2, 3}), key(1)); err == nil {
		t.Error("expected length error")
	}
}

func base58Decode(t *testing.T, s string) []byte {
	t.Helper()
	b, err := base58.Decode(s)
	if err != nil {
		t.Fatalf("decode %s: %v", s, err)
	}
	return b
}
