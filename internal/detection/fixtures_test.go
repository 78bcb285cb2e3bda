package detection

import (
	"bytes"
	"encoding/binary"

	"github.com/mr-tron/base58"

	"sol-beast/internal/domain"
	"sol-beast/internal/solana"
)

const testProgram = domain.PumpFunProgram

// key returns a deterministic 32-byte address.
func key(b byte) string {
	return base58.Encode(bytes.Repeat([]byte{b}, 32))
}

var (
	testMint    = key(1)
	testCurve   = key(3)
	testCreator = key(8)
)

// createKeys lays out the accounts a create instruction refers to, with the
// program last.
func createKeys() []string {
	keys := make([]string, 9)
	for i := range keys[:8] {
		keys[i] = key(byte(i + 1))
	}
	keys[8] = testProgram
	return keys
}

func createInstruction() solana.Instruction {
	data := append(append([]byte(nil), CreateDiscriminator...), 0x05, 0x00, 0x00, 0x00, 'H', 'e', 'l', 'l', 'o')
	return solana.Instruction{
		ProgramIDIndex: 8,
		Accounts:       []int{0, 1, 2, 3, 4, 5, 6, 7},
		Data:           base58.Encode(data),
	}
}

func createTransaction() *solana.Transaction {
	return &solana.Transaction{
		Signature: "SIG1",
		Meta:      &solana.TransactionMeta{},
		Message: &solana.TransactionMessage{
			AccountKeys:  createKeys(),
			Instructions: []solana.Instruction{createInstruction()},
		},
	}
}

// rawTransaction is the getTransaction result shape for tx.
func rawTransaction(tx *solana.Transaction) map[string]interface{} {
	return map[string]interface{}{
		"slot":      tx.Slot,
		"blockTime": 1700000000,
		"meta":      tx.Meta,
		"transaction": map[string]interface{}{
			"signatures": []string{tx.Signature},
			"message":    tx.Message,
		},
	}
}

func curveData(vtok, vsol, rtok, rsol, supply uint64, complete bool, creator []byte) []byte {
	buf := append([]byte(nil), CurveDiscriminator...)
	for _, v := range []uint64{vtok, vsol, rtok, rsol, supply} {
		buf = binary.LittleEndian.AppendUint64(buf, v)
	}
	if complete {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	return append(buf, creator...)
}

func metadataData(name, symbol, uri string) []byte {
	buf := []byte{metadataKeyV1}
	buf = append(buf, bytes.Repeat([]byte{9}, 32)...)
	buf = append(buf, bytes.Repeat([]byte{1}, 32)...)
	for _, s := range []string{name, symbol, uri} {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s)))
		buf = append(buf, s...)
	}
	return buf
}
