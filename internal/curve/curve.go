// internal/curve/curve.go
package curve

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Program addresses for the launch venue and the post-migration AMM.
var (
	PumpFunProgramID  = solana.MustPublicKeyFromBase58("6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P")
	PumpSwapProgramID = solana.MustPublicKeyFromBase58("pAMMBay6oceH9fJKBRHGP5D4bD4sWpmSwMn52FMfXEA")
)

// Bonding curve account layout:
// 8-byte anchor discriminator, five little-endian uint64 counters,
// one boolean byte, 32-byte creator public key.
const (
	discriminatorLen = 8
	counterLen       = 8 * 5
	completeLen      = 1
	creatorLen       = 32

	// MinAccountDataLen is the smallest buffer that can hold a full curve state.
	MinAccountDataLen = discriminatorLen + counterLen + completeLen + creatorLen
)

// State is a decoded snapshot of the bonding curve account.
// It is immutable once decoded; callers re-fetch instead of mutating.
type State struct {
	VirtualTokenReserves uint64
	VirtualSolReserves   uint64
	RealTokenReserves    uint64
	RealSolReserves      uint64
	TokenTotalSupply     uint64
	Complete             bool
	Creator              solana.PublicKey
}

// DecodeState parses the raw bonding curve account data.
// Returns an error when the buffer is shorter than the fixed layout.
func DecodeState(data []byte) (*State, error) {
	if len(data) < MinAccountDataLen {
		return nil, fmt.Errorf("invalid bonding curve data: got %d bytes, need %d", len(data), MinAccountDataLen)
	}

	off := discriminatorLen
	state := &State{
		VirtualTokenReserves: binary.LittleEndian.Uint64(data[off : off+8]),
		VirtualSolReserves:   binary.LittleEndian.Uint64(data[off+8 : off+16]),
		RealTokenReserves:    binary.LittleEndian.Uint64(data[off+16 : off+24]),
		RealSolReserves:      binary.LittleEndian.Uint64(data[off+24 : off+32]),
		TokenTotalSupply:     binary.LittleEndian.Uint64(data[off+32 : off+40]),
	}

	off += counterLen
	state.Complete = data[off] != 0

	off += completeLen
	state.Creator = solana.PublicKeyFromBytes(data[off : off+creatorLen])

	return state, nil
}
