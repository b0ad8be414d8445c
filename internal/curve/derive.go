// internal/curve/derive.go
package curve

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// DeriveBondingCurve computes the PDA of the bonding curve account for a mint.
func DeriveBondingCurve(mint solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress(
		[][]byte{[]byte("bonding-curve"), mint.Bytes()},
		PumpFunProgramID,
	)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive bonding curve: %w", err)
	}
	return addr, nil
}

// DeriveCreatorVault computes the PDA of the native creator fee vault on the
// launch venue. Fees accrue here as lamports before migration.
func DeriveCreatorVault(creator solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress(
		[][]byte{[]byte("creator-vault"), creator.Bytes()},
		PumpFunProgramID,
	)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive creator vault: %w", err)
	}
	return addr, nil
}

// DeriveAMMCreatorVaultAuthority computes the PDA that owns the creator fee
// token account on the post-migration AMM.
func DeriveAMMCreatorVaultAuthority(creator solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress(
		[][]byte{[]byte("creator_vault"), creator.Bytes()},
		PumpSwapProgramID,
	)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive AMM creator vault authority: %w", err)
	}
	return addr, nil
}

// DeriveAMMCreatorVaultATA computes the wrapped-SOL token account that
// collects creator fees after migration. Fee deltas on this account are
// tracked as fungible token balances, not lamports.
func DeriveAMMCreatorVaultATA(creator solana.PublicKey) (solana.PublicKey, error) {
	authority, err := DeriveAMMCreatorVaultAuthority(creator)
	if err != nil {
		return solana.PublicKey{}, err
	}
	ata, _, err := solana.FindAssociatedTokenAddress(authority, solana.WrappedSol)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive AMM creator vault ATA: %w", err)
	}
	return ata, nil
}
