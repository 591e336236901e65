// Package crypto provides commitment hashing, order-signature verification,
// key management, and nonce-managed transaction signing for the execution
// core.
package crypto

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// PayloadHash computes the commitment hash for an order payload: the
// keccak256 of the canonical payload bytes concatenated with the raw
// signature bytes. The reveal path recomputes this and compares it against
// the committed value.
func PayloadHash(payload []byte, signatureHex string) (string, error) {
	sig, err := decodeHex(signatureHex)
	if err != nil {
		return "", fmt.Errorf("crypto: decode signature: %w", err)
	}
	sum := ethcrypto.Keccak256(payload, sig)
	return "0x" + hex.EncodeToString(sum), nil
}

// VerifyPayloadSignature checks that signatureHex is a valid personal-sign
// signature of payload by the given user address.
func VerifyPayloadSignature(payload []byte, signatureHex, userAddress string) error {
	sig, err := decodeHex(signatureHex)
	if err != nil {
		return fmt.Errorf("crypto: decode signature: %w", err)
	}
	if len(sig) != 65 {
		return fmt.Errorf("crypto: signature must be 65 bytes, got %d", len(sig))
	}

	// go-ethereum expects the recovery byte in {0,1}; wallets emit {27,28}.
	recovered := make([]byte, 65)
	copy(recovered, sig)
	if recovered[64] >= 27 {
		recovered[64] -= 27
	}

	digest := accounts.TextHash(payload)
	pub, err := ethcrypto.SigToPub(digest, recovered)
	if err != nil {
		return fmt.Errorf("crypto: recover public key: %w", err)
	}

	if ethcrypto.PubkeyToAddress(*pub) != common.HexToAddress(userAddress) {
		return fmt.Errorf("crypto: signer does not match %s", userAddress)
	}
	return nil
}

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}
