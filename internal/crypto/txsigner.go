package crypto

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// NonceSource provides the chain's view of an account's pending nonce.
// *ethclient.Client satisfies it.
type NonceSource interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// TxSigner signs settlement transactions with a single key and hands out
// strictly increasing nonces. The mutex admits one in-flight transaction per
// signer, which keeps nonce allocation collision-free without an external
// nonce service.
type TxSigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int

	mu        sync.Mutex
	nextNonce uint64
	synced    bool
}

// NewTxSigner creates a TxSigner from a hex-encoded secp256k1 private key.
func NewTxSigner(privateKeyHex string, chainID int64) (*TxSigner, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	key, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key: %w", err)
	}
	return &TxSigner{
		key:     key,
		address: ethcrypto.PubkeyToAddress(key.PublicKey),
		chainID: big.NewInt(chainID),
	}, nil
}

// Address returns the signer's account address.
func (s *TxSigner) Address() common.Address {
	return s.address
}

// ReserveNonce returns the next nonce and a release callback. The callback
// must be called exactly once: release(true) advances the local counter,
// release(false) rewinds it so the nonce is reused by the next attempt.
// The signer's lock is held until release, so at most one transaction is in
// flight per key.
func (s *TxSigner) ReserveNonce(ctx context.Context, src NonceSource) (uint64, func(ok bool), error) {
	s.mu.Lock()

	if !s.synced {
		pending, err := src.PendingNonceAt(ctx, s.address)
		if err != nil {
			s.mu.Unlock()
			return 0, nil, fmt.Errorf("crypto: fetch pending nonce: %w", err)
		}
		s.nextNonce = pending
		s.synced = true
	}

	nonce := s.nextNonce
	var once sync.Once
	release := func(ok bool) {
		once.Do(func() {
			if ok {
				s.nextNonce = nonce + 1
			} else {
				// Force a resync on the next reservation; the chain may or
				// may not have seen the transaction.
				s.synced = false
			}
			s.mu.Unlock()
		})
	}
	return nonce, release, nil
}

// SignTx signs a transaction with the signer's key using EIP-155.
func (s *TxSigner) SignTx(tx *types.Transaction) (*types.Transaction, error) {
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.key)
	if err != nil {
		return nil, fmt.Errorf("crypto: sign tx: %w", err)
	}
	return signed, nil
}

// SignPayload produces a personal-sign signature over payload. Used by test
// harnesses and internal tooling that submit orders through commit-reveal.
func (s *TxSigner) SignPayload(payload []byte) (string, error) {
	digest := ethcrypto.Keccak256(
		[]byte(fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(payload))),
		payload,
	)
	sig, err := ethcrypto.Sign(digest, s.key)
	if err != nil {
		return "", fmt.Errorf("crypto: sign payload: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + common.Bytes2Hex(sig), nil
}
