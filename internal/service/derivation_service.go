package service

import (
	"errors"
	"fmt"

	"crypto-escrow-gateway/pkg/apperror"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
)

// externalBranch is the BIP44/84 change level for receive addresses.
const externalBranch = 0

// HDKeyDerivationService implements ports.KeyDeriver with BIP32 public-only
// child derivation and P2WPKH address encoding. Deriving from an xpub means a
// compromised server can leak addresses but never spending keys.
type HDKeyDerivationService struct {
	params *chaincfg.Params
}

// NewHDKeyDerivationService creates a deriver for the given network
// (mainnet, testnet3, signet, regtest).
func NewHDKeyDerivationService(network string) (*HDKeyDerivationService, error) {
	var params *chaincfg.Params
	switch network {
	case "mainnet":
		params = &chaincfg.MainNetParams
	case "testnet3":
		params = &chaincfg.TestNet3Params
	case "signet":
		params = &chaincfg.SigNetParams
	case "regtest":
		params = &chaincfg.RegressionNetParams
	default:
		return nil, fmt.Errorf("unknown network %q", network)
	}
	return &HDKeyDerivationService{params: params}, nil
}

// Derive returns the receive address at account/0/index for the given
// account-level extended public key. Pure and deterministic.
func (s *HDKeyDerivationService) Derive(xpub string, index uint32) (string, error) {
	if index >= hdkeychain.HardenedKeyStart {
		return "", apperror.ErrIndexOutOfRange(index)
	}

	key, err := hdkeychain.NewKeyFromString(xpub)
	if err != nil {
		return "", apperror.ErrInvalidKeyMaterial(err)
	}
	if key.IsPrivate() {
		return "", apperror.ErrInvalidKeyMaterial(errors.New("extended private key rejected, public derivation only"))
	}
	if !key.IsForNet(s.params) {
		return "", apperror.ErrInvalidKeyMaterial(fmt.Errorf("key is not for network %s", s.params.Name))
	}

	branch, err := key.Derive(externalBranch)
	if err != nil {
		return "", apperror.ErrDerivationFailed(fmt.Errorf("deriving external branch: %w", err))
	}
	child, err := branch.Derive(index)
	if err != nil {
		return "", apperror.ErrDerivationFailed(fmt.Errorf("deriving child %d: %w", index, err))
	}

	pub, err := child.ECPubKey()
	if err != nil {
		return "", apperror.ErrDerivationFailed(fmt.Errorf("extracting pubkey: %w", err))
	}

	addr, err := btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(pub.SerializeCompressed()), s.params)
	if err != nil {
		return "", apperror.ErrDerivationFailed(fmt.Errorf("encoding address: %w", err))
	}

	return addr.EncodeAddress(), nil
}
