package keyring

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/vulpemventures/go-bip39"
	"github.com/vulpemventures/go-elements/network"
	"github.com/vulpemventures/go-elements/payment"
	"github.com/vulpemventures/go-elements/slip77"
)

const (
	// ExternalChain is the receiving chain of the account.
	ExternalChain uint32 = 0
	// InternalChain is the change chain of the account.
	InternalChain uint32 = 1

	// Purpose is the BIP84 purpose of the fixed derivation scheme.
	Purpose uint32 = 84
	// LiquidCoinType is the SLIP-44 coin type of liquid bitcoin.
	LiquidCoinType uint32 = 1776
	// TestCoinType is the SLIP-44 coin type used for any test network.
	TestCoinType uint32 = 1
)

// DerivedKeyPair holds the public key material of an account index, along
// with the SLIP77 blinding pair of its script. The signing private key is
// never part of the pair, signatures are requested through SignHash.
type DerivedKeyPair struct {
	Chain          uint32
	Index          uint32
	SigningPubKey  *btcec.PublicKey
	BlindingPrvKey *btcec.PrivateKey
	BlindingPubKey *btcec.PublicKey
	Script         []byte
}

// KeyRing derives signing and blinding key pairs from a single mnemonic
// following the fixed scheme m/84'/<coin_type>'/0'/<chain>/<index>.
// Blinding keys are derived with SLIP77 from the seed, on a sub-path
// independent from the signing hierarchy, so revealing one of them never
// leaks spending authority.
// Derivation is deterministic, any two instances created from the same
// mnemonic produce identical results.
type KeyRing struct {
	net               *network.Network
	basePath          DerivationPath
	accountMasterKey  []byte
	blindingMasterKey []byte
	fingerprint       []byte
}

// NewKeyRingFromMnemonic validates the given mnemonic and derives the
// account-level signing master key and the SLIP77 blinding master key.
// A malformed mnemonic (bad checksum or length) is reported here, never
// later.
func NewKeyRingFromMnemonic(
	mnemonic string, net *network.Network,
) (*KeyRing, error) {
	if len(mnemonic) <= 0 {
		return nil, ErrNullMnemonic
	}
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}
	if net == nil {
		return nil, ErrNullNetwork
	}

	seed := bip39.NewSeed(mnemonic, "")
	defer zero(seed)

	coinType := TestCoinType
	if net.Name == network.Liquid.Name {
		coinType = LiquidCoinType
	}
	basePath := DerivationPath{
		hdkeychain.HardenedKeyStart + Purpose,
		hdkeychain.HardenedKeyStart + coinType,
		hdkeychain.HardenedKeyStart + 0,
	}

	hdNode, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, err
	}

	masterPubKey, err := hdNode.ECPubKey()
	if err != nil {
		return nil, err
	}
	fingerprint := btcutil.Hash160(masterPubKey.SerializeCompressed())[:4]

	for _, step := range basePath {
		hdNode, err = hdNode.Derive(step)
		if err != nil {
			return nil, err
		}
	}

	slip77Node, err := slip77.FromSeed(seed)
	if err != nil {
		return nil, err
	}

	return &KeyRing{
		net:               net,
		basePath:          basePath,
		accountMasterKey:  base58.Decode(hdNode.String()),
		blindingMasterKey: slip77Node.MasterKey,
		fingerprint:       fingerprint,
	}, nil
}

// NewMnemonic returns a new mnemonic with the given entropy size.
func NewMnemonic(entropySize int) (string, error) {
	if entropySize < 128 || entropySize > 256 || entropySize%32 != 0 {
		return "", ErrInvalidEntropySize
	}
	entropy, err := bip39.NewEntropy(entropySize)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}

// MasterFingerprint returns the fingerprint of the BIP32 root key.
func (k *KeyRing) MasterFingerprint() []byte {
	fingerprint := make([]byte, len(k.fingerprint))
	copy(fingerprint, k.fingerprint)
	return fingerprint
}

// Network returns the network params the keyring generates addresses for.
func (k *KeyRing) Network() *network.Network {
	return k.net
}

// BasePath returns the account-level derivation path, ie. the prefix of
// every derived key pair.
func (k *KeyRing) BasePath() DerivationPath {
	path := make(DerivationPath, len(k.basePath))
	copy(path, k.basePath)
	return path
}

// Derive returns the key pair of the given chain and index.
func (k *KeyRing) Derive(chain, index uint32) (*DerivedKeyPair, error) {
	hdNode, err := k.deriveNode(chain, index)
	if err != nil {
		return nil, err
	}

	pubkey, err := hdNode.ECPubKey()
	if err != nil {
		return nil, err
	}

	script := payment.FromPublicKey(pubkey, k.net, nil).WitnessScript

	blindingPrvKey, blindingPubKey, err := k.BlindingKeyPair(script)
	if err != nil {
		return nil, err
	}

	return &DerivedKeyPair{
		Chain:          chain,
		Index:          index,
		SigningPubKey:  pubkey,
		BlindingPrvKey: blindingPrvKey,
		BlindingPubKey: blindingPubKey,
		Script:         script,
	}, nil
}

// BlindingKeyPair derives the SLIP77 blinding key pair of the given
// output script.
func (k *KeyRing) BlindingKeyPair(script []byte) (
	*btcec.PrivateKey, *btcec.PublicKey, error,
) {
	if len(script) <= 0 {
		return nil, nil, ErrNullOutputScript
	}
	if len(k.blindingMasterKey) <= 0 {
		return nil, nil, ErrKeyRingClosed
	}
	slip77Node, err := slip77.FromMasterKey(k.blindingMasterKey)
	if err != nil {
		return nil, nil, err
	}
	return slip77Node.DeriveKey(script)
}

// ConfidentialAddress derives both the signing and blinding pubkeys of the
// given chain and index and encodes the corresponding confidential P2WPKH
// address. It returns the address along with its output script.
func (k *KeyRing) ConfidentialAddress(chain, index uint32) (
	string, []byte, error,
) {
	pair, err := k.Derive(chain, index)
	if err != nil {
		return "", nil, err
	}

	p2wpkh := payment.FromPublicKey(pair.SigningPubKey, k.net, pair.BlindingPubKey)
	addr, err := p2wpkh.ConfidentialWitnessPubKeyHash()
	if err != nil {
		return "", nil, err
	}
	return addr, pair.Script, nil
}

// SignHash produces a DER encoded signature of the given hash with the
// signing private key of (chain, index). The signature is verified against
// the corresponding public key before being returned.
func (k *KeyRing) SignHash(chain, index uint32, hash []byte) ([]byte, error) {
	hdNode, err := k.deriveNode(chain, index)
	if err != nil {
		return nil, err
	}

	prvkey, err := hdNode.ECPrivKey()
	if err != nil {
		return nil, err
	}
	pubkey, err := hdNode.ECPubKey()
	if err != nil {
		return nil, err
	}

	signature := ecdsa.Sign(prvkey, hash)
	if !signature.Verify(hash, pubkey) {
		return nil, ErrInvalidSignature
	}
	return signature.Serialize(), nil
}

// Close zeroes the secret key material. Any derivation attempted afterwards
// fails with ErrKeyRingClosed.
func (k *KeyRing) Close() {
	zero(k.accountMasterKey)
	zero(k.blindingMasterKey)
	k.accountMasterKey = nil
	k.blindingMasterKey = nil
}

func (k *KeyRing) deriveNode(chain, index uint32) (*hdkeychain.ExtendedKey, error) {
	if len(k.accountMasterKey) <= 0 {
		return nil, ErrKeyRingClosed
	}
	if chain != ExternalChain && chain != InternalChain {
		return nil, ErrInvalidChain
	}
	if index >= hdkeychain.HardenedKeyStart {
		return nil, ErrIndexOutOfRange
	}

	hdNode, err := hdkeychain.NewKeyFromString(
		base58.Encode(k.accountMasterKey),
	)
	if err != nil {
		return nil, err
	}
	for _, step := range []uint32{chain, index} {
		hdNode, err = hdNode.Derive(step)
		if err != nil {
			return nil, err
		}
	}
	return hdNode, nil
}

func (k *KeyRing) pathFor(chain, index uint32) string {
	path := append(k.BasePath(), chain, index)
	return path.String()
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
