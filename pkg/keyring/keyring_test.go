package keyring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vulpemventures/go-elements/network"
)

const testMnemonic = "letter advice cage absurd amount doctor acoustic avoid " +
	"letter advice cage absurd amount doctor acoustic avoid letter always"

func newTestKeyRing(t *testing.T) *KeyRing {
	t.Helper()
	ring, err := NewKeyRingFromMnemonic(testMnemonic, &network.Regtest)
	require.NoError(t, err)
	return ring
}

func TestNewKeyRingFromMnemonic(t *testing.T) {
	ring := newTestKeyRing(t)
	assert.Len(t, ring.MasterFingerprint(), 4)
}

func TestFailingNewKeyRingFromMnemonic(t *testing.T) {
	tests := []struct {
		name     string
		mnemonic string
		net      *network.Network
		err      error
	}{
		{
			name:     "null mnemonic",
			mnemonic: "",
			net:      &network.Regtest,
			err:      ErrNullMnemonic,
		},
		{
			name: "bad checksum",
			mnemonic: "legal winner thank year wave sausage worth useful " +
				"legal winner thank yellow yellow",
			net: &network.Regtest,
			err: ErrInvalidMnemonic,
		},
		{
			name:     "null network",
			mnemonic: testMnemonic,
			net:      nil,
			err:      ErrNullNetwork,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewKeyRingFromMnemonic(tt.mnemonic, tt.net)
			assert.Equal(t, tt.err, err)
		})
	}
}

func TestDeriveIsDeterministic(t *testing.T) {
	ring := newTestKeyRing(t)
	other := newTestKeyRing(t)

	for _, chain := range []uint32{ExternalChain, InternalChain} {
		for index := uint32(0); index < 10; index++ {
			pair, err := ring.Derive(chain, index)
			require.NoError(t, err)
			again, err := ring.Derive(chain, index)
			require.NoError(t, err)
			otherPair, err := other.Derive(chain, index)
			require.NoError(t, err)

			assert.Equal(t, pair.Script, again.Script)
			assert.Equal(t, pair.Script, otherPair.Script)
			assert.Equal(
				t,
				pair.SigningPubKey.SerializeCompressed(),
				otherPair.SigningPubKey.SerializeCompressed(),
			)
			assert.Equal(
				t,
				pair.BlindingPubKey.SerializeCompressed(),
				otherPair.BlindingPubKey.SerializeCompressed(),
			)
		}
	}
}

func TestDeriveChainsDiverge(t *testing.T) {
	ring := newTestKeyRing(t)

	external, err := ring.Derive(ExternalChain, 0)
	require.NoError(t, err)
	internal, err := ring.Derive(InternalChain, 0)
	require.NoError(t, err)

	assert.NotEqual(t, external.Script, internal.Script)
}

func TestBlindingKeyIndependentFromSigningKey(t *testing.T) {
	ring := newTestKeyRing(t)

	pair, err := ring.Derive(ExternalChain, 0)
	require.NoError(t, err)

	// the blinding pair is bound to the script, not to the signing key
	assert.NotEqual(
		t,
		pair.SigningPubKey.SerializeCompressed(),
		pair.BlindingPubKey.SerializeCompressed(),
	)

	prv, pub, err := ring.BlindingKeyPair(pair.Script)
	require.NoError(t, err)
	assert.Equal(
		t,
		pair.BlindingPubKey.SerializeCompressed(),
		pub.SerializeCompressed(),
	)
	assert.Equal(t, pair.BlindingPrvKey.Serialize(), prv.Serialize())
}

func TestFailingDerive(t *testing.T) {
	ring := newTestKeyRing(t)

	_, err := ring.Derive(2, 0)
	assert.Equal(t, ErrInvalidChain, err)

	_, err = ring.Derive(ExternalChain, 1<<31)
	assert.Equal(t, ErrIndexOutOfRange, err)
}

func TestConfidentialAddress(t *testing.T) {
	ring := newTestKeyRing(t)

	addr, script, err := ring.ConfidentialAddress(ExternalChain, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, addr)
	assert.NotEmpty(t, script)

	// reproducible across instances
	other := newTestKeyRing(t)
	otherAddr, otherScript, err := other.ConfidentialAddress(ExternalChain, 0)
	require.NoError(t, err)
	assert.Equal(t, addr, otherAddr)
	assert.Equal(t, script, otherScript)
}

func TestSignHash(t *testing.T) {
	ring := newTestKeyRing(t)

	hash := make([]byte, 32)
	for i := range hash {
		hash[i] = byte(i)
	}

	sig, err := ring.SignHash(ExternalChain, 0, hash)
	require.NoError(t, err)
	assert.NotEmpty(t, sig)

	again, err := ring.SignHash(ExternalChain, 0, hash)
	require.NoError(t, err)
	assert.Equal(t, sig, again)
}

func TestClose(t *testing.T) {
	ring := newTestKeyRing(t)
	ring.Close()

	_, err := ring.Derive(ExternalChain, 0)
	assert.Equal(t, ErrKeyRingClosed, err)

	_, _, err = ring.BlindingKeyPair([]byte{0x00, 0x14})
	assert.Equal(t, ErrKeyRingClosed, err)
}

func TestNewMnemonic(t *testing.T) {
	mnemonic, err := NewMnemonic(256)
	require.NoError(t, err)
	_, err = NewKeyRingFromMnemonic(mnemonic, &network.Liquid)
	require.NoError(t, err)

	for _, size := range []int{-1, 0, 127, 130, 257} {
		_, err := NewMnemonic(size)
		assert.Equal(t, ErrInvalidEntropySize, err)
	}
}
