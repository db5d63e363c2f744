package keyring

import "errors"

var (
	// ErrNullNetwork ...
	ErrNullNetwork = errors.New("network params are null")
	// ErrNullMnemonic ...
	ErrNullMnemonic = errors.New("mnemonic is null")
	// ErrInvalidMnemonic is returned at construction time if the provided
	// mnemonic has a bad checksum or word count.
	ErrInvalidMnemonic = errors.New("mnemonic is invalid")
	// ErrInvalidEntropySize ...
	ErrInvalidEntropySize = errors.New(
		"entropy size must be a multiple of 32 in the range [128,256]",
	)
	// ErrIndexOutOfRange is returned when a derivation index exceeds the
	// valid unsigned 31-bit range for non-hardened derivation.
	ErrIndexOutOfRange = errors.New(
		"derivation index must be in the non-hardened range [0, 2^31)",
	)
	// ErrInvalidChain ...
	ErrInvalidChain = errors.New("chain must be either external (0) or internal (1)")
	// ErrKeyRingClosed is returned by any operation after the secret
	// material has been zeroed.
	ErrKeyRingClosed = errors.New("keyring has been closed")

	// ErrNullDerivationPath ...
	ErrNullDerivationPath = errors.New("derivation path must not be null")
	// ErrInvalidDerivationPath ...
	ErrInvalidDerivationPath = errors.New("invalid derivation path")
	// ErrMalformedDerivationPath ...
	ErrMalformedDerivationPath = errors.New(
		"path must not start or end with a '/' and " +
			"can optionally start with 'm/' for absolute paths",
	)
	// ErrNullOutputScript ...
	ErrNullOutputScript = errors.New("output script must not be null")
	// ErrInvalidSignature ...
	ErrInvalidSignature = errors.New("produced signature failed verification")
)
