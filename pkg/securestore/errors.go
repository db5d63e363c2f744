package securestore

import "errors"

var (
	// ErrNullPassphrase ...
	ErrNullPassphrase = errors.New("passphrase must not be null")
	// ErrNullPlainText ...
	ErrNullPlainText = errors.New("text to encrypt must not be null")
	// ErrAuthenticationFailed is returned when a sealed blob fails to open,
	// either because it has been tampered with or because the passphrase is
	// wrong. It is never retried silently.
	ErrAuthenticationFailed = errors.New(
		"blob authentication failed: wrong passphrase or corrupted data",
	)
	// ErrStoreCorrupt is returned when a blob authenticates but is
	// structurally invalid, ie. carries an unknown schema version.
	ErrStoreCorrupt = errors.New("sealed blob has unknown schema version")
	// ErrStoreNotFound is returned by Load when no blob has been persisted
	// yet.
	ErrStoreNotFound = errors.New("no sealed blob found in store")
	// ErrInvalidScryptParams ...
	ErrInvalidScryptParams = errors.New(
		"scrypt N must be a power of 2 greater than 1, r and p must be positive",
	)
)
