package wallet

import "errors"

var (
	// ErrWalletAlreadyInitialized is returned when initializing over an
	// existing wallet file.
	ErrWalletAlreadyInitialized = errors.New("wallet is already initialized")
	// ErrNetworkMismatch is returned when the persisted wallet was created
	// for a different network than the configured one.
	ErrNetworkMismatch = errors.New("wallet network does not match configuration")
	// ErrWalletClosed ...
	ErrWalletClosed = errors.New("wallet is closed")
)
