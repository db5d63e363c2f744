package txbuilder

import (
	"errors"
	"fmt"
)

var (
	// ErrNullRecipients ...
	ErrNullRecipients = errors.New("missing recipients")
	// ErrZeroRecipientAmount ...
	ErrZeroRecipientAmount = errors.New("recipient amount must be positive")
	// ErrInvalidRecipientAsset ...
	ErrInvalidRecipientAsset = errors.New("invalid recipient asset")
	// ErrInvalidRecipientAddress is returned when a recipient address cannot
	// be decoded or carries no blinding key.
	ErrInvalidRecipientAddress = errors.New("invalid confidential recipient address")
	// ErrInvalidMilliSatsPerByte ...
	ErrInvalidMilliSatsPerByte = errors.New("fee rate must be at least 100 millisats/byte")
	// ErrBlindingFailed is returned when the outputs could not be blinded
	// with valid proofs within the allowed number of attempts.
	ErrBlindingFailed = errors.New("failed to blind transaction outputs")
	// ErrFeeEstimationDiverged is returned when the fee target keeps growing
	// after reselecting coins to cover it.
	ErrFeeEstimationDiverged = errors.New("fee estimation did not converge")
	// ErrInvalidSignatures is returned when the produced signatures do not
	// verify against the transaction.
	ErrInvalidSignatures = errors.New("transaction contains invalid signatures")
)

// InsufficientFundsError is returned when the spendable utxos of an asset
// cannot cover the requested amount.
type InsufficientFundsError struct {
	Asset     string
	Required  uint64
	Available uint64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf(
		"insufficient funds for asset '%s': required %d, available %d",
		e.Asset, e.Required, e.Available,
	)
}
