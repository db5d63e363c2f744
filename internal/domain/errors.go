package domain

import "errors"

var (
	// ErrUtxoNotFound ...
	ErrUtxoNotFound = errors.New("utxo not found")
	// ErrUtxoAlreadyReserved is returned when trying to reserve a utxo
	// already selected by another in-progress build.
	ErrUtxoAlreadyReserved = errors.New("utxo already reserved")
	// ErrSnapshotCorrupt is returned when a decrypted snapshot cannot be
	// decoded.
	ErrSnapshotCorrupt = errors.New("snapshot is corrupt")
	// ErrSnapshotVersionUnknown is returned when a snapshot was written by
	// an unknown schema version.
	ErrSnapshotVersionUnknown = errors.New("unknown snapshot version")
)
