package sync

import "errors"

var (
	// ErrSyncInProgress is returned when a round is started while another
	// one is still running on the same engine.
	ErrSyncInProgress = errors.New("sync round already in progress")
	// ErrServerInconsistent is returned when the server keeps contradicting
	// itself, ie. a scripthash status never matches the history it serves,
	// or a transaction does not hash to the id it was requested by.
	ErrServerInconsistent = errors.New("server responses are inconsistent")
)
