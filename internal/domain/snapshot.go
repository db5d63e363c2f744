package domain

import "encoding/json"

// SnapshotVersion is the schema version of the persisted wallet snapshot.
const SnapshotVersion = 1

// Snapshot is the full persisted wallet state. It is serialized to JSON and
// sealed with the wallet passphrase, so that a restart only needs the
// passphrase to recover both the keys and the last committed chain view.
type Snapshot struct {
	Version      int         `json:"version"`
	Mnemonic     string      `json:"mnemonic"`
	Network      string      `json:"network"`
	NextExternal uint32      `json:"nextExternal"`
	NextInternal uint32      `json:"nextInternal"`
	Chain        *ChainState `json:"chain"`
}

// NewSnapshot returns a snapshot of the current schema version.
func NewSnapshot(
	mnemonic, net string, nextExternal, nextInternal uint32, chain *ChainState,
) *Snapshot {
	return &Snapshot{
		Version:      SnapshotVersion,
		Mnemonic:     mnemonic,
		Network:      net,
		NextExternal: nextExternal,
		NextInternal: nextInternal,
		Chain:        chain,
	}
}

// Serialize encodes the snapshot for sealing.
func (s *Snapshot) Serialize() ([]byte, error) {
	return json.Marshal(s)
}

// DeserializeSnapshot decodes a previously serialized snapshot.
func DeserializeSnapshot(buf []byte) (*Snapshot, error) {
	snapshot := &Snapshot{}
	if err := json.Unmarshal(buf, snapshot); err != nil {
		return nil, ErrSnapshotCorrupt
	}
	if snapshot.Version != SnapshotVersion {
		return nil, ErrSnapshotVersionUnknown
	}
	if snapshot.Chain == nil {
		snapshot.Chain = NewChainState()
	}
	return snapshot, nil
}
