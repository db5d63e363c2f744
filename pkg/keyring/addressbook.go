package keyring

import (
	"encoding/hex"
	"sync"
)

// DefaultGapLimit is the number of consecutive unused addresses that must
// be probed past the last used one before a chain is considered fully
// discovered.
const DefaultGapLimit = 20

// AddressInfo is the cached, public view of a derived address. Every entry
// is reproducible from the keyring alone, so the cache is an optimization,
// not a source of truth.
type AddressInfo struct {
	Chain          uint32
	Index          uint32
	Address        string
	Script         []byte
	BlindingPubKey []byte
	DerivationPath string
}

// AddressBook maps derivation indexes to confidential addresses and keeps,
// separately for the external and internal chains, the smallest index not
// yet observed as used.
type AddressBook struct {
	mtx sync.RWMutex

	ring     *KeyRing
	gapLimit uint32
	next     [2]uint32
	byScript map[string]*AddressInfo
	byIndex  [2]map[uint32]*AddressInfo
}

// NewAddressBook returns an address book backed by the given keyring. A non
// positive gap limit falls back to DefaultGapLimit.
func NewAddressBook(ring *KeyRing, gapLimit int) *AddressBook {
	limit := uint32(gapLimit)
	if gapLimit <= 0 {
		limit = DefaultGapLimit
	}
	return &AddressBook{
		ring:     ring,
		gapLimit: limit,
		byScript: map[string]*AddressInfo{},
		byIndex: [2]map[uint32]*AddressInfo{
			{}, {},
		},
	}
}

// GapLimit returns the configured gap limit.
func (b *AddressBook) GapLimit() uint32 {
	return b.gapLimit
}

// NextUnused returns the address at the smallest index of the given chain
// not yet marked as used. The index is not bumped, it moves only when usage
// is observed through MarkUsed.
func (b *AddressBook) NextUnused(chain uint32) (*AddressInfo, error) {
	if chain != ExternalChain && chain != InternalChain {
		return nil, ErrInvalidChain
	}
	b.mtx.RLock()
	index := b.next[chain]
	b.mtx.RUnlock()

	return b.AddressAt(chain, index)
}

// AddressAt returns the address of the given chain and index, deriving and
// caching it on first access.
func (b *AddressBook) AddressAt(chain, index uint32) (*AddressInfo, error) {
	if chain != ExternalChain && chain != InternalChain {
		return nil, ErrInvalidChain
	}

	b.mtx.RLock()
	if info, ok := b.byIndex[chain][index]; ok {
		b.mtx.RUnlock()
		return info, nil
	}
	b.mtx.RUnlock()

	addr, script, err := b.ring.ConfidentialAddress(chain, index)
	if err != nil {
		return nil, err
	}
	_, blindingPubKey, err := b.ring.BlindingKeyPair(script)
	if err != nil {
		return nil, err
	}

	info := &AddressInfo{
		Chain:          chain,
		Index:          index,
		Address:        addr,
		Script:         script,
		BlindingPubKey: blindingPubKey.SerializeCompressed(),
		DerivationPath: b.ring.pathFor(chain, index),
	}

	b.mtx.Lock()
	b.byIndex[chain][index] = info
	b.byScript[hex.EncodeToString(script)] = info
	b.mtx.Unlock()

	return info, nil
}

// AllAddressesUpTo returns the addresses of the given chain for every index
// in [0, highWatermark].
func (b *AddressBook) AllAddressesUpTo(
	chain, highWatermark uint32,
) ([]*AddressInfo, error) {
	infos := make([]*AddressInfo, 0, highWatermark+1)
	for index := uint32(0); index <= highWatermark; index++ {
		info, err := b.AddressAt(chain, index)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// MarkUsed records that the address at (chain, index) has been observed as
// used, moving the next-unused counter past it if needed.
func (b *AddressBook) MarkUsed(chain, index uint32) {
	if chain != ExternalChain && chain != InternalChain {
		return
	}
	b.mtx.Lock()
	defer b.mtx.Unlock()
	if index >= b.next[chain] {
		b.next[chain] = index + 1
	}
}

// InfoForScript returns the cached address info owning the given output
// script, if any.
func (b *AddressBook) InfoForScript(script []byte) (*AddressInfo, bool) {
	b.mtx.RLock()
	defer b.mtx.RUnlock()
	info, ok := b.byScript[hex.EncodeToString(script)]
	return info, ok
}

// NextIndexes returns the next-unused counters of the external and internal
// chains.
func (b *AddressBook) NextIndexes() (external, internal uint32) {
	b.mtx.RLock()
	defer b.mtx.RUnlock()
	return b.next[ExternalChain], b.next[InternalChain]
}

// Restore resets the next-unused counters, typically from a persisted
// snapshot. The address cache itself is rebuilt lazily by derivation.
func (b *AddressBook) Restore(external, internal uint32) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	b.next[ExternalChain] = external
	b.next[InternalChain] = internal
}
