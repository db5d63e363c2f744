// Package bufferutil converts between the wire representation of elements
// values (little-endian, commitment-prefixed) and their human format.
package bufferutil

import (
	"encoding/hex"

	"github.com/vulpemventures/go-elements/elementsutil"
)

// ReverseBytes returns a reversed copy of the given buffer.
func ReverseBytes(buf []byte) []byte {
	return elementsutil.ReverseBytes(buf)
}

// AssetHashFromBytes decodes an asset commitment buffer to its hex hash.
// The first byte of the buffer flags whether it is confidential.
func AssetHashFromBytes(buffer []byte) string {
	return hex.EncodeToString(elementsutil.ReverseBytes(buffer[1:]))
}

// AssetHashToBytes encodes an asset hex hash to its unconfidential wire
// representation.
func AssetHashToBytes(str string) ([]byte, error) {
	buffer, err := hex.DecodeString(str)
	if err != nil {
		return nil, err
	}
	buffer = elementsutil.ReverseBytes(buffer)
	buffer = append([]byte{0x01}, buffer...)
	return buffer, nil
}

// ValueFromBytes decodes an explicit value commitment to satoshis.
func ValueFromBytes(buffer []byte) uint64 {
	value, _ := elementsutil.ValueFromBytes(buffer)
	return value
}

// ValueToBytes encodes satoshis to an explicit value commitment.
func ValueToBytes(val uint64) ([]byte, error) {
	return elementsutil.ValueToBytes(val)
}

// TxIDFromBytes decodes a wire txid to its hex representation.
func TxIDFromBytes(buffer []byte) string {
	return hex.EncodeToString(elementsutil.ReverseBytes(buffer))
}

// TxIDToBytes encodes a hex txid to its wire representation.
func TxIDToBytes(str string) ([]byte, error) {
	buffer, err := hex.DecodeString(str)
	if err != nil {
		return nil, err
	}
	return elementsutil.ReverseBytes(buffer), nil
}

// CommitmentFromBytes ...
func CommitmentFromBytes(buffer []byte) string {
	return hex.EncodeToString(buffer)
}

// CommitmentToBytes ...
func CommitmentToBytes(str string) ([]byte, error) {
	return hex.DecodeString(str)
}
