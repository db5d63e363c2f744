package txbuilder

import "math"

// Transactions built here only ever spend and create P2WPKH outputs, which
// keeps the size estimation closed form. Figures follow the elements
// serialization: confidential outputs carry three 33 byte commitments plus
// range and surjection proofs, the fee output is explicit with an empty
// script.
const (
	inputBaseSize    = 40 + 1 // hash + index + sequence + empty scriptsig len
	inputWitnessSize = 1 + 107 + 1 + 1 + 1
	outputBaseSize   = 33 + 33 + 33 + 23
	outputProofsSize = 3 + 4174 + 1 + 131
	feeOutputSize    = 33 + 9 + 1 + 1
)

// EstimateVirtualSize returns the virtual size of a transaction with the
// given number of P2WPKH inputs and confidential P2WPKH outputs, the fee
// output excluded from the count.
func EstimateVirtualSize(numInputs, numOutputs int) int {
	baseSize := 9 +
		varIntSerializeSize(uint64(numInputs)) +
		varIntSerializeSize(uint64(numOutputs+1)) +
		numInputs*inputBaseSize +
		numOutputs*outputBaseSize +
		feeOutputSize

	witnessSize := numInputs*inputWitnessSize +
		numOutputs*outputProofsSize +
		1 + 1 // empty proofs of the fee output

	weight := baseSize*3 + (baseSize + witnessSize)
	return (weight + 3) / 4
}

// EstimateFeeAmount returns the fee in satoshis for a transaction of the
// given shape at the given rate.
func EstimateFeeAmount(numInputs, numOutputs, millisatsPerByte int) uint64 {
	vsize := EstimateVirtualSize(numInputs, numOutputs)
	return uint64(float64(vsize) * float64(millisatsPerByte) / 1000)
}

func varIntSerializeSize(val uint64) int {
	if val < 0xfd {
		return 1
	}
	if val <= math.MaxUint16 {
		return 3
	}
	if val <= math.MaxUint32 {
		return 5
	}
	return 9
}
