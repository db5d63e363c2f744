package txbuilder

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vulpemventures/go-elements/network"

	"github.com/liquidtools/walletd/internal/domain"
	"github.com/liquidtools/walletd/pkg/keyring"
)

const (
	testMnemonic = "letter advice cage absurd amount doctor acoustic avoid " +
		"letter advice cage absurd amount doctor acoustic avoid letter always"
	usdtAsset = "f3d1ec678811398cd2ae277cbe3849c6f6dbd72c74bc542f7c4b11ff0e820958"
)

func newTestBuilder(t *testing.T) (*Builder, *domain.ChainState) {
	ring, err := keyring.NewKeyRingFromMnemonic(testMnemonic, &network.Regtest)
	require.NoError(t, err)
	book := keyring.NewAddressBook(ring, keyring.DefaultGapLimit)
	state := domain.NewChainState()
	return NewBuilder(ring, book, state), state
}

func addUtxo(state *domain.ChainState, n int, asset string, value uint64) {
	u := &domain.Utxo{
		Outpoint: domain.Outpoint{
			TxID: fmt.Sprintf("%064d", n),
			VOut: 0,
		},
		Asset: asset,
		Value: value,
	}
	state.Utxos[u.Outpoint.String()] = u
}

func testRecipientAddress(t *testing.T) string {
	ring, err := keyring.NewKeyRingFromMnemonic(testMnemonic, &network.Regtest)
	require.NoError(t, err)
	addr, _, err := ring.ConfidentialAddress(keyring.ExternalChain, 7)
	require.NoError(t, err)
	return addr
}

func TestSelectLargestFirst(t *testing.T) {
	state := domain.NewChainState()
	addUtxo(state, 1, usdtAsset, 2000)
	addUtxo(state, 2, usdtAsset, 9000)
	addUtxo(state, 3, usdtAsset, 5000)

	selected, change, err := Select(state.Spendable(), 10000, usdtAsset)
	require.NoError(t, err)
	require.Len(t, selected, 2)
	assert.Equal(t, uint64(9000), selected[0].Value)
	assert.Equal(t, uint64(5000), selected[1].Value)
	assert.Equal(t, uint64(4000), change)
}

func TestSelectExactMatch(t *testing.T) {
	state := domain.NewChainState()
	addUtxo(state, 1, usdtAsset, 7000)

	selected, change, err := Select(state.Spendable(), 7000, usdtAsset)
	require.NoError(t, err)
	require.Len(t, selected, 1)
	assert.Equal(t, uint64(0), change)
}

func TestSelectTieBreakIsDeterministic(t *testing.T) {
	state := domain.NewChainState()
	for n := 1; n <= 5; n++ {
		addUtxo(state, n, usdtAsset, 1000)
	}

	first, _, err := Select(state.Spendable(), 2500, usdtAsset)
	require.NoError(t, err)
	second, _, err := Select(state.Spendable(), 2500, usdtAsset)
	require.NoError(t, err)

	require.Len(t, first, 3)
	for i := range first {
		assert.Equal(t, first[i].Outpoint, second[i].Outpoint)
	}
}

func TestSelectIgnoresOtherAssets(t *testing.T) {
	state := domain.NewChainState()
	addUtxo(state, 1, usdtAsset, 5000)
	addUtxo(state, 2, network.Regtest.AssetID, 5000)

	_, _, err := Select(state.Spendable(), 6000, usdtAsset)
	var insufficient *InsufficientFundsError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, usdtAsset, insufficient.Asset)
	assert.Equal(t, uint64(6000), insufficient.Required)
	assert.Equal(t, uint64(5000), insufficient.Available)
}

func TestEstimateVirtualSize(t *testing.T) {
	base := EstimateVirtualSize(1, 1)
	assert.Greater(t, base, 1000) // proofs dominate

	// size grows with both inputs and outputs
	assert.Greater(t, EstimateVirtualSize(2, 1), base)
	assert.Greater(t, EstimateVirtualSize(1, 2), base)

	// at 1000 msats/byte the fee equals the vsize
	assert.Equal(t, uint64(base), EstimateFeeAmount(1, 1, 1000))
	assert.Equal(t, uint64(base)/2, EstimateFeeAmount(1, 1, 500))
}

func TestParseRecipientsFailures(t *testing.T) {
	validAddr := testRecipientAddress(t)

	tests := []struct {
		name       string
		recipients []Recipient
		expected   error
	}{
		{
			"no recipients",
			nil,
			ErrNullRecipients,
		},
		{
			"zero amount",
			[]Recipient{{Address: validAddr, Asset: usdtAsset, Amount: 0}},
			ErrZeroRecipientAmount,
		},
		{
			"short asset",
			[]Recipient{{Address: validAddr, Asset: "beef", Amount: 1}},
			ErrInvalidRecipientAsset,
		},
		{
			"non hex asset",
			[]Recipient{{
				Address: validAddr,
				Asset:   "zz" + usdtAsset[2:],
				Amount:  1,
			}},
			ErrInvalidRecipientAsset,
		},
		{
			"garbage address",
			[]Recipient{{Address: "not an address", Asset: usdtAsset, Amount: 1}},
			ErrInvalidRecipientAddress,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseRecipients(tt.recipients)
			assert.ErrorIs(t, err, tt.expected)
		})
	}
}

func TestBuildFailingValidation(t *testing.T) {
	builder, state := newTestBuilder(t)
	addUtxo(state, 1, network.Regtest.AssetID, 100000)
	addr := testRecipientAddress(t)

	_, err := builder.Build(nil, 1000)
	assert.ErrorIs(t, err, ErrNullRecipients)

	_, err = builder.Build([]Recipient{
		{Address: addr, Asset: network.Regtest.AssetID, Amount: 1000},
	}, 99)
	assert.ErrorIs(t, err, ErrInvalidMilliSatsPerByte)
}

func TestBuildInsufficientFunds(t *testing.T) {
	builder, state := newTestBuilder(t)
	addUtxo(state, 1, network.Regtest.AssetID, 1000)
	addr := testRecipientAddress(t)

	_, err := builder.Build([]Recipient{
		{Address: addr, Asset: network.Regtest.AssetID, Amount: 5000},
	}, 1000)

	var insufficient *InsufficientFundsError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, network.Regtest.AssetID, insufficient.Asset)

	// nothing stays reserved after a failed build
	for _, u := range state.Utxos {
		assert.False(t, u.Reserved)
	}
}

func TestSelectWithFeeConverges(t *testing.T) {
	builder, state := newTestBuilder(t)
	lbtc := network.Regtest.AssetID
	addUtxo(state, 1, lbtc, 100000)
	addUtxo(state, 2, lbtc, 50000)

	targets := map[string]uint64{lbtc: 60000}
	selected, fee, err := builder.selectWithFee(
		state.Spendable(), targets, lbtc, 1, 1000,
	)
	require.NoError(t, err)
	require.NotEmpty(t, selected[lbtc])
	assert.Greater(t, fee, uint64(0))

	total := uint64(0)
	for _, u := range selected[lbtc] {
		total += u.Value
	}
	assert.GreaterOrEqual(t, total, 60000+fee)
}

func TestSelectWithFeeRepricesFinalShape(t *testing.T) {
	builder, state := newTestBuilder(t)
	lbtc := network.Regtest.AssetID
	// the single coin covers target plus the two-output fee exactly, so the
	// second pass sees no change and estimates a smaller, one-output fee,
	// which in turn re-creates the change output
	withChange := EstimateFeeAmount(1, 2, 1000)
	addUtxo(state, 1, lbtc, 10000+withChange)

	targets := map[string]uint64{lbtc: 10000}
	selected, fee, err := builder.selectWithFee(
		state.Spendable(), targets, lbtc, 1, 1000,
	)
	require.NoError(t, err)
	require.Len(t, selected[lbtc], 1)
	assert.Equal(t, withChange, fee)
}

func TestChangeAddressesAreConsumed(t *testing.T) {
	builder, _ := newTestBuilder(t)
	change := map[string]uint64{
		network.Regtest.AssetID: 5000,
		usdtAsset:               300,
	}

	first, err := builder.changeAddresses(change)
	require.NoError(t, err)
	second, err := builder.changeAddresses(change)
	require.NoError(t, err)

	// consecutive builds never share a change address
	seen := map[string]struct{}{}
	for _, infos := range []map[string]*keyring.AddressInfo{first, second} {
		for _, info := range infos {
			assert.Equal(t, keyring.InternalChain, info.Chain)
			_, dup := seen[info.Address]
			assert.False(t, dup)
			seen[info.Address] = struct{}{}
		}
	}

	_, internal := builder.book.NextIndexes()
	assert.Equal(t, uint32(4), internal)
}

func TestSelectWithFeeDiverges(t *testing.T) {
	builder, state := newTestBuilder(t)
	lbtc := network.Regtest.AssetID
	// every pass needs many more coins to cover the fee of the previous one
	for n := 1; n <= 200; n++ {
		addUtxo(state, n, lbtc, 70)
	}

	targets := map[string]uint64{lbtc: 100}
	_, _, err := builder.selectWithFee(
		state.Spendable(), targets, lbtc, 1, 1000,
	)
	assert.ErrorIs(t, err, ErrFeeEstimationDiverged)
}
