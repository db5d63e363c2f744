// Package txbuilder assembles, blinds and signs confidential transactions
// spending wallet utxos. Coin selection is deterministic and selected coins
// are reserved on the provided view for the whole build, so that concurrent
// builds never double spend each other.
package txbuilder

import (
	"encoding/hex"
	"sort"

	"github.com/btcsuite/btcd/txscript"
	"github.com/vulpemventures/go-elements/address"
	"github.com/vulpemventures/go-elements/network"
	"github.com/vulpemventures/go-elements/payment"
	"github.com/vulpemventures/go-elements/pset"
	"github.com/vulpemventures/go-elements/transaction"

	"github.com/liquidtools/walletd/internal/domain"
	"github.com/liquidtools/walletd/pkg/bufferutil"
	"github.com/liquidtools/walletd/pkg/keyring"
)

const (
	// MaxBlindingAttempts is the max number of times the blinding of a pset
	// is repeated in case it fails to generate valid proofs.
	MaxBlindingAttempts = 8
	// DefaultBlindingAttempts is the default number of blinding attempts.
	DefaultBlindingAttempts = 4
	// MinMillisatsPerByte is the lowest accepted fee rate.
	MinMillisatsPerByte = 100
	// DustLimit is the smallest change amount worth a dedicated output.
	// Smaller L-BTC changes are folded into the fee instead.
	DustLimit = 546
)

// Recipient is one destination of a transaction.
type Recipient struct {
	Address string
	Asset   string
	Amount  uint64
}

// UtxoView is the set of spendable coins a builder draws from, with the
// reservation primitives guarding them against concurrent selection.
type UtxoView interface {
	Spendable() []*domain.Utxo
	Reserve(outpoints ...domain.Outpoint) error
	Release(outpoints ...domain.Outpoint)
}

// Result is a fully built transaction ready for broadcast. The selected
// outpoints stay reserved on the view until released by the caller or spent.
type Result struct {
	TxHex    string
	TxID     string
	Fee      uint64
	Selected []domain.Outpoint
}

// Builder builds transactions for the account of a keyring.
type Builder struct {
	ring          *keyring.KeyRing
	book          *keyring.AddressBook
	view          UtxoView
	net           *network.Network
	blindAttempts int
}

// NewBuilder returns a builder spending from the given view and signing with
// the given keyring.
func NewBuilder(
	ring *keyring.KeyRing, book *keyring.AddressBook, view UtxoView,
) *Builder {
	return &Builder{
		ring:          ring,
		book:          book,
		view:          view,
		net:           ring.Network(),
		blindAttempts: DefaultBlindingAttempts,
	}
}

type parsedRecipient struct {
	asset       string
	amount      uint64
	script      []byte
	blindingKey []byte
}

func parseRecipients(recipients []Recipient) ([]parsedRecipient, error) {
	if len(recipients) <= 0 {
		return nil, ErrNullRecipients
	}
	parsed := make([]parsedRecipient, 0, len(recipients))
	for _, r := range recipients {
		if r.Amount <= 0 {
			return nil, ErrZeroRecipientAmount
		}
		if len(r.Asset) != 64 {
			return nil, ErrInvalidRecipientAsset
		}
		if _, err := bufferutil.AssetHashToBytes(r.Asset); err != nil {
			return nil, ErrInvalidRecipientAsset
		}
		script, err := address.ToOutputScript(r.Address)
		if err != nil {
			return nil, ErrInvalidRecipientAddress
		}
		ctAddr, err := address.FromConfidential(r.Address)
		if err != nil {
			return nil, ErrInvalidRecipientAddress
		}
		parsed = append(parsed, parsedRecipient{
			asset:       r.Asset,
			amount:      r.Amount,
			script:      script,
			blindingKey: ctAddr.BlindingKey,
		})
	}
	return parsed, nil
}

// Build assembles a transaction paying the given recipients at the given fee
// rate. Inputs are selected per asset largest first, changes go to fresh
// internal addresses, outputs are blinded with the recipients' and the
// wallet's blinding keys and the fee is paid in L-BTC on an explicit output.
// On failure the reservation of the selected coins is rolled back.
func (b *Builder) Build(
	recipients []Recipient, millisatsPerByte int,
) (*Result, error) {
	parsed, err := parseRecipients(recipients)
	if err != nil {
		return nil, err
	}
	if millisatsPerByte < MinMillisatsPerByte {
		return nil, ErrInvalidMilliSatsPerByte
	}

	lbtc := b.net.AssetID
	baseTargets := map[string]uint64{}
	for _, r := range parsed {
		baseTargets[r.asset] += r.amount
	}

	spendable := b.view.Spendable()

	selected, fee, err := b.selectWithFee(
		spendable, baseTargets, lbtc, len(recipients), millisatsPerByte,
	)
	if err != nil {
		return nil, err
	}

	change := map[string]uint64{}
	for _, asset := range sortedSelectionKeys(selected) {
		total := uint64(0)
		for _, u := range selected[asset] {
			total += u.Value
		}
		c := total - baseTargets[asset]
		if asset == lbtc {
			c -= fee
			// an L-BTC change too small for an output goes to the miners
			if c > 0 && c < DustLimit {
				fee += c
				c = 0
			}
		}
		if c > 0 {
			change[asset] = c
		}
	}

	inputs := make([]*domain.Utxo, 0)
	outpoints := make([]domain.Outpoint, 0)
	for _, asset := range sortedSelectionKeys(selected) {
		for _, u := range selected[asset] {
			inputs = append(inputs, u)
			outpoints = append(outpoints, u.Outpoint)
		}
	}

	if err := b.view.Reserve(outpoints...); err != nil {
		return nil, err
	}
	ok := false
	defer func() {
		if !ok {
			b.view.Release(outpoints...)
		}
	}()

	ptx, err := b.assemble(inputs, parsed, change, fee)
	if err != nil {
		return nil, err
	}
	if err := b.sign(ptx, inputs); err != nil {
		return nil, err
	}

	txHex, txid, err := finalize(ptx)
	if err != nil {
		return nil, err
	}

	ok = true
	return &Result{
		TxHex:    txHex,
		TxID:     txid,
		Fee:      fee,
		Selected: outpoints,
	}, nil
}

// selectWithFee runs the per asset coin selection, folding the estimated fee
// into the L-BTC target and reselecting until the estimate stabilizes. The
// target may only grow a bounded number of times before giving up.
func (b *Builder) selectWithFee(
	spendable []*domain.Utxo,
	baseTargets map[string]uint64,
	lbtc string,
	numRecipients, millisatsPerByte int,
) (map[string][]*domain.Utxo, uint64, error) {
	fee := uint64(0)
	for retry := 0; ; retry++ {
		targets := map[string]uint64{}
		for asset, amount := range baseTargets {
			targets[asset] = amount
		}
		targets[lbtc] += fee

		selected := map[string][]*domain.Utxo{}
		numInputs := 0
		numChange := 0
		for _, asset := range sortedAmountKeys(targets) {
			if targets[asset] <= 0 {
				continue
			}
			utxos, change, err := Select(spendable, targets[asset], asset)
			if err != nil {
				return nil, 0, err
			}
			selected[asset] = utxos
			numInputs += len(utxos)
			if change > 0 {
				numChange++
			}
		}

		estimated := EstimateFeeAmount(
			numInputs, numRecipients+numChange, millisatsPerByte,
		)
		if fee > 0 && estimated <= fee {
			// a shrunken estimate can surface a change output the selection
			// pass never counted, settle on the final shape
			finalChange := countChangeOutputs(selected, baseTargets, lbtc, estimated)
			estimated = EstimateFeeAmount(
				numInputs, numRecipients+finalChange, millisatsPerByte,
			)
			if estimated <= fee {
				return selected, estimated, nil
			}
		}
		if retry >= 2 {
			return nil, 0, ErrFeeEstimationDiverged
		}
		fee = estimated
	}
}

// countChangeOutputs returns the number of change outputs the selection
// produces once the fee settles at the given amount.
func countChangeOutputs(
	selected map[string][]*domain.Utxo,
	baseTargets map[string]uint64,
	lbtc string,
	fee uint64,
) int {
	count := 0
	for asset, utxos := range selected {
		total := uint64(0)
		for _, u := range utxos {
			total += u.Value
		}
		target := baseTargets[asset]
		if asset == lbtc {
			target += fee
		}
		if total > target {
			count++
		}
	}
	return count
}

func (b *Builder) assemble(
	inputs []*domain.Utxo,
	recipients []parsedRecipient,
	change map[string]uint64,
	fee uint64,
) (*pset.Pset, error) {
	ptx, err := pset.New(
		[]*transaction.TxInput{}, []*transaction.TxOutput{}, 2, 0,
	)
	if err != nil {
		return nil, err
	}
	updater, err := pset.NewUpdater(ptx)
	if err != nil {
		return nil, err
	}

	for _, u := range inputs {
		input, prevout, err := u.Parse()
		if err != nil {
			return nil, err
		}
		updater.AddInput(input)
		if err := updater.AddInWitnessUtxo(prevout, len(ptx.Inputs)-1); err != nil {
			return nil, err
		}
	}

	outBlindingKeys := map[int][]byte{}
	outIndex := 0
	for _, r := range recipients {
		output, err := newTxOutput(r.asset, r.amount, r.script)
		if err != nil {
			return nil, err
		}
		updater.AddOutput(output)
		outBlindingKeys[outIndex] = r.blindingKey
		outIndex++
	}

	changeInfos, err := b.changeAddresses(change)
	if err != nil {
		return nil, err
	}
	for _, asset := range sortedAmountKeys(change) {
		if change[asset] <= 0 {
			continue
		}
		info := changeInfos[asset]

		output, err := newTxOutput(asset, change[asset], info.Script)
		if err != nil {
			return nil, err
		}
		updater.AddOutput(output)
		outBlindingKeys[outIndex] = info.BlindingPubKey
		outIndex++
	}

	if err := b.blind(ptx, inputs, outBlindingKeys); err != nil {
		return nil, err
	}

	// the fee output stays explicit and is added after blinding
	lbtcAsset, err := bufferutil.AssetHashToBytes(b.net.AssetID)
	if err != nil {
		return nil, err
	}
	feeValue, err := bufferutil.ValueToBytes(fee)
	if err != nil {
		return nil, err
	}
	updater.AddOutput(transaction.NewTxOutput(lbtcAsset, feeValue, []byte{}))

	return ptx, nil
}

// changeAddresses derives one fresh internal address per change asset and
// moves the internal counter past every consumed index, so that no two
// builds ever put change on the same address. An index stays consumed even
// if the build fails afterwards, an address is never exposed twice.
func (b *Builder) changeAddresses(
	change map[string]uint64,
) (map[string]*keyring.AddressInfo, error) {
	infos := map[string]*keyring.AddressInfo{}
	_, nextInternal := b.book.NextIndexes()
	offset := uint32(0)
	for _, asset := range sortedAmountKeys(change) {
		if change[asset] <= 0 {
			continue
		}
		index := nextInternal + offset
		info, err := b.book.AddressAt(keyring.InternalChain, index)
		if err != nil {
			return nil, err
		}
		b.book.MarkUsed(keyring.InternalChain, index)
		offset++
		infos[asset] = info
	}
	return infos, nil
}

func (b *Builder) blind(
	ptx *pset.Pset, inputs []*domain.Utxo, outBlindingKeys map[int][]byte,
) error {
	inBlindingData := make([]pset.BlindingDataLike, 0, len(inputs))
	for _, u := range inputs {
		asset, err := hex.DecodeString(u.Asset)
		if err != nil {
			return err
		}
		assetBlinder := u.AssetBlinder
		valueBlinder := u.ValueBlinder
		if len(assetBlinder) <= 0 {
			assetBlinder = make([]byte, 32)
		}
		if len(valueBlinder) <= 0 {
			valueBlinder = make([]byte, 32)
		}
		inBlindingData = append(inBlindingData, pset.BlindingData{
			Asset:               bufferutil.ReverseBytes(asset),
			Value:               u.Value,
			AssetBlindingFactor: assetBlinder,
			ValueBlindingFactor: valueBlinder,
		})
	}

	blinder, err := pset.NewBlinder(
		ptx, inBlindingData, outBlindingKeys, nil, nil,
	)
	if err != nil {
		return err
	}

	for attempt := 0; attempt < b.blindAttempts; attempt++ {
		err := blinder.Blind()
		if err == nil {
			return nil
		}
		if err != pset.ErrGenerateSurjectionProof {
			return err
		}
	}
	return ErrBlindingFailed
}

func (b *Builder) sign(ptx *pset.Pset, inputs []*domain.Utxo) error {
	updater, err := pset.NewUpdater(ptx)
	if err != nil {
		return err
	}

	for i, u := range inputs {
		pay, err := payment.FromScript(
			ptx.Inputs[i].WitnessUtxo.Script, nil, nil,
		)
		if err != nil {
			return err
		}
		hashForSignature := ptx.UnsignedTx.HashForWitnessV0(
			i, pay.Script, ptx.Inputs[i].WitnessUtxo.Value, txscript.SigHashAll,
		)

		signature, err := b.ring.SignHash(u.Chain, u.Index, hashForSignature[:])
		if err != nil {
			return err
		}
		pair, err := b.ring.Derive(u.Chain, u.Index)
		if err != nil {
			return err
		}

		sigWithSigHashType := append(signature, byte(txscript.SigHashAll))
		if _, err := updater.Sign(
			i, sigWithSigHashType, pair.SigningPubKey.SerializeCompressed(),
			nil, nil,
		); err != nil {
			return err
		}
	}
	return nil
}

func finalize(ptx *pset.Pset) (string, string, error) {
	ok, err := ptx.ValidateAllSignatures()
	if err != nil {
		return "", "", err
	}
	if !ok {
		return "", "", ErrInvalidSignatures
	}
	if err := pset.FinalizeAll(ptx); err != nil {
		return "", "", err
	}
	tx, err := pset.Extract(ptx)
	if err != nil {
		return "", "", err
	}
	txHex, err := tx.ToHex()
	if err != nil {
		return "", "", err
	}
	return txHex, tx.TxHash().String(), nil
}

func newTxOutput(
	asset string, value uint64, script []byte,
) (*transaction.TxOutput, error) {
	assetBytes, err := bufferutil.AssetHashToBytes(asset)
	if err != nil {
		return nil, err
	}
	valueBytes, err := bufferutil.ValueToBytes(value)
	if err != nil {
		return nil, err
	}
	return transaction.NewTxOutput(assetBytes, valueBytes, script), nil
}

func sortedAmountKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedSelectionKeys(m map[string][]*domain.Utxo) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
