// Package coinbase builds the block proposer's reward transaction and
// validates it on receipt.
package coinbase

import (
	"encoding/json"
	"fmt"

	"github.com/nodeforge/posnode/internal/codec"
	"github.com/nodeforge/posnode/internal/cryptoutil"
	"github.com/nodeforge/posnode/internal/types"
	"github.com/nodeforge/posnode/pkg/util"
)

// Fee is the fixed coinbase transaction fee (1.0).
var Fee = types.DecimalFromInt64(1)

// Build constructs and signs the proposer's coinbase transaction:
// {nonce: 0, to: proposer, value: Σ fees over batch, fee: 1.0,
// data: {"tx_type":"coinbase"}}. It must be placed last in the body.
func Build(proposer *cryptoutil.PrivateKey, proposerAddr types.Address, batch []types.Tx) (*types.Tx, error) {
	payload, err := json.Marshal(types.TxPayload{TxType: types.TxTypeCoinbase})
	if err != nil {
		return nil, fmt.Errorf("marshal coinbase payload: %w", err)
	}

	tx := &types.Tx{
		Nonce: 0,
		To:    proposerAddr,
		Value: SumFees(batch),
		Fee:   Fee,
		Data:  payload,
	}

	enc, err := codec.EncodeTxUnsigned(tx)
	if err != nil {
		return nil, fmt.Errorf("encode unsigned coinbase: %w", err)
	}
	sig := cryptoutil.Sign(proposer, util.Hash256(enc))
	tx.V, tx.R, tx.S = sig.V, sig.R, sig.S
	return tx, nil
}

// SumFees totals the fee field over a batch of (non-coinbase) transactions.
func SumFees(batch []types.Tx) types.Decimal {
	total := types.ZeroDecimal()
	for i := range batch {
		total = total.Add(batch[i].Fee)
	}
	return total
}

// Validate enforces the receipt-time rule: block.coinbase.value ==
// Σ(fee of every non-coinbase tx in block). The coinbase must be
// exactly the last transaction in the body.
func Validate(txs []types.Tx) error {
	if len(txs) == 0 {
		return types.NewValidationError(types.KindMalformedPayload, "empty block body has no coinbase")
	}
	last := txs[len(txs)-1]
	var payload types.TxPayload
	if err := json.Unmarshal(last.Data, &payload); err != nil || payload.TxType != types.TxTypeCoinbase {
		return types.NewValidationError(types.KindMalformedPayload, "last transaction is not a coinbase")
	}

	for i := 0; i < len(txs)-1; i++ {
		var p types.TxPayload
		if json.Unmarshal(txs[i].Data, &p) == nil && p.TxType == types.TxTypeCoinbase {
			return types.NewValidationError(types.KindMalformedPayload, "more than one coinbase transaction")
		}
	}

	want := SumFees(txs[:len(txs)-1])
	if last.Value.Cmp(want) != 0 {
		return types.NewValidationError(types.KindMalformedPayload,
			fmt.Sprintf("coinbase value %s does not equal summed fees %s", last.Value.String(), want.String()))
	}
	return nil
}
