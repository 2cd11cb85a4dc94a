// Package accounts derives nonce and balance as pure functions of the
// confirmed chain, never of mempool or pending state.
//
// Follows the same read-only derived-view style as the sharechain
// validator, which computes expected difficulty purely from ancestors
// fetched through the store, never mutating it. AccountState here plays
// the same role for sender nonce/balance checks that difficulty
// recomputation plays for share validation.
package accounts

import (
	"github.com/nodeforge/posnode/internal/codec"
	"github.com/nodeforge/posnode/internal/cryptoutil"
	"github.com/nodeforge/posnode/internal/store"
	"github.com/nodeforge/posnode/internal/types"
	"github.com/nodeforge/posnode/pkg/util"
)

// AccountState bundles the two pure derived quantities, computed as of
// a given block (or the head if unspecified).
type AccountState struct {
	Address types.Address
	Nonce   uint64
	Balance types.Decimal
}

// Compute walks every confirmed block at or below atBlock (the head,
// if atBlock is the zero hash) and folds every transaction touching
// addr into a nonce count and balance delta:
//
//	balance = Σ(received value) − Σ(sent value+fee)
//	        + Σ(coinbase paid to addr)
//
// Slashing is not debited here: it cuts the offender's
// Miner.StakeAmount, a separate ledger.
func Compute(s *store.Store, addr types.Address, atBlock [32]byte) (AccountState, error) {
	state := AccountState{Address: addr, Balance: types.ZeroDecimal()}

	var chain []*types.Block
	var err error
	if util.IsZeroHash(atBlock) {
		head, ok, herr := s.Head()
		if herr != nil {
			return state, herr
		}
		if !ok {
			return state, nil
		}
		headHash, hErr := codec.HashHeader(&head.PendingBlockHeader)
		if hErr != nil {
			return state, hErr
		}
		chain, err = s.ListPrecedingBlocks(headHash)
	} else {
		chain, err = s.ListPrecedingBlocks(atBlock)
	}
	if err != nil {
		return state, err
	}

	for _, b := range chain {
		for i := range b.Txs {
			tx := &b.Txs[i]
			applyTx(&state, addr, tx)
		}
	}
	return state, nil
}

// applyTx folds one confirmed transaction into state. Coinbase and
// slash transactions are folded through the same sender/receiver
// accounting as transfers rather than a separate code path — neither is
// exempt, and their Value/Fee fields already encode the intended effect
// (coinbase: value = fees earned, fee = 1.0; slash: value = 0). Stake
// debits from slashing live on Miner.StakeAmount (internal/slasher), a
// separate ledger from this balance.
func applyTx(state *AccountState, addr types.Address, tx *types.Tx) {
	if tx.To == addr {
		state.Balance = state.Balance.Add(tx.Value)
	}

	sender, err := senderOf(tx)
	if err == nil && sender == addr {
		state.Nonce++
		total := tx.Value.Add(tx.Fee)
		state.Balance = state.Balance.Sub(total)
	}
}

// senderOf recovers the sending address from a transaction's signature
// over its unsigned encoding:
// sender = addr(recover(H(rlp(tx without v,r,s)))).
func senderOf(tx *types.Tx) (types.Address, error) {
	if !tx.IsSigned() {
		return types.Address{}, nil
	}
	enc, err := codec.EncodeTxUnsigned(tx)
	if err != nil {
		return types.Address{}, err
	}
	hash := util.Hash256(enc)
	sig := cryptoutil.Signature{V: tx.V, R: tx.R, S: tx.S}
	return cryptoutil.RecoverAddress(hash, sig)
}
