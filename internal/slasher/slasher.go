// Package slasher detects equivocating votes, emits signed slash
// transactions, and applies their stake penalty during block
// processing.
//
// Uses the sharechain validation package's ValidationError idiom for
// proof-verification failures, and a plain-struct-with-JSON-tags style
// for the transaction-shaped payload a slash tx carries.
package slasher

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/nodeforge/posnode/internal/codec"
	"github.com/nodeforge/posnode/internal/cryptoutil"
	"github.com/nodeforge/posnode/internal/store"
	"github.com/nodeforge/posnode/internal/types"
	"github.com/nodeforge/posnode/pkg/util"
)

// Detect checks a newly arrived vote v against the set of votes
// already known at its (miner_address,
// block_number, voting_round) equivocation key, report whether any
// existing vote v' conflicts — different block_hash, both signatures
// verifying against the same miner. The first conflict found is the
// proof.
func Detect(v *types.Vote, existing []*types.Vote) (*types.SlashProof, bool, error) {
	if !verifies(v) {
		return nil, false, nil
	}
	for _, other := range existing {
		if other.MinerAddress != v.MinerAddress {
			continue
		}
		if other.BlockNumber != v.BlockNumber || other.VotingRound != v.VotingRound {
			continue
		}
		if other.BlockHash == v.BlockHash {
			continue
		}
		if !verifies(other) {
			continue
		}
		return &types.SlashProof{VoteA: *v, VoteB: *other}, true, nil
	}
	return nil, false, nil
}

func verifies(v *types.Vote) bool {
	enc, err := codec.EncodeVoteUnsigned(v)
	if err != nil {
		return false
	}
	sig := cryptoutil.Signature{V: v.V, R: v.R, S: v.S}
	signer, err := cryptoutil.RecoverAddress(util.Hash256(enc), sig)
	if err != nil {
		return false
	}
	return signer == v.MinerAddress
}

// Emit builds, signs and returns a slash transaction carrying proof,
// ready for mempool admission. The offender is derived from
// proof.VoteA.MinerAddress.
func Emit(signer *cryptoutil.PrivateKey, proof *types.SlashProof, fee types.Decimal) (*types.Tx, error) {
	offender := proof.VoteA.MinerAddress
	proofJSON, err := json.Marshal(proof)
	if err != nil {
		return nil, fmt.Errorf("marshal slash proof: %w", err)
	}
	payload := types.SlashTxData{
		TxType:                 types.TxTypeSlash,
		ByzantineBehaviorProof: hex.EncodeToString(proofJSON),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal slash tx data: %w", err)
	}

	tx := &types.Tx{
		Nonce: 0,
		To:    offender,
		Value: types.ZeroDecimal(),
		Fee:   fee,
		Data:  data,
	}
	enc, err := codec.EncodeTxUnsigned(tx)
	if err != nil {
		return nil, fmt.Errorf("encode unsigned slash tx: %w", err)
	}
	sig := cryptoutil.Sign(signer, util.Hash256(enc))
	tx.V, tx.R, tx.S = sig.V, sig.R, sig.S
	return tx, nil
}

// DecodeProof extracts and validates the SlashProof carried in a slash
// transaction's Data field, returning the proof (its votes carry the
// equivocation key), or an error if the payload is malformed or the
// proof does not hold (mismatched equivocation key, identical
// block_hash, or an unverifiable signature).
func DecodeProof(tx *types.Tx) (*types.SlashProof, error) {
	var payload types.SlashTxData
	if err := json.Unmarshal(tx.Data, &payload); err != nil {
		return nil, types.NewValidationError(types.KindMalformedPayload, err.Error())
	}
	if payload.TxType != types.TxTypeSlash {
		return nil, types.NewValidationError(types.KindMalformedPayload, "not a slash transaction")
	}
	raw, err := hex.DecodeString(payload.ByzantineBehaviorProof)
	if err != nil {
		return nil, types.NewValidationError(types.KindMalformedPayload, err.Error())
	}
	var proof types.SlashProof
	if err := json.Unmarshal(raw, &proof); err != nil {
		return nil, types.NewValidationError(types.KindMalformedPayload, err.Error())
	}
	if !ProofIsValid(&proof) {
		return nil, types.NewValidationError(types.KindMalformedPayload, "slash proof does not prove equivocation")
	}
	return &proof, nil
}

// ProofIsValid requires both votes to carry the same equivocation key,
// a different block_hash, and both signatures to verify against the
// proof's offender.
func ProofIsValid(proof *types.SlashProof) bool {
	a, b := &proof.VoteA, &proof.VoteB
	if a.MinerAddress != b.MinerAddress {
		return false
	}
	if a.BlockNumber != b.BlockNumber || a.VotingRound != b.VotingRound {
		return false
	}
	if a.BlockHash == b.BlockHash {
		return false
	}
	return verifies(a) && verifies(b)
}

// Apply runs during processing of a committed block: a slash tx whose
// proof verifies and whose offender has not already been slashed at
// the proof's (height, round) reduces the offender's stake by
// slashPenaltyPercent, given as a fraction (0.20 cuts 20%). Idempotent
// per (offender, height, round).
func Apply(s *store.Store, tx *types.Tx, slashPenaltyPercent float64) error {
	proof, err := DecodeProof(tx)
	if err != nil {
		return err
	}
	offender := proof.VoteA.MinerAddress
	height := proof.VoteA.BlockNumber
	round := proof.VoteA.VotingRound

	already, err := s.IsSlashed(offender, height, round)
	if err != nil {
		return fmt.Errorf("check slashed: %w", err)
	}
	if already {
		return nil
	}

	miner, ok, err := s.GetMiner(offender)
	if err != nil {
		return fmt.Errorf("get miner: %w", err)
	}
	if !ok {
		return types.NewValidationError(types.KindUnknownMiner, offender.String())
	}

	miner.StakeAmount = miner.StakeAmount.MulPercent(100 - slashPenaltyPercent*100)
	if err := s.PutMiner(miner); err != nil {
		return fmt.Errorf("put slashed miner: %w", err)
	}
	return s.MarkSlashed(offender, height, round)
}
