package testutil

import (
	"time"

	"github.com/nodeforge/posnode/internal/codec"
	"github.com/nodeforge/posnode/internal/cryptoutil"
	"github.com/nodeforge/posnode/internal/types"
	"github.com/nodeforge/posnode/pkg/util"
)

// SampleSignedTx builds a transfer transaction signed by priv, the shape
// package tests across the module reach for when they need a valid,
// self-consistent Tx without hand-rolling signature plumbing.
func SampleSignedTx(priv *cryptoutil.PrivateKey, nonce uint64, value string) *types.Tx {
	val, err := types.DecimalFromString(value)
	if err != nil {
		panic(err)
	}
	tx := &types.Tx{
		Nonce: nonce,
		To:    SampleAddress(),
		Value: val,
		Fee:   types.ZeroDecimal(),
	}
	SignTx(priv, tx)
	return tx
}

// SignTx signs tx with priv over its unsigned encoding, mirroring the
// mempool's own unsigned-encode-then-recover sequence (senderOf in
// internal/mempool/mempool.go) in reverse.
func SignTx(priv *cryptoutil.PrivateKey, tx *types.Tx) {
	enc, err := codec.EncodeTxUnsigned(tx)
	if err != nil {
		panic(err)
	}
	sig := cryptoutil.Sign(priv, util.Hash256(enc))
	tx.V, tx.R, tx.S = sig.V, sig.R, sig.S
}

// SampleVote builds a vote for the given height/round/candidate, signed by
// priv, for voting-manager and slasher tests.
func SampleVote(priv *cryptoutil.PrivateKey, minerAddr types.Address, height uint64, round uint32, candidate [32]byte) *types.Vote {
	v := &types.Vote{
		MinerAddress: minerAddr,
		BlockNumber:  height,
		BlockHash:    candidate,
		VotingRound:  round,
	}
	enc, err := codec.EncodeVoteUnsigned(v)
	if err != nil {
		panic(err)
	}
	sig := cryptoutil.Sign(priv, util.Hash256(enc))
	v.V, v.R, v.S = sig.V, sig.R, sig.S
	return v
}

// SampleMiner builds a registered miner row with the given stake.
func SampleMiner(addr types.Address, stake string) *types.Miner {
	amt, err := types.DecimalFromString(stake)
	if err != nil {
		panic(err)
	}
	return &types.Miner{
		Address:           addr,
		StakeAmount:       amt,
		InsertedAt:        time.Unix(1700000000, 0).UTC(),
		ParticipationRate: 1.0,
	}
}

// SampleAddress derives a throwaway address from a freshly generated
// key pair (a different address on every call) — convenient as a "to"
// recipient in fixtures that don't care whose address it is.
func SampleAddress() types.Address {
	priv, err := cryptoutil.GeneratePrivateKey()
	if err != nil {
		panic(err)
	}
	return cryptoutil.Address(priv.PubKey())
}

// SamplePendingBlockHeader builds a header with the given number and
// prev hash, for store/trie tests that need a row without running the
// full assembler pipeline.
func SamplePendingBlockHeader(number uint64, prevHash [32]byte) types.PendingBlockHeader {
	return types.PendingBlockHeader{
		PrevHash: prevHash,
		Number:   number,
	}
}
