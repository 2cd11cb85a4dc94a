package types

// SlashProof is a pair of Votes proving a miner equivocated: identical
// equivocation key, distinct BlockHash, both signatures valid and both
// signers equal to the named miner. It travels inside a slash
// transaction's Data field as JSON.
type SlashProof struct {
	VoteA Vote `json:"vote_a"`
	VoteB Vote `json:"vote_b"`
}

// SlashTxData is the JSON shape carried in a slash transaction's Data
// field: `{"tx_type":"slash","byzantine_behavior_proof":<hex>}`.
type SlashTxData struct {
	TxType                 TxType `json:"tx_type"`
	ByzantineBehaviorProof string `json:"byzantine_behavior_proof"`
}

// CoinbaseTxData is the JSON shape carried in a coinbase transaction's
// Data field.
type CoinbaseTxData struct {
	TxType TxType `json:"tx_type"`
}
