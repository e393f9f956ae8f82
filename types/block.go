package types

// TxOutcome reports one transaction of an executed block.
type TxOutcome struct {
	Index uint32 `cramberry:"1"`
	// Code is zero on success and a relay error code otherwise.
	Code uint32 `cramberry:"2"`
	// Info is a log line for humans and is left out of the app hash.
	Info   string  `cramberry:"3"`
	Data   []byte  `cramberry:"4"`
	Events []Event `cramberry:"5"`
}

func (o TxOutcome) OK() bool { return o.Code == 0 }

// BlockOutcome is everything ExecuteBlock produced for one height.
type BlockOutcome struct {
	TxOutcomes  []TxOutcome `cramberry:"1"`
	BlockEvents []Event     `cramberry:"2"`
	AppHash     AppHash     `cramberry:"3"`
	// Records are the relay records the block emitted, in emission
	// order. Relayers only see them after the block commits.
	Records []Record `cramberry:"4"`
}

// FinalizedBlock is a block the engine has decided on.
type FinalizedBlock struct {
	Height        uint64    `cramberry:"1"`
	Time          Timestamp `cramberry:"2"`
	Proposer      Address   `cramberry:"3"`
	Txs           []Tx      `cramberry:"4"`
	LastBlockHash Hash      `cramberry:"5"`
}

// CommitResult confirms that the executed block is durable.
type CommitResult struct {
	// RetainHeight is the lowest height queries still need, or zero to
	// keep everything.
	RetainHeight uint64  `cramberry:"1"`
	AppHash      AppHash `cramberry:"2"`
}
