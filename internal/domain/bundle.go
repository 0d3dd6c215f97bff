package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// BundleEntry is one relay bundle entry wrapping a signed transaction blob.
type BundleEntry struct {
	SignedTransaction hexutil.Bytes
}

// SignedBundle is an ordered bundle ready for relay submission.
type SignedBundle struct {
	Entries []BundleEntry
}

// RawTransactions returns the hex encoded blobs in execution order.
func (b SignedBundle) RawTransactions() []string {
	raw := make([]string, 0, len(b.Entries))
	for _, entry := range b.Entries {
		raw = append(raw, hexutil.Encode(entry.SignedTransaction))
	}
	return raw
}

type SimulationKind string

const (
	SimulationOK       SimulationKind = "ok"
	SimulationReverted SimulationKind = "revert"
	SimulationErrored  SimulationKind = "error"
)

// SimulationTxResult is the per transaction outcome of a bundle simulation.
type SimulationTxResult struct {
	TxHash            common.Hash `json:"txHash"`
	GasUsed           uint64      `json:"gasUsed"`
	GasPrice          string      `json:"gasPrice,omitempty"`
	CoinbaseDiff      string      `json:"coinbaseDiff,omitempty"`
	EthSentToCoinbase string      `json:"ethSentToCoinbase,omitempty"`
	Value             string      `json:"value,omitempty"`
	Error             string      `json:"error,omitempty"`
	Revert            string      `json:"revert,omitempty"`
}

// SimulationTrace summarizes a successful simulation.
type SimulationTrace struct {
	BundleHash        common.Hash
	BundleGasPrice    string
	CoinbaseDiff      string
	EthSentToCoinbase string
	GasFees           string
	StateBlockNumber  uint64
	TotalGasUsed      uint64
	Results           []SimulationTxResult
}

// SimulationResult is the typed verdict of eth_callBundle.
type SimulationResult struct {
	Kind        SimulationKind
	RevertIndex int
	Message     string
	Trace       SimulationTrace
}

func (r SimulationResult) OK() bool {
	return r.Kind == SimulationOK
}

// Resolution is the outcome of a pending bundle for its target block.
type Resolution int

const (
	ResolutionIncluded Resolution = iota
	ResolutionNotIncluded
	ResolutionNonceTooHigh
)

func (r Resolution) String() string {
	switch r {
	case ResolutionIncluded:
		return "included"
	case ResolutionNotIncluded:
		return "not_included"
	case ResolutionNonceTooHigh:
		return "nonce_too_high"
	default:
		return "unknown"
	}
}

type BundleStatus string

const (
	StatusIdle      BundleStatus = "idle"
	StatusPending   BundleStatus = "pending"
	StatusSuccess   BundleStatus = "success"
	StatusError     BundleStatus = "error"
	StatusCancelled BundleStatus = "cancelled"
)

// Terminal reports whether no further transitions can happen.
func (s BundleStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusError || s == StatusCancelled
}

// BundleAttempt is the persisted state of one retry controller.
type BundleAttempt struct {
	ID           string
	Key          string
	ChainID      uint64
	Transactions []hexutil.Bytes
	Status       BundleStatus
	TargetBlock  uint64
	Attempts     int
	BundleHash   string
	LastError    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type EventType string

const (
	EventSubmitted EventType = "submitted"
	EventRetrying  EventType = "retrying"
	EventSuccess   EventType = "success"
	EventError     EventType = "error"
	EventCancelled EventType = "cancelled"
)

// BundleEvent is emitted by the retry controller on each observable step.
type BundleEvent struct {
	AttemptID   string
	Key         string
	ChainID     uint64
	Type        EventType
	Status      BundleStatus
	TargetBlock uint64
	Attempt     int
	BundleHash  string
	Message     string
	OccurredAt  time.Time
}

// BundleOptions are the relay side constraints attached to a submission.
type BundleOptions struct {
	MinTimestamp      uint64
	MaxTimestamp      uint64
	RevertingTxHashes []common.Hash
}
