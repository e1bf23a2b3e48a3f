package scheduler

import (
	"time"

	"solshuttle/internal/amount"
	"solshuttle/internal/web3"
)

// Direction selects which wallet sends during a cycle.
type Direction int

const (
	AToB Direction = iota
	BToA
)

// Toggle returns the opposite direction.
func (d Direction) Toggle() Direction {
	if d == AToB {
		return BToA
	}
	return AToB
}

func (d Direction) String() string {
	if d == BToA {
		return "B → A"
	}
	return "A → B"
}

// Label is the metric-friendly form of the direction.
func (d Direction) Label() string {
	if d == BToA {
		return "b_to_a"
	}
	return "a_to_b"
}

// Stage names the step a cycle reached.
type Stage string

const (
	StageLease   Stage = "lease"
	StageAmount  Stage = "amount"
	StageAnchor  Stage = "anchor"
	StageBuild   Stage = "build"
	StageSubmit  Stage = "submit"
	StageConfirm Stage = "confirm"
	StageDone    Stage = "done"
)

// Outcome is the tagged result of one cycle: a confirmed receipt, or the
// error of the stage that stopped it.
type Outcome struct {
	CycleID    string
	Direction  Direction
	Sender     web3.Address
	Receiver   web3.Address
	Amount     amount.Amount
	Receipt    web3.Receipt
	Stage      Stage
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// Succeeded reports whether the transfer was confirmed.
func (o Outcome) Succeeded() bool {
	return o.Err == nil && o.Receipt.Status == web3.StatusConfirmed
}

// Duration is the wall time of the cycle.
func (o Outcome) Duration() time.Duration {
	return o.FinishedAt.Sub(o.StartedAt)
}

// Status summarises the outcome for reporting.
func (o Outcome) Status() string {
	if o.Succeeded() {
		return string(web3.StatusConfirmed)
	}
	if o.Receipt.Status.Final() {
		return string(o.Receipt.Status)
	}
	return "failed"
}
