package events

import (
	"sync/atomic"
	"time"
)

type Kind string

// Event is anything the orchestrator broadcasts. Sequence grows with every
// event created in the process, so events with equal timestamps still
// have an order.
type Event interface {
	Kind() Kind
	Timestamp() time.Time
	Sequence() uint64
}

var sequence atomic.Uint64

// Base is embedded by every event.
type Base struct {
	kind      Kind
	timestamp time.Time
	sequence  uint64
}

func NewBase(kind Kind) Base {
	return Base{kind: kind, timestamp: time.Now(), sequence: sequence.Add(1)}
}

func (b Base) Kind() Kind           { return b.kind }
func (b Base) Timestamp() time.Time { return b.timestamp }
func (b Base) Sequence() uint64     { return b.sequence }
