package sequencer

import "sync/atomic"

// Sequencer stamps monotonically increasing sequence IDs on accepted orders
// (inbound) and executed trades (outbound). Sequence IDs make the event
// stream totally ordered and replayable downstream.
type Sequencer struct {
	inboundSeq  atomic.Uint64
	outboundSeq atomic.Uint64
}

// New creates a sequencer with both counters at zero.
func New() *Sequencer {
	return &Sequencer{}
}

// NextInbound returns the next inbound sequence ID.
func (s *Sequencer) NextInbound() uint64 {
	return s.inboundSeq.Add(1)
}

// NextOutbound returns the next outbound sequence ID.
func (s *Sequencer) NextOutbound() uint64 {
	return s.outboundSeq.Add(1)
}

// CurrentInboundSeq returns the current inbound sequence number.
func (s *Sequencer) CurrentInboundSeq() uint64 {
	return s.inboundSeq.Load()
}

// CurrentOutboundSeq returns the current outbound sequence number.
func (s *Sequencer) CurrentOutboundSeq() uint64 {
	return s.outboundSeq.Load()
}
