// Package filter runs captured packets through an ordered chain of
// classifiers. The first classifier that rejects a packet ends the chain.
package filter

import (
	"Go2NetGuard/internal/engine/protocol"
	"Go2NetGuard/internal/model"
	"io"
)

// PreviewLen is the number of payload bytes shown in a drop event.
const PreviewLen = 24

// Filter is one stage of the chain. Permit reports true to forward the
// packet to the next stage; a filter that returns false has already emitted
// its drop event.
type Filter interface {
	Stage() model.Stage
	Permit(pkt *model.Packet) bool
	// Report writes the end-of-run summary block.
	Report(w io.Writer)
}

// Chain evaluates filters in order with early exit.
type Chain struct {
	filters []Filter
}

// NewChain builds a chain; nil filters are skipped.
func NewChain(filters ...Filter) *Chain {
	c := &Chain{}
	for _, f := range filters {
		if f != nil {
			c.filters = append(c.filters, f)
		}
	}
	return c
}

// Evaluate returns the verdict for pkt. A rejected packet never reaches a
// later filter.
func (c *Chain) Evaluate(pkt *model.Packet) model.Outcome {
	for _, f := range c.filters {
		if !f.Permit(pkt) {
			return model.Outcome{Stage: f.Stage()}
		}
	}
	return model.Outcome{Accepted: true}
}

// Filters returns the stages in evaluation order.
func (c *Chain) Filters() []Filter {
	return c.filters
}

// Report writes every filter's summary block in chain order.
func (c *Chain) Report(w io.Writer) {
	for _, f := range c.filters {
		f.Report(w)
	}
}

// NewEvent describes a rejected IPv4 packet. The payload preview starts at
// the transport header.
func NewEvent(stage model.Stage, pkt *model.Packet, f *protocol.Frame, reason string) *model.DropEvent {
	return &model.DropEvent{
		Timestamp: pkt.Timestamp,
		Interface: pkt.Interface,
		Stage:     stage,
		SrcIP:     f.Src.String(),
		DstIP:     f.Dst.String(),
		SrcPort:   f.SrcPort,
		DstPort:   f.DstPort,
		Protocol:  protocol.ProtoLabel(f.Protocol),
		Reason:    reason,
		Payload:   protocol.HexPreview(f.L4(), PreviewLen),
	}
}

// Notify forwards ev when a notifier is configured.
func Notify(n model.Notifier, ev *model.DropEvent) {
	if n != nil {
		n.Notify(ev)
	}
}
