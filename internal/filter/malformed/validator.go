// Package malformed rejects packets whose Ethernet, IPv4, TCP or UDP headers
// are inconsistent, and keeps a durable log of every rejection.
package malformed

import (
	"Go2NetGuard/internal/config"
	"Go2NetGuard/internal/engine/protocol"
	"Go2NetGuard/internal/filter"
	"Go2NetGuard/internal/model"
	"encoding/binary"
	"fmt"
	"io"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

const notAvailable = "N/A"

// Labels used in place of the IP protocol when the failing layer is known.
const (
	labelEth = "ETH"
	labelIP  = "IP"
	labelTCP = "TCP"
	labelUDP = "UDP"
)

// Stats is a snapshot of the validator's counters.
type Stats struct {
	Checked   uint64            `json:"checked"`
	Malformed uint64            `json:"malformed"`
	ByReason  map[string]uint64 `json:"by_reason"`
	LogErrors uint64            `json:"log_errors"`
}

// Validator is the malformed-packet stage.
type Validator struct {
	verifyIP  bool
	verifyTCP bool
	notifier  model.Notifier
	log       *Log

	checked   atomic.Uint64
	malformed atomic.Uint64
	logErrors atomic.Uint64
	byReason  map[string]*atomic.Uint64
}

// Verdict is the outcome of Check.
type Verdict struct {
	Malformed bool
	Reason    string
	// Label names the layer that failed (ETH, IP, TCP, UDP).
	Label string
	Frame *protocol.Frame
	// Region is the part of the frame shown in the console preview.
	Region []byte
}

// New creates a validator. lg may be nil to skip the durable log.
func New(cfg config.MalformedConfig, lg *Log, notifier model.Notifier) *Validator {
	v := &Validator{
		verifyIP:  cfg.VerifyIPChecksum,
		verifyTCP: cfg.VerifyTCPChecksum,
		notifier:  notifier,
		log:       lg,
		byReason:  make(map[string]*atomic.Uint64),
	}
	for _, r := range []string{
		model.ReasonTooShort, model.ReasonTruncatedIPHdr, model.ReasonInvalidIHL,
		model.ReasonTruncatedTotal, model.ReasonBadChecksum, model.ReasonFragAnomaly,
		model.ReasonTCPTruncated, model.ReasonTCPOffInvalid, model.ReasonSYNFIN,
		model.ReasonTCPCksumBad, model.ReasonUDPTruncated, model.ReasonUDPLenInvalid,
	} {
		v.byReason[r] = &atomic.Uint64{}
	}
	return v
}

// Stage implements filter.Filter.
func (v *Validator) Stage() model.Stage { return model.StageMalformed }

// Permit rejects malformed packets, logging each one.
func (v *Validator) Permit(pkt *model.Packet) bool {
	v.checked.Add(1)
	verdict := v.Check(pkt.Data)
	if !verdict.Malformed {
		return true
	}

	v.malformed.Add(1)
	v.byReason[verdict.Reason].Add(1)
	filter.Notify(v.notifier, v.event(pkt, verdict))
	if v.log != nil {
		if err := v.log.Append(pkt); err != nil {
			v.logErrors.Add(1)
			log.WithError(err).Warn("Failed to append to malformed log")
		}
	}
	return false
}

// Check runs the header checks in order and reports the first failure.
// Non-IPv4 frames are never malformed.
func (v *Validator) Check(data []byte) Verdict {
	f, err := protocol.Decode(data)
	switch err {
	case nil:
	case protocol.ErrTooShort:
		return reject(model.ReasonTooShort, labelEth, f, data)
	case protocol.ErrNotIPv4:
		return Verdict{Frame: f}
	case protocol.ErrTruncatedIPHeader:
		return reject(model.ReasonTruncatedIPHdr, labelIP, f, f.IP)
	case protocol.ErrInvalidIHL:
		return reject(model.ReasonInvalidIHL, labelIP, f, f.IP)
	case protocol.ErrTruncatedIPOptions:
		return reject(model.ReasonTruncatedTotal, labelIP, f, f.IP)
	default:
		return reject(model.ReasonTooShort, labelEth, f, data)
	}

	if f.TotalLength < f.IHL {
		return reject(model.ReasonTruncatedTotal, labelIP, f, f.IP)
	}
	if v.verifyIP && protocol.VerifyIPv4Checksum(f.IP[:f.IHL]) == protocol.ChecksumInvalid {
		return reject(model.ReasonBadChecksum, labelIP, f, f.IP[:f.IHL])
	}
	if f.IsFragment() && len(f.L4()) == 0 {
		return reject(model.ReasonFragAnomaly, labelIP, f, f.IP)
	}
	// Later fragments carry no transport header to check.
	if f.FragOffset != 0 {
		return Verdict{Frame: f}
	}

	l4 := f.L4()
	switch f.Protocol {
	case model.ProtoTCP:
		if len(l4) < protocol.TCPMinHeaderLen {
			return reject(model.ReasonTCPTruncated, labelTCP, f, l4)
		}
		off := int(l4[12]>>4) * 4
		if off < protocol.TCPMinHeaderLen || off > len(l4) {
			return reject(model.ReasonTCPOffInvalid, labelTCP, f, l4)
		}
		if f.HasFlags(protocol.TCPFlagSYN | protocol.TCPFlagFIN) {
			return reject(model.ReasonSYNFIN, labelTCP, f, l4)
		}
		if v.verifyTCP && protocol.VerifyTCPChecksum(f) == protocol.ChecksumInvalid {
			return reject(model.ReasonTCPCksumBad, labelTCP, f, l4)
		}
	case model.ProtoUDP:
		if len(l4) < protocol.UDPHeaderLen {
			return reject(model.ReasonUDPTruncated, labelUDP, f, l4)
		}
		ulen := int(binary.BigEndian.Uint16(l4[4:6]))
		if ulen < protocol.UDPHeaderLen || ulen > len(l4) {
			return reject(model.ReasonUDPLenInvalid, labelUDP, f, l4)
		}
	}
	return Verdict{Frame: f}
}

func reject(reason, label string, f *protocol.Frame, region []byte) Verdict {
	return Verdict{Malformed: true, Reason: reason, Label: label, Frame: f, Region: region}
}

func (v *Validator) event(pkt *model.Packet, verdict Verdict) *model.DropEvent {
	ev := &model.DropEvent{
		Timestamp: pkt.Timestamp,
		Interface: pkt.Interface,
		Stage:     model.StageMalformed,
		SrcIP:     notAvailable,
		DstIP:     notAvailable,
		Protocol:  verdict.Label,
		Reason:    verdict.Reason,
		Payload:   protocol.HexPreview(verdict.Region, filter.PreviewLen),
	}
	if f := verdict.Frame; f != nil && f.Src.IsValid() {
		ev.SrcIP = f.Src.String()
		ev.DstIP = f.Dst.String()
		if verdict.Label == labelTCP || verdict.Label == labelUDP {
			ev.SrcPort, ev.DstPort = portsOf(verdict.Region)
		}
	}
	return ev
}

// portsOf reads the ports from a transport header that may be shorter than
// its fixed size.
func portsOf(l4 []byte) (uint16, uint16) {
	if len(l4) < 4 {
		return 0, 0
	}
	return binary.BigEndian.Uint16(l4[0:2]), binary.BigEndian.Uint16(l4[2:4])
}

// Stats returns the current counters.
func (v *Validator) Stats() Stats {
	s := Stats{
		Checked:   v.checked.Load(),
		Malformed: v.malformed.Load(),
		LogErrors: v.logErrors.Load(),
		ByReason:  make(map[string]uint64),
	}
	for r, c := range v.byReason {
		if n := c.Load(); n > 0 {
			s.ByReason[r] = n
		}
	}
	return s
}

// Report implements filter.Filter.
func (v *Validator) Report(w io.Writer) {
	s := v.Stats()
	fmt.Fprintf(w, "\n📊 [MALFORMED STATISTICS]\n")
	fmt.Fprintf(w, "   Allowed: %d packets\n", s.Checked-s.Malformed)
	fmt.Fprintf(w, "   Malformed packets detected: %d\n", s.Malformed)
	if v.log != nil {
		fmt.Fprintf(w, "   Logged to: %s\n", v.log.Path())
	}
}
