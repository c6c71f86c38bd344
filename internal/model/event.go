package model

import "time"

// Stage names the filter that produced a verdict.
type Stage string

const (
	StageDenylist  Stage = "DENYLIST"
	StageRateLimit Stage = "RATE-LIMIT"
	StageMalformed Stage = "MALFORMED"
)

// Marker returns the console marker printed in front of a drop line.
func (s Stage) Marker() string {
	switch s {
	case StageDenylist:
		return "🚫"
	case StageRateLimit:
		return "⚡"
	case StageMalformed:
		return "❌"
	default:
		return "•"
	}
}

// Drop reasons.
const (
	ReasonDenyIP   = "deny_ip"
	ReasonDenyPort = "deny_port"
	ReasonSYNFlood = "SYN_FLOOD"

	ReasonTooShort       = "too_short"
	ReasonTruncatedIPHdr = "truncated_ip_hdr"
	ReasonInvalidIHL     = "invalid_ihl"
	ReasonTruncatedTotal = "truncated_total"
	ReasonBadChecksum    = "bad_checksum"
	ReasonFragAnomaly    = "frag_anomaly"
	ReasonTCPTruncated   = "tcp_truncated"
	ReasonTCPOffInvalid  = "tcp_off_invalid"
	ReasonSYNFIN         = "syn_fin"
	ReasonTCPCksumBad    = "tcp_cksum_bad"
	ReasonUDPTruncated   = "udp_truncated"
	ReasonUDPLenInvalid  = "udp_len_invalid"
)

// DropEvent is the structured record of one filter rejection.
type DropEvent struct {
	RunID     string
	Timestamp time.Time
	Interface string
	Stage     Stage
	SrcIP     string
	DstIP     string
	SrcPort   uint16
	DstPort   uint16
	Protocol  string
	Reason    string
	// Payload is a space-separated hex preview of the rejected bytes.
	Payload string

	// Token state, only meaningful for rate-limit drops.
	Tokens    float64
	MaxTokens float64
}

// Outcome is the verdict of the filter chain for one packet.
type Outcome struct {
	Accepted bool
	// Stage is the rejecting filter, empty when accepted.
	Stage Stage
}
