package protocol

import (
	"encoding/binary"

	"github.com/google/gopacket/layers"
)

const (
	nullHeaderLen     = 4
	linuxSLLHeaderLen = 16

	etherTypeIPv6 uint16 = 0x86dd
	bsdAFInet            = 2
)

// SupportedLinkType reports whether frames of the given link type can be
// normalised to Ethernet framing.
func SupportedLinkType(lt layers.LinkType) bool {
	switch lt {
	case layers.LinkTypeEthernet, layers.LinkTypeRaw, layers.LinkTypeIPv4,
		layers.LinkTypeNull, layers.LinkTypeLoop, layers.LinkTypeLinuxSLL:
		return true
	default:
		return false
	}
}

// Normalize rewrites a captured frame so that it starts with a 14-byte
// Ethernet header carrying the right ethertype. Ethernet frames are returned
// untouched. Frames shorter than their own link header are returned as-is
// and left for the validator to judge.
func Normalize(lt layers.LinkType, data []byte) ([]byte, bool) {
	switch lt {
	case layers.LinkTypeEthernet:
		return data, true
	case layers.LinkTypeRaw, layers.LinkTypeIPv4:
		return withEthernet(etherTypeFromVersion(data), data), true
	case layers.LinkTypeNull, layers.LinkTypeLoop:
		if len(data) < nullHeaderLen {
			return data, true
		}
		payload := data[nullHeaderLen:]
		// The family word is host order for NULL and network order for LOOP;
		// AF_INET is small enough to show up in either first or last byte.
		if data[0] == bsdAFInet || data[3] == bsdAFInet {
			return withEthernet(EtherTypeIPv4, payload), true
		}
		return withEthernet(etherTypeFromVersion(payload), payload), true
	case layers.LinkTypeLinuxSLL:
		if len(data) < linuxSLLHeaderLen {
			return data, true
		}
		et := binary.BigEndian.Uint16(data[14:16])
		return withEthernet(et, data[linuxSLLHeaderLen:]), true
	default:
		return nil, false
	}
}

func etherTypeFromVersion(ip []byte) uint16 {
	if len(ip) > 0 && ip[0]>>4 == 6 {
		return etherTypeIPv6
	}
	return EtherTypeIPv4
}

func withEthernet(et uint16, payload []byte) []byte {
	out := make([]byte, EthernetHeaderLen+len(payload))
	binary.BigEndian.PutUint16(out[12:14], et)
	copy(out[EthernetHeaderLen:], payload)
	return out
}
