package capture

import (
	"Go2NetGuard/internal/config"
	"Go2NetGuard/internal/netif"
	"errors"
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
)

// ErrPollTimeout is returned by a Source when no packet arrived within its
// poll interval. The dispatcher uses it to look at the stop flag.
var ErrPollTimeout = errors.New("capture poll timeout")

// Source is an open capture handle.
type Source interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
	Close()
}

// BPFSetter is implemented by sources that accept a kernel filter.
type BPFSetter interface {
	SetBPFFilter(expr string) error
}

// Opener opens a Source for an interface.
type Opener func(iface netif.Interface) (Source, error)

// liveSource adapts a libpcap handle to Source.
type liveSource struct {
	*pcap.Handle
}

func (s liveSource) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	data, ci, err := s.Handle.ReadPacketData()
	if err == pcap.NextErrorTimeoutExpired {
		return nil, ci, ErrPollTimeout
	}
	return data, ci, err
}

// LiveOpener opens interfaces with libpcap using the capture settings. The
// read timeout bounds every receive so stop requests are seen promptly.
func LiveOpener(cfg config.CaptureConfig) Opener {
	return func(iface netif.Interface) (Source, error) {
		handle, err := pcap.OpenLive(iface.Name, cfg.SnapshotLen, cfg.Promiscuous, cfg.Timeout())
		if err != nil {
			return nil, fmt.Errorf("error opening device %s: %w", iface.Name, err)
		}
		return liveSource{handle}, nil
	}
}
