// Package pcap replays capture files through the capture dispatcher.
package pcap

import (
	"Go2NetGuard/internal/capture"
	"Go2NetGuard/internal/netif"
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
)

// Reader reads packets from a pcap file. It satisfies capture.Source and
// reports io.EOF after the last record.
type Reader struct {
	handle *pcap.Handle
}

// NewReader creates a new pcap reader for the given file path.
func NewReader(filePath string) (*Reader, error) {
	handle, err := pcap.OpenOffline(filePath)
	if err != nil {
		return nil, fmt.Errorf("error opening capture file %s: %w", filePath, err)
	}
	return &Reader{handle: handle}, nil
}

// ReadPacketData returns the next record.
func (r *Reader) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	return r.handle.ReadPacketData()
}

// LinkType returns the file's link type.
func (r *Reader) LinkType() layers.LinkType {
	return r.handle.LinkType()
}

// SetBPFFilter restricts the replay to matching records.
func (r *Reader) SetBPFFilter(expr string) error {
	return r.handle.SetBPFFilter(expr)
}

// Close closes the pcap handle.
func (r *Reader) Close() {
	r.handle.Close()
}

// Opener returns a capture.Opener that replays filePath whatever interface
// it is asked for. The dispatcher should be given a single interface.
func Opener(filePath string) capture.Opener {
	return func(netif.Interface) (capture.Source, error) {
		return NewReader(filePath)
	}
}
