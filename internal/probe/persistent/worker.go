// Package persistent writes rejected packets to a pcap file off the capture
// path.
package persistent

import (
	"Go2NetGuard/internal/model"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	log "github.com/sirupsen/logrus"
)

const defaultBufferSize = 4096

// Worker owns the dump file and a single writer goroutine; pcap records
// must be written in order.
type Worker struct {
	file       *os.File
	writer     *pcapgo.Writer
	packetChan chan *model.Packet
	wg         sync.WaitGroup
	stopOnce   sync.Once

	written atomic.Uint64
	dropped atomic.Uint64
}

// NewWorker creates the dump file at path and starts the writer. Frames are
// Ethernet-framed by the capture layer, so the file uses that link type.
func NewWorker(path string, snapLen uint32) (*Worker, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create dump directory: %w", err)
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create dump file: %w", err)
	}
	writer := pcapgo.NewWriter(file)
	if err := writer.WriteFileHeader(snapLen, layers.LinkTypeEthernet); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to write pcap file header: %w", err)
	}

	w := &Worker{
		file:       file,
		writer:     writer,
		packetChan: make(chan *model.Packet, defaultBufferSize),
	}
	w.wg.Add(1)
	go w.run()
	log.WithField("path", path).Info("Rejected-packet dump started")
	return w, nil
}

func (w *Worker) run() {
	defer w.wg.Done()
	for pkt := range w.packetChan {
		ci := gopacket.CaptureInfo{
			Timestamp:     pkt.Timestamp,
			CaptureLength: len(pkt.Data),
			Length:        pkt.FrameLength(),
		}
		if err := w.writer.WritePacket(ci, pkt.Data); err != nil {
			log.WithError(err).Warn("Failed to write packet to dump")
			continue
		}
		w.written.Add(1)
	}
}

// Enqueue hands a packet to the writer without blocking; when the buffer is
// full the packet is skipped.
func (w *Worker) Enqueue(pkt *model.Packet) {
	select {
	case w.packetChan <- pkt:
	default:
		if w.dropped.Add(1) == 1 {
			log.Warn("Dump buffer is full, skipping packets")
		}
	}
}

// Stop flushes queued packets and closes the file. Enqueue must not be
// called afterwards.
func (w *Worker) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.packetChan)
		w.wg.Wait()
		err = w.file.Close()
		log.WithFields(log.Fields{"written": w.written.Load(), "skipped": w.dropped.Load()}).Info("Rejected-packet dump closed")
	})
	return err
}

// Written returns the number of packets in the file.
func (w *Worker) Written() uint64 {
	return w.written.Load()
}
