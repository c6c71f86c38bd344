package malformed

import (
	"Go2NetGuard/internal/engine/protocol"
	"Go2NetGuard/internal/model"
	"fmt"
	"os"
	"sync"
)

// LogHeader is the first line of a new malformed log.
const LogHeader = "timestamp,caplen,payload_preview\n"

// LogPreviewLen is the number of captured bytes kept per logged packet.
const LogPreviewLen = 32

// Log appends one CSV line per rejected packet. Appends are serialised and
// each line is synced to disk before Append returns, so earlier lines
// survive a crash mid-write.
type Log struct {
	path string
	mu   sync.Mutex
}

// OpenLog prepares the log at path, writing the header if the file is new
// or empty.
func OpenLog(path string) (*Log, error) {
	l := &Log{path: path}
	fh, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open malformed log: %w", err)
	}
	defer fh.Close()
	info, err := fh.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat malformed log: %w", err)
	}
	if info.Size() == 0 {
		if _, err := fh.WriteString(LogHeader); err != nil {
			return nil, fmt.Errorf("failed to write malformed log header: %w", err)
		}
		if err := fh.Sync(); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// Path returns the log location.
func (l *Log) Path() string { return l.path }

// Append writes the line for pkt.
func (l *Log) Append(pkt *model.Packet) error {
	line := FormatLine(pkt)

	l.mu.Lock()
	defer l.mu.Unlock()

	fh, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	if _, err := fh.WriteString(line); err != nil {
		fh.Close()
		return err
	}
	if err := fh.Sync(); err != nil {
		fh.Close()
		return err
	}
	return fh.Close()
}

// FormatLine renders one log line, timestamp in UTC with microseconds.
func FormatLine(pkt *model.Packet) string {
	ts := pkt.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")
	return fmt.Sprintf("%s,%d,\"%s\"\n", ts, pkt.CaptureLength, protocol.HexPreview(pkt.Captured(), LogPreviewLen))
}
