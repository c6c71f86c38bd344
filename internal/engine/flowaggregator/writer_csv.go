package flowaggregator

import (
	"Go2NetGuard/internal/model"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/natefinch/atomic"
	log "github.com/sirupsen/logrus"
)

// CSVHeader is the fixed column order of the flow summary file.
var CSVHeader = []string{
	"src_ip", "dst_ip", "src_port", "dst_port", "protocol",
	"bytes_sent", "bytes_received", "pkts_sent", "pkts_received",
	"duration_sec", "avg_pkt_size", "pkt_rate",
	"syn_count", "ack_count", "fin_count", "rst_count", "psh_count",
	"syn_ack_ratio", "syn_fin_ratio",
	"min_pkt_size", "max_pkt_size",
	"total_packets", "total_bytes",
}

// CSVWriter implements the model.Writer interface by replacing a single CSV
// file with every batch.
type CSVWriter struct {
	path string
}

// NewCSVWriter creates a writer for the given path.
func NewCSVWriter(path string) *CSVWriter {
	return &CSVWriter{path: path}
}

// Name implements model.Writer.
func (w *CSVWriter) Name() string { return "csv" }

// Path returns the file the writer replaces.
func (w *CSVWriter) Path() string { return w.path }

// Write renders the batch and atomically swaps it in place of the previous
// file, so readers never observe a half-written batch.
func (w *CSVWriter) Write(batch *model.Batch) error {
	var buf bytes.Buffer
	if err := EncodeCSV(&buf, batch.Rows); err != nil {
		return fmt.Errorf("failed to encode flow csv: %w", err)
	}
	if err := atomic.WriteFile(w.path, &buf); err != nil {
		return fmt.Errorf("failed to write %s: %w", w.path, err)
	}
	log.WithFields(log.Fields{"path": w.path, "flows": len(batch.Rows), "batch": batch.Seq}).Debug("Wrote flow summary")
	return nil
}

// EncodeCSV writes the header followed by one record per row.
func EncodeCSV(out io.Writer, rows []model.FlowRow) error {
	cw := csv.NewWriter(out)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}
	for i := range rows {
		if err := cw.Write(record(&rows[i])); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func record(r *model.FlowRow) []string {
	u := func(v uint64) string { return strconv.FormatUint(v, 10) }
	return []string{
		r.SrcIP,
		r.DstIP,
		u(uint64(r.SrcPort)),
		u(uint64(r.DstPort)),
		r.Protocol,
		u(r.BytesSent),
		u(r.BytesReceived),
		u(r.PktsSent),
		u(r.PktsReceived),
		strconv.FormatFloat(r.DurationSec, 'f', 6, 64),
		strconv.FormatFloat(r.AvgPktSize, 'f', 2, 64),
		strconv.FormatFloat(r.PktRate, 'f', 2, 64),
		u(r.SynCount),
		u(r.AckCount),
		u(r.FinCount),
		u(r.RstCount),
		u(r.PshCount),
		strconv.FormatFloat(r.SynAckRatio, 'f', 3, 64),
		strconv.FormatFloat(r.SynFinRatio, 'f', 3, 64),
		u(r.MinPktSize),
		u(r.MaxPktSize),
		u(r.TotalPackets),
		u(r.TotalBytes),
	}
}

// WriteSummary prints the short per-flow console digest of a batch.
func WriteSummary(out io.Writer, batch *model.Batch, csvPath string) {
	fmt.Fprintf(out, "\n--- Batch Summary (batch %d, %d packets) ---\n", batch.Seq, batch.TotalPackets())
	fmt.Fprintf(out, "%d flows\n", len(batch.Rows))
	for _, r := range batch.Rows {
		fmt.Fprintf(out, "%s,%s,%d,%d,%s,pkts=%d,bytes=%d,rate=%.1f\n",
			r.SrcIP, r.DstIP, r.SrcPort, r.DstPort, r.Protocol, r.TotalPackets, r.TotalBytes, r.PktRate)
	}
	if csvPath != "" {
		fmt.Fprintf(out, "Wrote CSV to %s\n", csvPath)
	}
}
