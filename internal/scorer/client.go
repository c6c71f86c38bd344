// Package scorer hands finalized flow batches to the external risk-scoring
// service over gRPC.
package scorer

import (
	"Go2NetGuard/internal/config"
	"Go2NetGuard/internal/model"
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// ScoreBatchMethod is the full gRPC method name of the scoring call. Request
// and response are both google.protobuf.Struct messages.
const ScoreBatchMethod = "/gons.scorer.v1.Scorer/ScoreBatch"

// ErrNoAddr is returned when the scorer is enabled without an address.
var ErrNoAddr = errors.New("scorer address is empty")

// Result is the scorer's verdict for one batch.
type Result struct {
	// Flagged holds the indexes of rows the scorer considers risky.
	Flagged []int
}

// Client is a batch writer that forwards every batch to the scorer.
type Client struct {
	conn    *grpc.ClientConn
	timeout time.Duration
}

// NewClient creates a scorer client. The connection is established lazily
// on the first call.
func NewClient(cfg config.ScorerConfig) (*Client, error) {
	if cfg.Addr == "" {
		return nil, ErrNoAddr
	}
	conn, err := grpc.NewClient(cfg.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to scorer: %w", err)
	}
	return &Client{conn: conn, timeout: cfg.RequestTimeout()}, nil
}

// Name implements model.Writer.
func (c *Client) Name() string { return "scorer" }

// Write implements model.Writer.
func (c *Client) Write(b *model.Batch) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	res, err := c.Score(ctx, b)
	if err != nil {
		return err
	}
	if len(res.Flagged) > 0 {
		log.WithFields(log.Fields{"batch": b.Seq, "flagged": len(res.Flagged)}).Info("Scorer flagged flows")
	}
	return nil
}

// Score sends one batch and returns the scorer's verdict.
func (c *Client) Score(ctx context.Context, b *model.Batch) (*Result, error) {
	req, err := BatchToStruct(b)
	if err != nil {
		return nil, err
	}
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, ScoreBatchMethod, req, resp); err != nil {
		return nil, fmt.Errorf("score batch %d: %w", b.Seq, err)
	}
	return resultFromStruct(resp), nil
}

// Close releases the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// BatchToStruct renders a batch in the scorer's request shape, one object
// per flow keyed by the CSV column names.
func BatchToStruct(b *model.Batch) (*structpb.Struct, error) {
	flows := make([]interface{}, 0, len(b.Rows))
	for i := range b.Rows {
		r := &b.Rows[i]
		flows = append(flows, map[string]interface{}{
			"src_ip":         r.SrcIP,
			"dst_ip":         r.DstIP,
			"src_port":       int64(r.SrcPort),
			"dst_port":       int64(r.DstPort),
			"protocol":       r.Protocol,
			"bytes_sent":     r.BytesSent,
			"bytes_received": r.BytesReceived,
			"pkts_sent":      r.PktsSent,
			"pkts_received":  r.PktsReceived,
			"duration_sec":   r.DurationSec,
			"avg_pkt_size":   r.AvgPktSize,
			"pkt_rate":       r.PktRate,
			"syn_count":      r.SynCount,
			"ack_count":      r.AckCount,
			"fin_count":      r.FinCount,
			"rst_count":      r.RstCount,
			"psh_count":      r.PshCount,
			"syn_ack_ratio":  r.SynAckRatio,
			"syn_fin_ratio":  r.SynFinRatio,
			"min_pkt_size":   r.MinPktSize,
			"max_pkt_size":   r.MaxPktSize,
			"total_packets":  r.TotalPackets,
			"total_bytes":    r.TotalBytes,
		})
	}
	s, err := structpb.NewStruct(map[string]interface{}{
		"run_id":    b.RunID,
		"seq":       int64(b.Seq),
		"timestamp": b.Timestamp.UTC().Format(time.RFC3339Nano),
		"flows":     flows,
	})
	if err != nil {
		return nil, fmt.Errorf("encode batch %d: %w", b.Seq, err)
	}
	return s, nil
}

func resultFromStruct(s *structpb.Struct) *Result {
	res := &Result{}
	for _, v := range s.GetFields()["flagged"].GetListValue().GetValues() {
		res.Flagged = append(res.Flagged, int(v.GetNumberValue()))
	}
	return res
}
