package flowaggregator

import (
	"Go2NetGuard/internal/config"
	"Go2NetGuard/internal/model"
	"context"
	"fmt"
	"regexp"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	log "github.com/sirupsen/logrus"
)

const createTableStatement = `
CREATE TABLE IF NOT EXISTS %s (
    RunID         String,
    BatchSeq      UInt32,
    Timestamp     DateTime64(6),
    SrcIP         String,
    DstIP         String,
    SrcPort       UInt16,
    DstPort       UInt16,
    Protocol      LowCardinality(String),
    BytesSent     UInt64,
    BytesReceived UInt64,
    PktsSent      UInt64,
    PktsReceived  UInt64,
    DurationSec   Float64,
    AvgPktSize    Float64,
    PktRate       Float64,
    SynCount      UInt64,
    AckCount      UInt64,
    FinCount      UInt64,
    RstCount      UInt64,
    PshCount      UInt64,
    SynAckRatio   Float64,
    SynFinRatio   Float64,
    MinPktSize    UInt64,
    MaxPktSize    UInt64,
    FirstSeen     DateTime64(6),
    LastSeen      DateTime64(6)
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(Timestamp)
ORDER BY (RunID, BatchSeq, Timestamp);
`

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ClickHouseWriter implements the model.Writer interface for ClickHouse.
type ClickHouseWriter struct {
	conn  driver.Conn
	table string
}

// NewClickHouseWriter connects, pings and makes sure the flow table exists.
func NewClickHouseWriter(cfg config.ClickHouseConfig) (*ClickHouseWriter, error) {
	if !tableName.MatchString(cfg.Table) {
		return nil, fmt.Errorf("invalid clickhouse table name %q", cfg.Table)
	}
	conn, err := connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}
	return ensureTable(conn, cfg.Table)
}

// ensureTable creates the flow table on conn, closing conn if that fails.
func ensureTable(conn driver.Conn, table string) (*ClickHouseWriter, error) {
	if err := conn.Exec(context.Background(), fmt.Sprintf(createTableStatement, table)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	log.WithField("table", table).Info("Connected to ClickHouse and ensured table exists")

	return &ClickHouseWriter{conn: conn, table: table}, nil
}

func connect(cfg config.ClickHouseConfig) (driver.Conn, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(context.Background()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	return conn, nil
}

// Name implements model.Writer.
func (w *ClickHouseWriter) Name() string { return "clickhouse" }

// Write inserts every row of the batch in a single ClickHouse batch.
func (w *ClickHouseWriter) Write(b *model.Batch) error {
	if len(b.Rows) == 0 {
		return nil
	}

	batch, err := w.conn.PrepareBatch(context.Background(), "INSERT INTO "+w.table)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, r := range b.Rows {
		err = batch.Append(
			b.RunID,
			uint32(b.Seq),
			b.Timestamp,
			r.SrcIP,
			r.DstIP,
			r.SrcPort,
			r.DstPort,
			r.Protocol,
			r.BytesSent,
			r.BytesReceived,
			r.PktsSent,
			r.PktsReceived,
			r.DurationSec,
			r.AvgPktSize,
			r.PktRate,
			r.SynCount,
			r.AckCount,
			r.FinCount,
			r.RstCount,
			r.PshCount,
			r.SynAckRatio,
			r.SynFinRatio,
			r.MinPktSize,
			r.MaxPktSize,
			r.FirstSeen,
			r.LastSeen,
		)
		if err != nil {
			return fmt.Errorf("failed to append flow to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	log.WithFields(log.Fields{"flows": len(b.Rows), "batch": b.Seq}).Info("Wrote flows to ClickHouse")
	return nil
}

// Close releases the connection.
func (w *ClickHouseWriter) Close() error {
	return w.conn.Close()
}
