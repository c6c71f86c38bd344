// Package flowaggregator keeps bidirectional per-flow statistics for every
// captured packet and turns them into batches of FlowRow.
package flowaggregator

import (
	"Go2NetGuard/internal/config"
	"Go2NetGuard/internal/engine/protocol"
	"Go2NetGuard/internal/model"
	"hash/fnv"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultShardCount = 64
	defaultMaxFlows   = 1024

	// ratioSentinel stands for "numerator positive, denominator zero".
	ratioSentinel = 999.0
	minDuration   = 1e-6
)

// flow is the mutable record behind one FlowRow. tuple holds the direction
// of the first packet seen, which is the "sent" direction.
type flow struct {
	seq   uint64
	tuple model.FiveTuple

	bytesSent, bytesReceived uint64
	pktsSent, pktsReceived   uint64

	syn, ack, fin, rst, psh uint64

	minSize, maxSize, totalSize uint64
	firstSeen, lastSeen         time.Time
}

// Shard is a part of the sharded flow table, containing its own map and a mutex.
type Shard struct {
	flows map[model.FiveTuple]*flow
	mu    sync.Mutex
}

// Aggregator is a bounded flow table sharded by the hash of the unordered
// endpoint pair, so a flow and its reverse always land in the same shard.
type Aggregator struct {
	shards     []*Shard
	shardCount uint32
	maxFlows   int64

	size     atomic.Int64
	overflow atomic.Uint64
	seq      atomic.Uint64
}

// New creates an empty flow table.
func New(cfg config.AggregatorConfig) *Aggregator {
	numShards := cfg.NumShards
	if numShards == 0 || numShards >= 32768 {
		numShards = defaultShardCount
	}
	maxFlows := int64(cfg.MaxFlows)
	if maxFlows <= 0 {
		maxFlows = defaultMaxFlows
	}
	agg := &Aggregator{
		shards:     make([]*Shard, numShards),
		shardCount: numShards,
		maxFlows:   maxFlows,
	}
	for i := range agg.shards {
		agg.shards[i] = &Shard{flows: make(map[model.FiveTuple]*flow)}
	}
	return agg
}

// canonical orders the two endpoints so that a tuple and its reverse map to
// the same key.
func canonical(ft model.FiveTuple) model.FiveTuple {
	if c := ft.SrcIP.Compare(ft.DstIP); c > 0 || (c == 0 && ft.SrcPort > ft.DstPort) {
		return ft.Reverse()
	}
	return ft
}

// getShard returns the appropriate shard for a given canonical key.
func (a *Aggregator) getShard(key model.FiveTuple) *Shard {
	hasher := fnv.New32a()
	lo, hi := key.SrcIP.As4(), key.DstIP.As4()
	hasher.Write(lo[:])
	hasher.Write(hi[:])
	hasher.Write([]byte{
		byte(key.SrcPort >> 8), byte(key.SrcPort),
		byte(key.DstPort >> 8), byte(key.DstPort),
		key.Protocol,
	})
	return a.shards[hasher.Sum32()%a.shardCount]
}

// Record accounts one captured packet. Frames that are not IPv4 or whose IP
// header was not fully captured are ignored. Record never fails: when the
// table is full a new flow is counted in Overflow and otherwise dropped.
func (a *Aggregator) Record(pkt *model.Packet) {
	f, err := protocol.Decode(pkt.Data)
	if err != nil {
		return
	}
	ft := f.Tuple()
	key := canonical(ft)
	size := uint64(pkt.Length)

	shard := a.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	fl, ok := shard.flows[key]
	if !ok {
		if a.size.Add(1) > a.maxFlows {
			a.size.Add(-1)
			a.overflow.Add(1)
			return
		}
		fl = &flow{
			seq:       a.seq.Add(1),
			tuple:     ft,
			minSize:   size,
			firstSeen: pkt.Timestamp,
			lastSeen:  pkt.Timestamp,
		}
		shard.flows[key] = fl
	}

	// A tuple that equals its own reverse has no observable direction; its
	// packets are split evenly, the first one counting as sent.
	sent := ft == fl.tuple
	if ft.Symmetric() {
		sent = fl.pktsSent <= fl.pktsReceived
	}
	if sent {
		fl.pktsSent++
		fl.bytesSent += size
	} else {
		fl.pktsReceived++
		fl.bytesReceived += size
	}

	if size < fl.minSize {
		fl.minSize = size
	}
	if size > fl.maxSize {
		fl.maxSize = size
	}
	fl.totalSize += size
	if pkt.Timestamp.Before(fl.firstSeen) {
		fl.firstSeen = pkt.Timestamp
	}
	if pkt.Timestamp.After(fl.lastSeen) {
		fl.lastSeen = pkt.Timestamp
	}

	if f.IsTCP() {
		if f.HasFlags(protocol.TCPFlagSYN) {
			fl.syn++
		}
		if f.HasFlags(protocol.TCPFlagACK) {
			fl.ack++
		}
		if f.HasFlags(protocol.TCPFlagFIN) {
			fl.fin++
		}
		if f.HasFlags(protocol.TCPFlagRST) {
			fl.rst++
		}
		if f.HasFlags(protocol.TCPFlagPSH) {
			fl.psh++
		}
	}
}

// Finalize returns one row per flow in creation order and clears the table.
func (a *Aggregator) Finalize() []model.FlowRow {
	drained := make([][]*flow, a.shardCount)
	var wg sync.WaitGroup
	wg.Add(int(a.shardCount))
	for i := 0; i < int(a.shardCount); i++ {
		go func(i int) {
			defer wg.Done()
			shard := a.shards[i]
			shard.mu.Lock()
			flows := make([]*flow, 0, len(shard.flows))
			for _, fl := range shard.flows {
				flows = append(flows, fl)
			}
			shard.flows = make(map[model.FiveTuple]*flow)
			a.size.Add(-int64(len(flows)))
			shard.mu.Unlock()
			drained[i] = flows
		}(i)
	}
	wg.Wait()

	var all []*flow
	for _, flows := range drained {
		all = append(all, flows...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].seq < all[j].seq })

	rows := make([]model.FlowRow, len(all))
	for i, fl := range all {
		rows[i] = fl.row()
	}
	return rows
}

func (fl *flow) row() model.FlowRow {
	duration := fl.lastSeen.Sub(fl.firstSeen).Seconds()
	if duration < minDuration {
		duration = minDuration
	}
	total := fl.pktsSent + fl.pktsReceived
	var avg float64
	if total > 0 {
		avg = float64(fl.totalSize) / float64(total)
	}
	return model.FlowRow{
		SrcIP:         fl.tuple.SrcIP.String(),
		DstIP:         fl.tuple.DstIP.String(),
		SrcPort:       fl.tuple.SrcPort,
		DstPort:       fl.tuple.DstPort,
		Protocol:      protocol.ProtoLabel(fl.tuple.Protocol),
		BytesSent:     fl.bytesSent,
		BytesReceived: fl.bytesReceived,
		PktsSent:      fl.pktsSent,
		PktsReceived:  fl.pktsReceived,
		DurationSec:   duration,
		AvgPktSize:    avg,
		PktRate:       float64(total) / duration,
		SynCount:      fl.syn,
		AckCount:      fl.ack,
		FinCount:      fl.fin,
		RstCount:      fl.rst,
		PshCount:      fl.psh,
		SynAckRatio:   ratio(fl.syn, fl.ack),
		SynFinRatio:   ratio(fl.syn, fl.fin),
		MinPktSize:    fl.minSize,
		MaxPktSize:    fl.maxSize,
		TotalPackets:  total,
		TotalBytes:    fl.bytesSent + fl.bytesReceived,
		FirstSeen:     fl.firstSeen,
		LastSeen:      fl.lastSeen,
	}
}

func ratio(num, den uint64) float64 {
	switch {
	case den > 0:
		return float64(num) / float64(den)
	case num > 0:
		return ratioSentinel
	default:
		return 0
	}
}

// FlowCount returns the number of flows currently tracked.
func (a *Aggregator) FlowCount() int {
	return int(a.size.Load())
}

// Overflow returns how many packets opened a flow that did not fit in the
// table since the aggregator was created.
func (a *Aggregator) Overflow() uint64 {
	return a.overflow.Load()
}

// Get returns the current row for the flow identified by ft in either
// direction.
// Note: This is for testing/metrics purposes.
func (a *Aggregator) Get(ft model.FiveTuple) (model.FlowRow, bool) {
	key := canonical(ft)
	shard := a.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	if fl, ok := shard.flows[key]; ok {
		return fl.row(), true
	}
	return model.FlowRow{}, false
}
