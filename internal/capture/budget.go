package capture

import "sync/atomic"

// Budget is the process-wide processed-packet counter. A slot is claimed
// before a packet is handled, so the handled count never exceeds the limit.
type Budget struct {
	limit int64
	count atomic.Int64
}

// NewBudget creates a budget; a limit <= 0 never runs out.
func NewBudget(limit int64) *Budget {
	return &Budget{limit: limit}
}

// Claim reserves one packet slot. claimed is false once the budget is
// spent; last is true for the packet that spends it.
func (b *Budget) Claim() (claimed, last bool) {
	if b.limit <= 0 {
		b.count.Add(1)
		return true, false
	}
	for {
		n := b.count.Load()
		if n >= b.limit {
			return false, false
		}
		if b.count.CompareAndSwap(n, n+1) {
			return true, n+1 == b.limit
		}
	}
}

// Count returns the number of claimed slots.
func (b *Budget) Count() int64 {
	return b.count.Load()
}

// Limit returns the configured limit.
func (b *Budget) Limit() int64 {
	return b.limit
}
