package chunk

import (
	"sync/atomic"
	"time"
)

// Statistics tracks chunk transfer metrics for both roles
type Statistics struct {
	// Fragment counts
	TxFragments uint64
	RxFragments uint64

	// Transfer counts
	TxTransfers uint64
	RxTransfers uint64

	// Error counts
	SendErrors          uint64
	MalformedFragments  uint64
	DuplicateFragments  uint64
	Mismatches          uint64
	TimeoutErrors       uint64
	Evictions           uint64
	BufferOverflows     uint64
	IncompleteTransfers uint64

	// Timing (stored as Unix nano for atomic operations)
	lastTxTimeNano int64
	lastRxTimeNano int64
}

// Snapshot is a point-in-time copy of Statistics
type Snapshot struct {
	TxFragments         uint64    `json:"tx_fragments"`
	RxFragments         uint64    `json:"rx_fragments"`
	TxTransfers         uint64    `json:"tx_transfers"`
	RxTransfers         uint64    `json:"rx_transfers"`
	SendErrors          uint64    `json:"send_errors"`
	MalformedFragments  uint64    `json:"malformed_fragments"`
	DuplicateFragments  uint64    `json:"duplicate_fragments"`
	Mismatches          uint64    `json:"mismatches"`
	TimeoutErrors       uint64    `json:"timeout_errors"`
	Evictions           uint64    `json:"evictions"`
	BufferOverflows     uint64    `json:"buffer_overflows"`
	IncompleteTransfers uint64    `json:"incomplete_transfers"`
	LastTx              time.Time `json:"last_tx"`
	LastRx              time.Time `json:"last_rx"`
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	return &Statistics{}
}

// IncrementTxFragments increments transmitted fragment count
func (s *Statistics) IncrementTxFragments() {
	atomic.AddUint64(&s.TxFragments, 1)
}

// IncrementRxFragments increments received fragment count
func (s *Statistics) IncrementRxFragments() {
	atomic.AddUint64(&s.RxFragments, 1)
}

// IncrementTxTransfers increments started outbound transfers
func (s *Statistics) IncrementTxTransfers() {
	atomic.AddUint64(&s.TxTransfers, 1)
	atomic.StoreInt64(&s.lastTxTimeNano, time.Now().UnixNano())
}

// IncrementRxTransfers increments completed inbound transfers
func (s *Statistics) IncrementRxTransfers() {
	atomic.AddUint64(&s.RxTransfers, 1)
	atomic.StoreInt64(&s.lastRxTimeNano, time.Now().UnixNano())
}

// IncrementSendErrors increments failed fragment sends
func (s *Statistics) IncrementSendErrors() {
	atomic.AddUint64(&s.SendErrors, 1)
}

// IncrementMalformed increments rejected fragments
func (s *Statistics) IncrementMalformed() {
	atomic.AddUint64(&s.MalformedFragments, 1)
}

// IncrementDuplicates increments fragments that overwrote a filled slot
func (s *Statistics) IncrementDuplicates() {
	atomic.AddUint64(&s.DuplicateFragments, 1)
}

// IncrementMismatches increments fragments rejected for total or origin mismatch
func (s *Statistics) IncrementMismatches() {
	atomic.AddUint64(&s.Mismatches, 1)
}

// IncrementTimeoutErrors increments expired transfers
func (s *Statistics) IncrementTimeoutErrors() {
	atomic.AddUint64(&s.TimeoutErrors, 1)
}

// IncrementEvictions increments transfers evicted at capacity
func (s *Statistics) IncrementEvictions() {
	atomic.AddUint64(&s.Evictions, 1)
}

// IncrementBufferOverflows increments buffer overflow count
func (s *Statistics) IncrementBufferOverflows() {
	atomic.AddUint64(&s.BufferOverflows, 1)
}

// IncrementIncomplete increments transfers dropped by CompleteOnFinal
func (s *Statistics) IncrementIncomplete() {
	atomic.AddUint64(&s.IncompleteTransfers, 1)
}

// GetTxFragments returns transmitted fragment count
func (s *Statistics) GetTxFragments() uint64 {
	return atomic.LoadUint64(&s.TxFragments)
}

// GetRxFragments returns received fragment count
func (s *Statistics) GetRxFragments() uint64 {
	return atomic.LoadUint64(&s.RxFragments)
}

// GetTxTransfers returns started outbound transfers
func (s *Statistics) GetTxTransfers() uint64 {
	return atomic.LoadUint64(&s.TxTransfers)
}

// GetRxTransfers returns completed inbound transfers
func (s *Statistics) GetRxTransfers() uint64 {
	return atomic.LoadUint64(&s.RxTransfers)
}

// GetTimeoutErrors returns expired transfer count
func (s *Statistics) GetTimeoutErrors() uint64 {
	return atomic.LoadUint64(&s.TimeoutErrors)
}

// GetEvictions returns evicted transfer count
func (s *Statistics) GetEvictions() uint64 {
	return atomic.LoadUint64(&s.Evictions)
}

// GetMalformed returns rejected fragment count
func (s *Statistics) GetMalformed() uint64 {
	return atomic.LoadUint64(&s.MalformedFragments)
}

// GetDuplicates returns duplicate fragment count
func (s *Statistics) GetDuplicates() uint64 {
	return atomic.LoadUint64(&s.DuplicateFragments)
}

// GetSendErrors returns failed fragment sends
func (s *Statistics) GetSendErrors() uint64 {
	return atomic.LoadUint64(&s.SendErrors)
}

// Snapshot returns a copy of all counters
func (s *Statistics) Snapshot() Snapshot {
	return Snapshot{
		TxFragments:         atomic.LoadUint64(&s.TxFragments),
		RxFragments:         atomic.LoadUint64(&s.RxFragments),
		TxTransfers:         atomic.LoadUint64(&s.TxTransfers),
		RxTransfers:         atomic.LoadUint64(&s.RxTransfers),
		SendErrors:          atomic.LoadUint64(&s.SendErrors),
		MalformedFragments:  atomic.LoadUint64(&s.MalformedFragments),
		DuplicateFragments:  atomic.LoadUint64(&s.DuplicateFragments),
		Mismatches:          atomic.LoadUint64(&s.Mismatches),
		TimeoutErrors:       atomic.LoadUint64(&s.TimeoutErrors),
		Evictions:           atomic.LoadUint64(&s.Evictions),
		BufferOverflows:     atomic.LoadUint64(&s.BufferOverflows),
		IncompleteTransfers: atomic.LoadUint64(&s.IncompleteTransfers),
		LastTx:              unixNano(atomic.LoadInt64(&s.lastTxTimeNano)),
		LastRx:              unixNano(atomic.LoadInt64(&s.lastRxTimeNano)),
	}
}

func unixNano(nano int64) time.Time {
	if nano == 0 {
		return time.Time{}
	}
	return time.Unix(0, nano)
}

// Reset resets all statistics to zero
func (s *Statistics) Reset() {
	for _, p := range []*uint64{
		&s.TxFragments, &s.RxFragments, &s.TxTransfers, &s.RxTransfers,
		&s.SendErrors, &s.MalformedFragments, &s.DuplicateFragments, &s.Mismatches,
		&s.TimeoutErrors, &s.Evictions, &s.BufferOverflows, &s.IncompleteTransfers,
	} {
		atomic.StoreUint64(p, 0)
	}
	atomic.StoreInt64(&s.lastTxTimeNano, 0)
	atomic.StoreInt64(&s.lastRxTimeNano, 0)
}
