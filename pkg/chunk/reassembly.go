package chunk

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"avaneesh/shotxfer/pkg/internal/logger"
	"avaneesh/shotxfer/pkg/internal/queue"
	"avaneesh/shotxfer/pkg/types"
)

// Completion is a reassembled payload
type Completion struct {
	TransferID string             // Empty for whole single-message payloads
	Origin     types.PeerIdentity // Peer that sent the first fragment
	Payload    string
	Fragments  int
	Elapsed    time.Duration // First fragment to completion
}

// TransferInfo describes an in-flight transfer
type TransferInfo struct {
	TransferID string             `json:"id"`
	Origin     types.PeerIdentity `json:"origin"`
	Total      int                `json:"total"`
	Filled     int                `json:"filled"`
	Bytes      int                `json:"bytes"`
	Started    time.Time          `json:"started"`
	Updated    time.Time          `json:"updated"`
}

// transferBuffer accumulates the fragments of one transfer
type transferBuffer struct {
	id      string
	origin  types.PeerIdentity
	slots   []*string
	filled  int
	bytes   int
	started time.Time
	updated time.Time
	timer   *time.Timer
	lru     *queue.Item[*transferBuffer]
}

func (b *transferBuffer) info() TransferInfo {
	return TransferInfo{
		TransferID: b.id,
		Origin:     b.origin,
		Total:      len(b.slots),
		Filled:     b.filled,
		Bytes:      b.bytes,
		Started:    b.started,
		Updated:    b.updated,
	}
}

func (b *transferBuffer) join() string {
	var sb strings.Builder
	sb.Grow(b.bytes)
	for _, s := range b.slots {
		if s != nil {
			sb.WriteString(*s)
		}
	}
	return sb.String()
}

// Reassembler rebuilds payloads from fragments of many concurrent transfers.
// It is safe for concurrent use; storing a slice, checking completion and
// removing the buffer happen under one lock.
type Reassembler struct {
	config    Config
	transfers map[string]*transferBuffer
	lru       *queue.DeadlineQueue[*transferBuffer] // by last update
	stats     *Statistics
	logger    logger.Logger
	now       func() time.Time

	mu sync.Mutex
}

// NewReassembler creates a new reassembler. A nil stats gets a private tracker.
func NewReassembler(config Config, stats *Statistics, log logger.Logger) *Reassembler {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	if stats == nil {
		stats = NewStatistics()
	}

	return &Reassembler{
		config:    config,
		transfers: make(map[string]*transferBuffer),
		lru:       queue.New[*transferBuffer](),
		stats:     stats,
		logger:    log,
		now:       time.Now,
	}
}

// Whole wraps a payload that arrived without a transfer identifier
func (r *Reassembler) Whole(origin types.PeerIdentity, payload string) (*Completion, error) {
	return r.Process(origin, Fragment{Total: 1, Data: payload})
}

// Process stores a fragment and returns the payload when its transfer completes.
// Returns nil, nil while the transfer is still partial.
func (r *Reassembler) Process(origin types.PeerIdentity, frag Fragment) (*Completion, error) {
	r.record((*Statistics).IncrementRxFragments)

	// No identifier: the message carries the complete payload
	if frag.TransferID == "" {
		if err := r.checkSize(len(frag.Data)); err != nil {
			return nil, err
		}
		r.record((*Statistics).IncrementRxTransfers)
		return &Completion{Origin: origin, Payload: frag.Data, Fragments: 1}, nil
	}

	if err := frag.Validate(r.config.MaxFragments); err != nil {
		r.record((*Statistics).IncrementMalformed)
		r.logger.Warn("Reassembler: discarding fragment from %s: %v", origin, err)
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	buf, exists := r.transfers[frag.TransferID]

	// Single-fragment transfer never touches the table
	if !exists && frag.Total == 1 {
		if err := r.checkSize(len(frag.Data)); err != nil {
			return nil, err
		}
		r.record((*Statistics).IncrementRxTransfers)
		return &Completion{TransferID: frag.TransferID, Origin: origin, Payload: frag.Data, Fragments: 1}, nil
	}

	if !exists {
		buf = r.open(origin, frag)
	} else if err := r.checkMatch(buf, origin, frag); err != nil {
		return nil, err
	}

	r.store(buf, frag)

	if buf.bytes > r.config.MaxPayloadSize && r.config.MaxPayloadSize > 0 {
		r.remove(buf)
		r.record((*Statistics).IncrementBufferOverflows)
		r.logger.Warn("Reassembler: transfer %s from %s exceeded %d bytes, discarded", buf.id, origin, r.config.MaxPayloadSize)
		return nil, fmt.Errorf("%w: transfer %s", ErrBufferOverflow, buf.id)
	}

	switch r.config.Completion {
	case CompleteOnFinal:
		if !frag.IsFinal() {
			return nil, nil
		}
		if buf.filled < len(buf.slots) {
			r.remove(buf)
			r.record((*Statistics).IncrementIncomplete)
			r.logger.Warn("Reassembler: transfer %s from %s ended with %d/%d fragments, discarded",
				buf.id, origin, buf.filled, len(buf.slots))
			return nil, fmt.Errorf("%w: transfer %s has %d/%d fragments",
				ErrIncompleteTransfer, buf.id, buf.filled, len(buf.slots))
		}
	default:
		if buf.filled < len(buf.slots) {
			return nil, nil
		}
	}

	return r.complete(buf), nil
}

// open allocates a buffer for a new transfer, evicting at capacity.
// Caller must hold mu.
func (r *Reassembler) open(origin types.PeerIdentity, frag Fragment) *transferBuffer {
	if r.config.MaxTransfers > 0 && len(r.transfers) >= r.config.MaxTransfers {
		r.evictOldest()
	}

	now := r.now()
	buf := &transferBuffer{
		id:      frag.TransferID,
		origin:  origin,
		slots:   make([]*string, frag.Total),
		started: now,
		updated: now,
	}
	r.transfers[buf.id] = buf
	buf.lru = r.lru.Push(buf, now)

	if r.config.TransferTimeout > 0 {
		buf.timer = time.AfterFunc(r.config.TransferTimeout, func() {
			r.expire(buf)
		})
	}

	r.logger.Debug("Reassembler: transfer %s from %s opened, %d fragments", buf.id, origin, frag.Total)
	return buf
}

// checkMatch rejects fragments that cannot belong to buf. Caller must hold mu.
func (r *Reassembler) checkMatch(buf *transferBuffer, origin types.PeerIdentity, frag Fragment) error {
	if frag.Total != len(buf.slots) {
		r.record((*Statistics).IncrementMismatches)
		r.logger.Warn("Reassembler: transfer %s total %d from %s, buffer has %d", buf.id, frag.Total, origin, len(buf.slots))
		return fmt.Errorf("%w: transfer %s got %d, want %d", ErrTotalMismatch, buf.id, frag.Total, len(buf.slots))
	}
	if origin.ID != buf.origin.ID {
		r.record((*Statistics).IncrementMismatches)
		r.logger.Warn("Reassembler: transfer %s fragment from %s, opened by %s", buf.id, origin, buf.origin)
		return fmt.Errorf("%w: transfer %s", ErrOriginMismatch, buf.id)
	}
	return nil
}

// store writes the slice at its index, last write wins. Caller must hold mu.
func (r *Reassembler) store(buf *transferBuffer, frag Fragment) {
	data := frag.Data
	if old := buf.slots[frag.Index]; old != nil {
		buf.bytes -= len(*old)
		r.record((*Statistics).IncrementDuplicates)
	} else {
		buf.filled++
	}
	buf.slots[frag.Index] = &data
	buf.bytes += len(data)
	buf.updated = r.now()
	r.lru.Update(buf.lru, buf.updated)

	if buf.timer != nil {
		buf.timer.Reset(r.config.TransferTimeout)
	}
}

// complete joins and removes buf. Caller must hold mu.
func (r *Reassembler) complete(buf *transferBuffer) *Completion {
	r.remove(buf)
	r.record((*Statistics).IncrementRxTransfers)

	c := &Completion{
		TransferID: buf.id,
		Origin:     buf.origin,
		Payload:    buf.join(),
		Fragments:  len(buf.slots),
		Elapsed:    buf.updated.Sub(buf.started),
	}
	r.logger.Debug("Reassembler: transfer %s from %s complete, %d bytes", c.TransferID, c.Origin, len(c.Payload))
	return c
}

// remove deletes buf from the table and stops its timer. Caller must hold mu.
func (r *Reassembler) remove(buf *transferBuffer) {
	if buf.timer != nil {
		buf.timer.Stop()
	}
	r.lru.Remove(buf.lru)
	if cur, ok := r.transfers[buf.id]; ok && cur == buf {
		delete(r.transfers, buf.id)
	}
}

// evictOldest drops the least recently updated buffer. Caller must hold mu.
func (r *Reassembler) evictOldest() {
	item := r.lru.Peek()
	if item == nil {
		return
	}

	oldest := item.Value
	r.remove(oldest)
	r.record((*Statistics).IncrementEvictions)
	r.logger.Warn("Reassembler: table full, evicted transfer %s from %s (%d/%d fragments)",
		oldest.id, oldest.origin, oldest.filled, len(oldest.slots))
}

// expire is the timer callback for an abandoned buffer
func (r *Reassembler) expire(buf *transferBuffer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// The buffer may have completed or been replaced after the timer fired
	if cur, ok := r.transfers[buf.id]; !ok || cur != buf {
		return
	}

	// A fragment stored while the callback waited for the lock re-arms the timer
	if idle := r.now().Sub(buf.updated); idle < r.config.TransferTimeout {
		buf.timer.Reset(r.config.TransferTimeout - idle)
		return
	}

	delete(r.transfers, buf.id)
	r.lru.Remove(buf.lru)
	r.record((*Statistics).IncrementTimeoutErrors)
	r.logger.Warn("Reassembler: transfer %s from %s timed out with %d/%d fragments",
		buf.id, buf.origin, buf.filled, len(buf.slots))
}

func (r *Reassembler) checkSize(n int) error {
	if r.config.MaxPayloadSize > 0 && n > r.config.MaxPayloadSize {
		r.record((*Statistics).IncrementBufferOverflows)
		return fmt.Errorf("%w: %d bytes", ErrBufferOverflow, n)
	}
	return nil
}

// InFlight returns a snapshot of the live transfers, oldest first
func (r *Reassembler) InFlight() []TransferInfo {
	r.mu.Lock()
	infos := make([]TransferInfo, 0, len(r.transfers))
	for _, buf := range r.transfers {
		infos = append(infos, buf.info())
	}
	r.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Started.Before(infos[j].Started)
	})
	return infos
}

// Has reports whether a transfer buffer exists for id
func (r *Reassembler) Has(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.transfers[id]
	return ok
}

// Len returns the number of live transfer buffers
func (r *Reassembler) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.transfers)
}

// Reset discards all live transfer buffers
func (r *Reassembler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, buf := range r.transfers {
		if buf.timer != nil {
			buf.timer.Stop()
		}
	}
	r.transfers = make(map[string]*transferBuffer)
	r.lru.Clear()
}

// Stats returns reassembler statistics
func (r *Reassembler) Stats() *Statistics {
	return r.stats
}

func (r *Reassembler) record(inc func(*Statistics)) {
	if r.config.EnableStatistics {
		inc(r.stats)
	}
}
