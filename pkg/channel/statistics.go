package channel

import "sync/atomic"

// Statistics tracks channel-level statistics
type Statistics struct {
	numMessagesTx     uint64
	numMessagesRx     uint64
	numBadMessages    uint64
	numRoutingErrors  uint64
	numWriteErrors    uint64
	numActiveSessions uint64
	numConnects       uint64
	numDisconnects    uint64
}

// StatisticsSnapshot is a point-in-time copy of Statistics
type StatisticsSnapshot struct {
	MessagesTx     uint64 `json:"messages_tx"`
	MessagesRx     uint64 `json:"messages_rx"`
	BadMessages    uint64 `json:"bad_messages"`
	RoutingErrors  uint64 `json:"routing_errors"`
	WriteErrors    uint64 `json:"write_errors"`
	ActiveSessions uint64 `json:"active_sessions"`
	Connects       uint64 `json:"connects"`
	Disconnects    uint64 `json:"disconnects"`
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	return &Statistics{}
}

// MessageTx increments transmitted messages
func (s *Statistics) MessageTx() {
	atomic.AddUint64(&s.numMessagesTx, 1)
}

// MessageRx increments received messages
func (s *Statistics) MessageRx() {
	atomic.AddUint64(&s.numMessagesRx, 1)
}

// BadMessage increments messages that failed to decode
func (s *Statistics) BadMessage() {
	atomic.AddUint64(&s.numBadMessages, 1)
}

// RoutingError increments envelopes with no local destination
func (s *Statistics) RoutingError() {
	atomic.AddUint64(&s.numRoutingErrors, 1)
}

// WriteError increments failed writes
func (s *Statistics) WriteError() {
	atomic.AddUint64(&s.numWriteErrors, 1)
}

// ConnectionUp increments connections established while the channel was open
func (s *Statistics) ConnectionUp() {
	atomic.AddUint64(&s.numConnects, 1)
}

// ConnectionLost increments connections lost while the channel was open
func (s *Statistics) ConnectionLost() {
	atomic.AddUint64(&s.numDisconnects, 1)
}

// SetActiveSessions sets the number of active sessions
func (s *Statistics) SetActiveSessions(count uint64) {
	atomic.StoreUint64(&s.numActiveSessions, count)
}

// GetMessagesTx returns transmitted messages
func (s *Statistics) GetMessagesTx() uint64 {
	return atomic.LoadUint64(&s.numMessagesTx)
}

// GetMessagesRx returns received messages
func (s *Statistics) GetMessagesRx() uint64 {
	return atomic.LoadUint64(&s.numMessagesRx)
}

// GetBadMessages returns messages that failed to decode
func (s *Statistics) GetBadMessages() uint64 {
	return atomic.LoadUint64(&s.numBadMessages)
}

// GetRoutingErrors returns envelopes with no local destination
func (s *Statistics) GetRoutingErrors() uint64 {
	return atomic.LoadUint64(&s.numRoutingErrors)
}

// GetConnects returns connections established while open
func (s *Statistics) GetConnects() uint64 {
	return atomic.LoadUint64(&s.numConnects)
}

// GetDisconnects returns connections lost while open
func (s *Statistics) GetDisconnects() uint64 {
	return atomic.LoadUint64(&s.numDisconnects)
}

// GetActiveSessions returns number of active sessions
func (s *Statistics) GetActiveSessions() uint64 {
	return atomic.LoadUint64(&s.numActiveSessions)
}

// Snapshot returns a copy of all counters
func (s *Statistics) Snapshot() StatisticsSnapshot {
	return StatisticsSnapshot{
		MessagesTx:     atomic.LoadUint64(&s.numMessagesTx),
		MessagesRx:     atomic.LoadUint64(&s.numMessagesRx),
		BadMessages:    atomic.LoadUint64(&s.numBadMessages),
		RoutingErrors:  atomic.LoadUint64(&s.numRoutingErrors),
		WriteErrors:    atomic.LoadUint64(&s.numWriteErrors),
		ActiveSessions: atomic.LoadUint64(&s.numActiveSessions),
		Connects:       atomic.LoadUint64(&s.numConnects),
		Disconnects:    atomic.LoadUint64(&s.numDisconnects),
	}
}

// Reset resets all statistics
func (s *Statistics) Reset() {
	atomic.StoreUint64(&s.numMessagesTx, 0)
	atomic.StoreUint64(&s.numMessagesRx, 0)
	atomic.StoreUint64(&s.numBadMessages, 0)
	atomic.StoreUint64(&s.numRoutingErrors, 0)
	atomic.StoreUint64(&s.numWriteErrors, 0)
	atomic.StoreUint64(&s.numConnects, 0)
	atomic.StoreUint64(&s.numDisconnects, 0)
}
