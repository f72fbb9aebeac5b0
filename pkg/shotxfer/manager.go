package shotxfer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"avaneesh/shotxfer/pkg/channel"
	"avaneesh/shotxfer/pkg/chunk"
	"avaneesh/shotxfer/pkg/endpoint"
	"avaneesh/shotxfer/pkg/internal/logger"
	"avaneesh/shotxfer/pkg/types"
)

// ErrUnknownEndpoint is returned for an endpoint ID the manager does not hold
var ErrUnknownEndpoint = errors.New("unknown endpoint")

// Manager is the root object for screenshot transfer.
// It owns channels and the endpoints attached to them.
type Manager struct {
	channels  map[string]*channel.Channel
	endpoints map[string]*attachedEndpoint // Key: endpoint peer ID
	mu        sync.RWMutex
	logger    logger.Logger
}

type attachedEndpoint struct {
	endpoint  *endpoint.Endpoint
	channelID string
}

// Statistics aggregates channel and endpoint counters
type Statistics struct {
	Channels  map[string]ChannelStatistics `json:"channels"`
	Endpoints map[string]chunk.Snapshot    `json:"endpoints"`
}

// NewManager creates a new manager using the default logger
func NewManager() *Manager {
	return NewManagerWithLogger(logger.GetDefault())
}

// NewManagerWithLogger creates a new manager with custom logger
func NewManagerWithLogger(log logger.Logger) *Manager {
	if log == nil {
		log = logger.NewNoOpLogger()
	}

	return &Manager{
		channels:  make(map[string]*channel.Channel),
		endpoints: make(map[string]*attachedEndpoint),
		logger:    log,
	}
}

// AddChannel creates and opens a channel over the given physical channel
func (m *Manager) AddChannel(id string, physical channel.PhysicalChannel) (Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.channels[id]; exists {
		return nil, fmt.Errorf("channel %s already exists", id)
	}

	ch := channel.New(id, physical, m.logger)
	if err := ch.Open(); err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	m.channels[id] = ch
	m.logger.Info("Manager: Added channel %s", id)

	return &channelImpl{channel: ch, manager: m}, nil
}

// RemoveChannel closes a channel and the endpoints attached to it
func (m *Manager) RemoveChannel(id string) error {
	m.mu.Lock()
	ch, exists := m.channels[id]
	if !exists {
		m.mu.Unlock()
		return fmt.Errorf("channel %s not found", id)
	}

	var detached []*attachedEndpoint
	for peerID, att := range m.endpoints {
		if att.channelID == id {
			detached = append(detached, att)
			delete(m.endpoints, peerID)
		}
	}
	delete(m.channels, id)
	m.mu.Unlock()

	// Close outside the lock; handlers on the read loop may call back in
	for _, att := range detached {
		m.closeEndpoint(ch, att)
	}
	if err := ch.Close(); err != nil {
		m.logger.Error("Error closing channel %s: %v", id, err)
	}

	m.logger.Info("Manager: Removed channel %s", id)
	return nil
}

// GetChannel returns a channel by ID
func (m *Manager) GetChannel(id string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ch, exists := m.channels[id]
	if !exists {
		return nil, false
	}
	return &channelImpl{channel: ch, manager: m}, true
}

// GetEndpoint returns an endpoint by its peer ID
func (m *Manager) GetEndpoint(id string) (*endpoint.Endpoint, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	att, exists := m.endpoints[id]
	if !exists {
		return nil, false
	}
	return att.endpoint, true
}

// addEndpoint creates an endpoint on ch and registers it as a session
func (m *Manager) addEndpoint(ch *channel.Channel, config endpoint.Config, capturer endpoint.Capturer, handler endpoint.Handler) (*endpoint.Endpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.endpoints[config.Self.ID]; exists {
		return nil, fmt.Errorf("endpoint %s already exists", config.Self.ID)
	}

	ep, err := endpoint.New(config, ch, capturer, handler, m.logger)
	if err != nil {
		return nil, err
	}
	if err := ch.AddSession(ep); err != nil {
		ep.Close()
		return nil, err
	}

	m.endpoints[config.Self.ID] = &attachedEndpoint{endpoint: ep, channelID: ch.ID()}
	m.logger.Info("Manager: Added endpoint %s on channel %s", config.Self, ch.ID())
	return ep, nil
}

// RemoveEndpoint detaches and closes an endpoint
func (m *Manager) RemoveEndpoint(id string) error {
	m.mu.Lock()
	att, exists := m.endpoints[id]
	if !exists {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownEndpoint, id)
	}
	delete(m.endpoints, id)
	ch := m.channels[att.channelID]
	m.mu.Unlock()

	m.closeEndpoint(ch, att)
	return nil
}

// closeEndpoint detaches att from ch, if still open, and closes it
func (m *Manager) closeEndpoint(ch *channel.Channel, att *attachedEndpoint) {
	id := att.endpoint.PeerID()
	if ch != nil {
		ch.RemoveSession(id)
	}
	if err := att.endpoint.Close(); err != nil {
		m.logger.Error("Error closing endpoint %s: %v", id, err)
	}
}

// RequestScreenshot asks peer for a screenshot on behalf of the local endpoint from
func (m *Manager) RequestScreenshot(ctx context.Context, from string, peer types.PeerIdentity) error {
	ep, ok := m.GetEndpoint(from)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEndpoint, from)
	}
	return ep.RequestScreenshot(ctx, peer)
}

// Statistics returns a snapshot of every channel and endpoint
func (m *Manager) Statistics() Statistics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Statistics{
		Channels:  make(map[string]ChannelStatistics, len(m.channels)),
		Endpoints: make(map[string]chunk.Snapshot, len(m.endpoints)),
	}
	for id, ch := range m.channels {
		stats.Channels[id] = channelStatistics(ch)
	}
	for id, att := range m.endpoints {
		stats.Endpoints[id] = att.endpoint.Stats().Snapshot()
	}
	return stats
}

// InFlight returns the partial transfers of every endpoint, keyed by endpoint ID
func (m *Manager) InFlight() map[string][]chunk.TransferInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string][]chunk.TransferInfo, len(m.endpoints))
	for id, att := range m.endpoints {
		out[id] = att.endpoint.Reassembler().InFlight()
	}
	return out
}

// EndpointIDs returns the IDs of all endpoints, sorted
func (m *Manager) EndpointIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.endpoints))
	for id := range m.endpoints {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Shutdown closes all endpoints, then all channels
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	channels, endpoints := m.channels, m.endpoints
	m.channels = make(map[string]*channel.Channel)
	m.endpoints = make(map[string]*attachedEndpoint)
	m.mu.Unlock()

	m.logger.Info("Manager: Shutting down")

	for _, att := range endpoints {
		m.closeEndpoint(channels[att.channelID], att)
	}

	for id, ch := range channels {
		if err := ch.Close(); err != nil {
			m.logger.Error("Error closing channel %s: %v", id, err)
		}
	}

	m.logger.Info("Manager: Shutdown complete")
	return nil
}

// ChannelCount returns the number of channels
func (m *Manager) ChannelCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.channels)
}

// SetLogger sets the logger used for channels and endpoints created afterwards
func (m *Manager) SetLogger(log logger.Logger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logger = log
}
