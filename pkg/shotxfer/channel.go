package shotxfer

import (
	"avaneesh/shotxfer/pkg/channel"
	"avaneesh/shotxfer/pkg/endpoint"
)

// Channel is the public handle for a managed channel
type Channel interface {
	// ID returns the channel ID
	ID() string

	// AddEndpoint attaches a new endpoint to this channel
	AddEndpoint(config endpoint.Config, capturer endpoint.Capturer, handler endpoint.Handler) (*endpoint.Endpoint, error)

	// Shutdown closes the channel and its endpoints
	Shutdown() error

	// Statistics returns channel statistics
	Statistics() ChannelStatistics
}

// ChannelStatistics provides channel-level statistics
type ChannelStatistics struct {
	channel.StatisticsSnapshot
	PhysicalBytesTx uint64 `json:"physical_bytes_tx"`
	PhysicalBytesRx uint64 `json:"physical_bytes_rx"`
}

// channelImpl implements the Channel interface
type channelImpl struct {
	channel *channel.Channel
	manager *Manager
}

func (c *channelImpl) ID() string {
	return c.channel.ID()
}

// AddEndpoint attaches a new endpoint to this channel
func (c *channelImpl) AddEndpoint(config endpoint.Config, capturer endpoint.Capturer, handler endpoint.Handler) (*endpoint.Endpoint, error) {
	return c.manager.addEndpoint(c.channel, config, capturer, handler)
}

// Shutdown closes the channel
func (c *channelImpl) Shutdown() error {
	return c.manager.RemoveChannel(c.channel.ID())
}

// Statistics returns channel statistics
func (c *channelImpl) Statistics() ChannelStatistics {
	return channelStatistics(c.channel)
}

func channelStatistics(ch *channel.Channel) ChannelStatistics {
	phys := ch.GetPhysicalStatistics()
	return ChannelStatistics{
		StatisticsSnapshot: ch.GetStatistics().Snapshot(),
		PhysicalBytesTx:    phys.BytesSent,
		PhysicalBytesRx:    phys.BytesReceived,
	}
}
