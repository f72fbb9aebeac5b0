package commands

import (
	"context"
	"fmt"

	"avaneesh/shotxfer/pkg/channel"
	"avaneesh/shotxfer/pkg/config"
	"avaneesh/shotxfer/pkg/endpoint"
	"avaneesh/shotxfer/pkg/shotxfer"
	"avaneesh/shotxfer/pkg/store"
)

const signalingChannel = "signaling"

// newPhysical opens the physical channel named by the transport section
func newPhysical(t config.TransportSection) (channel.PhysicalChannel, error) {
	switch t.Kind {
	case "udp":
		return channel.NewUDPChannel(channel.UDPChannelConfig{
			Address:      t.Address,
			IsServer:     t.Server,
			WriteTimeout: t.WriteTimeout,
		})
	case "tcp":
		return channel.NewTCPChannel(channel.TCPChannelConfig{
			Address:        t.Address,
			IsServer:       t.Server,
			ReconnectDelay: t.ReconnectDelay,
			WriteTimeout:   t.WriteTimeout,
		})
	case "quic":
		return channel.NewQUICChannel(channel.QUICChannelConfig{
			Address:        t.Address,
			IsServer:       t.Server,
			ReconnectDelay: t.ReconnectDelay,
			WriteTimeout:   t.WriteTimeout,
		})
	default:
		return nil, fmt.Errorf("unknown transport %q", t.Kind)
	}
}

// openStore opens the configured screenshot store; nil when disabled
func openStore(ctx context.Context, s config.StoreSection, log shotxfer.Logger) (store.Store, error) {
	switch s.Kind {
	case "bolt":
		return store.NewBoltStore(s.Path)
	case "redis":
		return store.NewRedisStore(ctx, store.RedisOptions{
			Addr:     s.Redis.Addr,
			Password: s.Redis.Password,
			DB:       s.Redis.DB,
			Prefix:   s.Redis.Prefix,
			TTL:      s.Redis.TTL,
			Logger:   log,
		})
	default:
		return nil, nil
	}
}

// node is a manager with one endpoint on one signaling channel
type node struct {
	manager  *shotxfer.Manager
	endpoint *endpoint.Endpoint
}

func startNode(cfg *config.NodeConfig, capturer endpoint.Capturer, handler endpoint.Handler, log shotxfer.Logger) (*node, error) {
	epCfg, err := cfg.EndpointConfig()
	if err != nil {
		return nil, err
	}

	physical, err := newPhysical(cfg.Transport)
	if err != nil {
		return nil, err
	}
	if l, ok := physical.(channel.Listening); ok && l.ListenAddr() != nil {
		log.Info("Listening on %s %s", cfg.Transport.Kind, l.ListenAddr())
	}

	manager := shotxfer.NewManagerWithLogger(log)
	ch, err := manager.AddChannel(signalingChannel, physical)
	if err != nil {
		physical.Close()
		return nil, err
	}

	ep, err := ch.AddEndpoint(epCfg, capturer, handler)
	if err != nil {
		manager.Shutdown()
		return nil, err
	}

	return &node{manager: manager, endpoint: ep}, nil
}

func (n *node) stop() {
	n.manager.Shutdown()
}
