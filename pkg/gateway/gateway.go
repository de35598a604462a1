// Package gateway is the deployment's network front door: operation envelopes
// arrive over a libp2p stream protocol, are decoded to typed operations, run
// through the dispatcher, and answered with a receipt.
package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"validator_market/pkg/market"

	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	libp2pNetwork "github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/protocol"
	"go.uber.org/zap"
)

// ProtocolID is the stream protocol carrying operation envelopes.
const ProtocolID = protocol.ID("/validator-market/op/1.0.0")

const streamReadTimeout = 30 * time.Second

// Gateway accepts operation envelopes and dispatches them.
type Gateway struct {
	host      host.Host
	processor *market.Processor
	logger    *zap.Logger

	mu        sync.RWMutex
	isRunning bool
}

// New creates a gateway listening on the given multiaddrs.
func New(listenAddrs []string, processor *market.Processor, logger *zap.Logger) (*Gateway, error) {
	h, err := libp2p.New(libp2p.ListenAddrStrings(listenAddrs...))
	if err != nil {
		return nil, fmt.Errorf("creating libp2p host: %w", err)
	}
	return &Gateway{
		host:      h,
		processor: processor,
		logger:    logger,
	}, nil
}

// NewWithHost wraps an existing host. Used by tests.
func NewWithHost(h host.Host, processor *market.Processor, logger *zap.Logger) *Gateway {
	return &Gateway{
		host:      h,
		processor: processor,
		logger:    logger,
	}
}

// Start registers the stream handler.
func (g *Gateway) Start() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.isRunning {
		return fmt.Errorf("gateway already running")
	}
	g.host.SetStreamHandler(ProtocolID, g.handleStream)
	g.isRunning = true

	g.logger.Info("Gateway listening",
		zap.String("peer_id", g.host.ID().String()),
		zap.Any("addrs", g.host.Addrs()))
	return nil
}

// Close stops the gateway and its host.
func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.isRunning {
		return nil
	}
	g.host.RemoveStreamHandler(ProtocolID)
	g.isRunning = false
	return g.host.Close()
}

// handleStream reads one envelope, executes it, and writes the receipt.
func (g *Gateway) handleStream(stream libp2pNetwork.Stream) {
	defer stream.Close()

	peerID := stream.Conn().RemotePeer()
	g.logger.Debug("Received operation stream",
		zap.String("protocol", string(stream.Protocol())),
		zap.String("peer", peerID.String()))

	if err := stream.SetDeadline(time.Now().Add(streamReadTimeout)); err != nil {
		g.logger.Error("Failed to set stream deadline", zap.Error(err))
		return
	}

	var env Envelope
	reader := bufio.NewReader(stream)
	if err := json.NewDecoder(reader).Decode(&env); err != nil {
		g.logger.Error("Failed to decode envelope from stream", zap.Error(err))
		return
	}
	if env.ID == "" {
		env.ID = uuid.New().String()
	}

	receipt := g.Submit(context.Background(), &env)

	writer := bufio.NewWriter(stream)
	if err := json.NewEncoder(writer).Encode(receipt); err != nil {
		g.logger.Error("Failed to encode receipt", zap.Error(err))
		return
	}
	if err := writer.Flush(); err != nil {
		g.logger.Error("Failed to flush receipt", zap.Error(err))
	}
}

// Submit executes one envelope and reports the outcome.
func (g *Gateway) Submit(ctx context.Context, env *Envelope) *Receipt {
	op, err := DecodeEnvelope(env)
	if err != nil {
		g.logger.Warn("Rejected malformed envelope",
			zap.String("id", env.ID),
			zap.Error(err))
		return &Receipt{ID: env.ID, Error: err.Error()}
	}

	if err := g.processor.Process(ctx, op, env.Accounts); err != nil {
		return &Receipt{ID: env.ID, Error: err.Error()}
	}
	return &Receipt{ID: env.ID, OK: true}
}
