// Package relay owns the live websocket connection to the message relay.
// One Provider holds at most one socket, subscribed to a fixed list of
// conversation ids; changing the list means tearing the connection down and
// dialing again (the relay has no incremental subscribe).
package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"teamchat/internal/bus"
	"teamchat/internal/metrics"
	"teamchat/internal/model"
)

// ErrNotConnected is returned when an emission is attempted on a dead
// connection.
var ErrNotConnected = errors.New("relay: not connected")

// MessageHandler receives one inbound live message.
type MessageHandler func(model.Message)

// HistoryHandler receives one history backfill batch.
type HistoryHandler func([]model.Message)

// ReadUpdateHandler receives one read-receipt broadcast.
type ReadUpdateHandler func(ReadUpdate)

// Provider maintains the relay connection and dispatches inbound frames to
// registered handlers. Handlers run synchronously on the read pump, so they
// observe frames in wire order.
type Provider struct {
	url    string
	token  string
	bus    *bus.Bus
	logger *zap.Logger

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool
	closed    bool
	ids       []int64
	cancel    context.CancelFunc

	writeMu sync.Mutex // gorilla allows a single concurrent writer

	subMu    sync.RWMutex
	nextSub  int
	msgSubs  map[int]MessageHandler
	histSubs map[int]HistoryHandler
	readSubs map[int]ReadUpdateHandler
}

// NewProvider creates a provider for the given relay URL and bearer token,
// subscribed to the given conversation ids.
func NewProvider(relayURL, token string, ids []int64, b *bus.Bus, logger *zap.Logger) *Provider {
	return &Provider{
		url:      relayURL,
		token:    token,
		ids:      ids,
		bus:      b,
		logger:   logger,
		msgSubs:  make(map[int]MessageHandler),
		histSubs: make(map[int]HistoryHandler),
		readSubs: make(map[int]ReadUpdateHandler),
	}
}

// Connect dials the relay and starts the read pump. The first dial failure
// is returned to the caller; once established, a dropped connection is
// re-dialed in the background with exponential backoff until Close.
func (p *Provider) Connect(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errors.New("relay: provider closed")
	}
	if p.connected {
		p.mu.Unlock()
		return nil
	}
	ctx, p.cancel = context.WithCancel(ctx)
	ids := p.ids
	p.mu.Unlock()

	conn, err := p.dial(ctx, ids)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.conn = conn
	p.connected = true
	p.mu.Unlock()

	p.logger.Info("relay connected", zap.Int("conversations", len(ids)))
	p.bus.Publish(bus.Event{Kind: bus.KindRelayConnected})

	go p.readPump(ctx, conn)
	return nil
}

func (p *Provider) dial(ctx context.Context, ids []int64) (*websocket.Conn, error) {
	u, err := url.Parse(p.url)
	if err != nil {
		return nil, fmt.Errorf("parse relay url: %w", err)
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	q := u.Query()
	q.Set("conversationIds", strings.Join(parts, ","))
	u.RawQuery = q.Encode()

	header := http.Header{}
	if p.token != "" {
		header.Set("Authorization", "Bearer "+p.token)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	return conn, nil
}

func (p *Provider) readPump(ctx context.Context, conn *websocket.Conn) {
	for {
		var frame inboundFrame
		if err := conn.ReadJSON(&frame); err != nil {
			p.markDisconnected(conn)
			if ctx.Err() != nil || p.isClosed() {
				return
			}
			p.logger.Warn("relay read failed", zap.Error(err))
			p.bus.Publish(bus.Event{Kind: bus.KindRelayDisconnected, Payload: err.Error()})
			p.reconnect(ctx)
			return
		}
		p.dispatch(frame)
	}
}

func (p *Provider) dispatch(frame inboundFrame) {
	metrics.RelayFramesTotal.WithLabelValues(frame.Type).Inc()

	switch frame.Type {
	case frameMessage:
		if frame.Message == nil {
			return
		}
		p.subMu.RLock()
		handlers := make([]MessageHandler, 0, len(p.msgSubs))
		for _, h := range p.msgSubs {
			handlers = append(handlers, h)
		}
		p.subMu.RUnlock()
		for _, h := range handlers {
			h(*frame.Message)
		}
	case frameHistory:
		if len(frame.Messages) == 0 {
			return
		}
		p.subMu.RLock()
		handlers := make([]HistoryHandler, 0, len(p.histSubs))
		for _, h := range p.histSubs {
			handlers = append(handlers, h)
		}
		p.subMu.RUnlock()
		for _, h := range handlers {
			h(frame.Messages)
		}
	case frameReadUpdate:
		if frame.ReadUpdate == nil {
			return
		}
		p.subMu.RLock()
		handlers := make([]ReadUpdateHandler, 0, len(p.readSubs))
		for _, h := range p.readSubs {
			handlers = append(handlers, h)
		}
		p.subMu.RUnlock()
		for _, h := range handlers {
			h(*frame.ReadUpdate)
		}
	default:
		p.logger.Debug("unknown relay frame", zap.String("type", frame.Type))
	}
}

// reconnect re-dials with exponential backoff and jitter until the context
// is cancelled or the provider is closed.
func (p *Provider) reconnect(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0 // retry until cancelled

	err := backoff.Retry(func() error {
		if p.isClosed() {
			return backoff.Permanent(errors.New("provider closed"))
		}
		metrics.RelayReconnectsTotal.Inc()

		p.mu.RLock()
		ids := p.ids
		p.mu.RUnlock()

		conn, err := p.dial(ctx, ids)
		if err != nil {
			p.logger.Warn("relay redial failed", zap.Error(err))
			return err
		}

		p.mu.Lock()
		p.conn = conn
		p.connected = true
		p.mu.Unlock()

		p.logger.Info("relay reconnected")
		p.bus.Publish(bus.Event{Kind: bus.KindRelayConnected})
		go p.readPump(ctx, conn)
		return nil
	}, backoff.WithContext(bo, ctx))

	if err != nil && ctx.Err() == nil {
		p.logger.Error("relay reconnect abandoned", zap.Error(err))
	}
}

// Resubscribe tears the connection down and dials again with a new
// conversation-id list.
func (p *Provider) Resubscribe(ctx context.Context, ids []int64) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errors.New("relay: provider closed")
	}
	if p.cancel != nil {
		p.cancel()
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
	p.connected = false
	p.ids = ids
	p.mu.Unlock()

	p.bus.Publish(bus.Event{Kind: bus.KindRelayResubscribed, Payload: len(ids)})
	return p.Connect(ctx)
}

// IsConnected returns current liveness. Emissions are gated on it.
func (p *Provider) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected
}

// OnMessageReceived registers a live-message handler. The returned function
// unregisters it; calling it more than once is harmless.
func (p *Provider) OnMessageReceived(h MessageHandler) func() {
	p.subMu.Lock()
	id := p.nextSub
	p.nextSub++
	p.msgSubs[id] = h
	p.subMu.Unlock()
	return func() {
		p.subMu.Lock()
		delete(p.msgSubs, id)
		p.subMu.Unlock()
	}
}

// OnReceiveHistory registers a history-batch handler.
func (p *Provider) OnReceiveHistory(h HistoryHandler) func() {
	p.subMu.Lock()
	id := p.nextSub
	p.nextSub++
	p.histSubs[id] = h
	p.subMu.Unlock()
	return func() {
		p.subMu.Lock()
		delete(p.histSubs, id)
		p.subMu.Unlock()
	}
}

// OnMessageReadUpdateReceived registers a read-receipt handler.
func (p *Provider) OnMessageReadUpdateReceived(h ReadUpdateHandler) func() {
	p.subMu.Lock()
	id := p.nextSub
	p.nextSub++
	p.readSubs[id] = h
	p.subMu.Unlock()
	return func() {
		p.subMu.Lock()
		delete(p.readSubs, id)
		p.subMu.Unlock()
	}
}

// SendMessage emits a new message. The body must already be sanitized.
// There is no local echo: the message appears when the relay sends it back.
func (p *Provider) SendMessage(conversationID int64, sanitizedHTML string) error {
	return p.write(outboundFrame{
		Type:           frameSend,
		ConversationID: conversationID,
		Message:        sanitizedHTML,
	})
}

// BroadcastMessageReadUpdate tells peers the local user has read up to
// messageID. Best effort: silently dropped while disconnected, matching the
// isConnected gate the UI contract requires.
func (p *Provider) BroadcastMessageReadUpdate(conversationID, messageID int64) error {
	if !p.IsConnected() {
		return nil
	}
	return p.write(outboundFrame{
		Type:           frameReadUpdate,
		ConversationID: conversationID,
		MessageID:      messageID,
	})
}

func (p *Provider) write(frame outboundFrame) error {
	p.mu.RLock()
	conn := p.conn
	connected := p.connected
	p.mu.RUnlock()
	if !connected || conn == nil {
		return ErrNotConnected
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if err := conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("relay write: %w", err)
	}
	return nil
}

// Close tears the connection down and releases every registered handler.
// Safe to call multiple times.
func (p *Provider) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.connected = false
	if p.cancel != nil {
		p.cancel()
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
	p.mu.Unlock()

	p.subMu.Lock()
	p.msgSubs = make(map[int]MessageHandler)
	p.histSubs = make(map[int]HistoryHandler)
	p.readSubs = make(map[int]ReadUpdateHandler)
	p.subMu.Unlock()

	p.logger.Info("relay closed")
}

// markDisconnected clears the liveness flag, but only if conn is still the
// current socket. A pump torn down by Resubscribe can report its read
// failure after the replacement socket is already up; clearing the flag for
// that stale socket would gate every write path off a healthy connection.
func (p *Provider) markDisconnected(conn *websocket.Conn) {
	p.mu.Lock()
	if p.conn == conn {
		p.connected = false
	}
	p.mu.Unlock()
}

func (p *Provider) isClosed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}
