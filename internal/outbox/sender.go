// Package outbox drains the persistent send queue. Messages are written to
// the queue by the chat session and picked up here once the relay is up, so
// a send survives a connection drop and a process restart.
package outbox

import (
	"context"
	"time"

	"go.uber.org/zap"

	"teamchat/internal/bus"
	"teamchat/internal/metrics"
	"teamchat/internal/store"
)

// DefaultInterval is the queue poll period.
const DefaultInterval = 500 * time.Millisecond

// Transport is the relay surface the sender drains into.
type Transport interface {
	IsConnected() bool
	SendMessage(conversationID int64, body string) error
}

// Sender polls the outbox and pushes queued messages through the transport.
type Sender struct {
	db        *store.DB
	transport Transport
	bus       *bus.Bus
	logger    *zap.Logger
	interval  time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a sender polling at the given interval (DefaultInterval if
// zero or negative).
func New(db *store.DB, transport Transport, b *bus.Bus, logger *zap.Logger, interval time.Duration) *Sender {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sender{
		db:        db,
		transport: transport,
		bus:       b,
		logger:    logger,
		interval:  interval,
	}
}

// Start launches the drain loop. Failed entries are requeued whenever the
// relay reconnects.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	reconnects, unsub := s.bus.Subscribe(bus.KindRelayConnected, 4)

	go func() {
		defer close(s.done)
		defer unsub()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-reconnects:
				if err := s.db.RequeueFailed(); err != nil {
					s.logger.Warn("outbox requeue failed", zap.Error(err))
				}
			case <-ticker.C:
				s.drain()
			}
		}
	}()
}

// Stop halts the loop and waits for the in-flight round to finish.
func (s *Sender) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

func (s *Sender) drain() {
	if !s.transport.IsConnected() {
		return
	}

	entries, err := s.db.PendingOutbox()
	if err != nil {
		s.logger.Error("outbox read failed", zap.Error(err))
		return
	}

	for _, e := range entries {
		if err := s.db.MarkOutboxSending(e.ClientMsgID); err != nil {
			s.logger.Warn("outbox status update failed", zap.Error(err), zap.String("client_msg_id", e.ClientMsgID))
			continue
		}

		if err := s.transport.SendMessage(e.ConversationID, e.Body); err != nil {
			metrics.MessagesSentTotal.WithLabelValues("failed").Inc()
			s.logger.Warn("send failed", zap.Error(err),
				zap.String("client_msg_id", e.ClientMsgID),
				zap.Int64("conversation_id", e.ConversationID))
			if dbErr := s.db.MarkOutboxFailed(e.ClientMsgID, err.Error()); dbErr != nil {
				s.logger.Error("outbox status update failed", zap.Error(dbErr))
			}
			s.bus.Publish(bus.Event{Kind: bus.KindSendFailed, Payload: e.ClientMsgID})
			continue
		}

		metrics.MessagesSentTotal.WithLabelValues("sent").Inc()
		if err := s.db.MarkOutboxSent(e.ClientMsgID); err != nil {
			s.logger.Error("outbox status update failed", zap.Error(err))
		}
		s.bus.Publish(bus.Event{Kind: bus.KindSendAck, Payload: e.ClientMsgID})
	}
}
