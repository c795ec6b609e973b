// Package chat holds the client-side chat session: the conversation list,
// the active conversation detail and the read-receipt state, reconciled
// under one mutex from two sources that race freely — REST fetches and
// relay-pushed events. The rendering layer reads snapshots; every mutation
// funnels through Session methods.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"teamchat/internal/bus"
	"teamchat/internal/metrics"
	"teamchat/internal/model"
	"teamchat/internal/relay"
	"teamchat/internal/sanitize"
	"teamchat/internal/store"
)

// followThresholdPx is how far (in pixels) the viewer may be from the bottom
// of the message list and still be auto-scrolled on receipt.
const followThresholdPx = 100

// ErrNoActiveConversation is returned by SendMessage when nothing is open.
var ErrNoActiveConversation = errors.New("chat: no active conversation")

// API is the REST surface the session consumes.
type API interface {
	ListConversations(ctx context.Context, teamID int64) ([]model.ConversationSummary, error)
	GetConversation(ctx context.Context, id int64) (*model.ConversationDetail, error)
	MarkRead(ctx context.Context, id int64) error
	CreateConversation(ctx context.Context, teamID int64, name string) error
	DeleteConversation(ctx context.Context, id int64) error
}

// Emitter is the relay surface the session needs for read receipts.
type Emitter interface {
	IsConnected() bool
	BroadcastMessageReadUpdate(conversationID, messageID int64) error
}

// Session owns all client-side chat state for one user in one team.
type Session struct {
	userID int64
	teamID int64

	api    API
	emit   Emitter
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger

	mu        sync.Mutex
	summaries []*model.ConversationSummary
	active    *model.ConversationDetail
	activeID  int64
	// generation guards against a stale detail fetch resolving after the
	// user has switched away; it is bumped on every switch and compared
	// when the fetch returns.
	generation uint64
	// pending buffers live messages for the active conversation that
	// arrive before its detail fetch resolves.
	pending  []model.Message
	atBottom bool

	unsubs []func()
}

// NewSession creates a session for the given user and team.
func NewSession(userID, teamID int64, api API, emit Emitter, db *store.DB, b *bus.Bus, logger *zap.Logger) *Session {
	return &Session{
		userID:   userID,
		teamID:   teamID,
		api:      api,
		emit:     emit,
		db:       db,
		bus:      b,
		logger:   logger,
		atBottom: true,
	}
}

// Attach registers the session's handlers on the relay provider. Detach
// releases them; re-rendering never re-registers closures.
func (s *Session) Attach(p *relay.Provider) {
	s.unsubs = append(s.unsubs,
		p.OnMessageReceived(s.HandleLiveMessage),
		p.OnReceiveHistory(s.HandleHistory),
		p.OnMessageReadUpdateReceived(s.HandleReadUpdate),
	)
}

// Detach unregisters the relay handlers.
func (s *Session) Detach() {
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.unsubs = nil
}

// LoadConversations replaces the summary list from the backend. On REST
// failure the cached list is served instead and the error is returned so
// the daemon can degrade rather than crash.
func (s *Session) LoadConversations(ctx context.Context) error {
	list, err := s.api.ListConversations(ctx, s.teamID)
	if err != nil {
		metrics.RESTFailuresTotal.WithLabelValues("list").Inc()
		cached, cacheErr := s.db.ListConversations()
		if cacheErr != nil {
			s.logger.Error("conversation cache read failed", zap.Error(cacheErr))
		}
		s.replaceSummaries(cached)
		s.logger.Warn("conversation list fetch failed, serving cache",
			zap.Error(err), zap.Int("cached", len(cached)))
		return fmt.Errorf("load conversations: %w", err)
	}

	for i := range list {
		if list[i].LatestMessage != nil {
			list[i].LatestMessage.Body = sanitize.HTML(list[i].LatestMessage.Body)
		}
		if err := s.db.UpsertConversation(&list[i]); err != nil {
			s.logger.Warn("conversation cache write failed", zap.Error(err), zap.Int64("conversation_id", list[i].ConversationID))
		}
	}
	s.replaceSummaries(list)
	return nil
}

func (s *Session) replaceSummaries(list []model.ConversationSummary) {
	s.mu.Lock()
	s.summaries = make([]*model.ConversationSummary, len(list))
	for i := range list {
		c := list[i]
		s.summaries[i] = &c
	}
	s.mu.Unlock()
	s.bus.Publish(bus.Event{Kind: bus.KindSummaryUpdated})
}

// Summaries returns a snapshot of the conversation list.
func (s *Session) Summaries() []model.ConversationSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ConversationSummary, len(s.summaries))
	for i, c := range s.summaries {
		out[i] = *c
		if c.LatestMessage != nil {
			m := *c.LatestMessage
			out[i].LatestMessage = &m
		}
	}
	return out
}

// ActiveConversation returns a snapshot of the open conversation's detail,
// or nil when none is open (or its fetch has not resolved yet).
func (s *Session) ActiveConversation() *model.ConversationDetail {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return nil
	}
	out := *s.active
	out.ChatMessages = make([]model.Message, len(s.active.ChatMessages))
	copy(out.ChatMessages, s.active.ChatMessages)
	out.TeamMembers = append([]model.Participant(nil), s.active.TeamMembers...)
	return &out
}

// OpenConversation switches the active conversation: the previous detail is
// discarded, the conversation is marked read, and the full detail is
// fetched. A fetch that resolves after another switch is discarded by the
// generation guard.
func (s *Session) OpenConversation(ctx context.Context, id int64) error {
	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.activeID = id
	s.active = nil
	s.pending = nil
	s.atBottom = true
	s.markReadLocked(id)
	s.mu.Unlock()

	if err := s.api.MarkRead(ctx, id); err != nil {
		metrics.RESTFailuresTotal.WithLabelValues("mark_read").Inc()
		s.logger.Warn("mark read failed", zap.Error(err), zap.Int64("conversation_id", id))
	}

	detail, err := s.api.GetConversation(ctx, id)
	if err != nil {
		metrics.RESTFailuresTotal.WithLabelValues("get").Inc()
		return fmt.Errorf("open conversation %d: %w", id, err)
	}

	for i := range detail.ChatMessages {
		detail.ChatMessages[i].Body = sanitize.HTML(detail.ChatMessages[i].Body)
	}

	s.mu.Lock()
	if s.generation != gen {
		// The user switched again while this fetch was in flight.
		s.mu.Unlock()
		s.logger.Debug("discarding stale detail fetch", zap.Int64("conversation_id", id))
		return nil
	}
	// Live messages may have arrived before the fetch resolved; they go
	// after the fetched history, deduped by id.
	for _, msg := range s.pending {
		detail.ChatMessages = appendIfAbsent(detail.ChatMessages, msg)
	}
	s.pending = nil
	s.active = detail
	persist := append([]model.Message(nil), detail.ChatMessages...)
	lastID := int64(0)
	if n := len(persist); n > 0 {
		lastID = persist[n-1].MessageID
	}
	s.mu.Unlock()

	for i := range persist {
		if err := s.db.UpsertMessage(&persist[i]); err != nil {
			s.logger.Warn("message cache write failed", zap.Error(err))
		}
	}

	if lastID != 0 {
		if err := s.emit.BroadcastMessageReadUpdate(id, lastID); err != nil {
			s.logger.Warn("read broadcast failed", zap.Error(err))
		}
	}

	s.bus.Publish(bus.Event{Kind: bus.KindSummaryUpdated})
	return nil
}

// HandleLiveMessage applies one relay-pushed message: the summary list is
// reconciled and reordered, and the active detail (if it is the target)
// gets the message appended.
func (s *Session) HandleLiveMessage(msg model.Message) {
	msg.Body = sanitize.HTML(msg.Body)

	s.mu.Lock()
	idx := -1
	for i, c := range s.summaries {
		if c.ConversationID == msg.ConversationID {
			idx = i
			break
		}
	}
	if idx < 0 {
		// Conversation not in the loaded filter set.
		s.mu.Unlock()
		return
	}

	sum := s.summaries[idx]
	latest := msg
	sum.LatestMessage = &latest

	isActive := msg.ConversationID == s.activeID
	if isActive {
		sum.IsRead = true
		sum.UnreadCount = 0
		if s.active != nil {
			s.active.ChatMessages = appendIfAbsent(s.active.ChatMessages, msg)
		} else {
			s.pending = appendIfAbsent(s.pending, msg)
		}
	} else {
		sum.IsRead = false
		sum.UnreadCount++
	}

	// Most-recently-active first: remove then unshift, so ties between
	// conversations break by event arrival order.
	s.summaries = append(s.summaries[:idx], s.summaries[idx+1:]...)
	s.summaries = append([]*model.ConversationSummary{sum}, s.summaries...)
	snapshot := *sum
	s.mu.Unlock()

	if err := s.db.UpsertMessage(&msg); err != nil {
		s.logger.Warn("message cache write failed", zap.Error(err), zap.Int64("message_id", msg.MessageID))
	}
	if err := s.db.UpsertConversation(&snapshot); err != nil {
		s.logger.Warn("conversation cache write failed", zap.Error(err))
	}

	if isActive {
		if err := s.api.MarkRead(context.Background(), msg.ConversationID); err != nil {
			metrics.RESTFailuresTotal.WithLabelValues("mark_read").Inc()
			s.logger.Warn("mark read failed", zap.Error(err), zap.Int64("conversation_id", msg.ConversationID))
		}
		if err := s.emit.BroadcastMessageReadUpdate(msg.ConversationID, msg.MessageID); err != nil {
			s.logger.Warn("read broadcast failed", zap.Error(err))
		}
	}

	s.bus.Publish(bus.Event{Kind: bus.KindMessageReceived, Payload: msg})
	s.bus.Publish(bus.Event{Kind: bus.KindSummaryUpdated})
}

// HandleHistory merges a backfill batch into the active conversation.
// Batches are appended, never prepended: the relay only replays history
// before live traffic for a conversation, and the id dedup keeps a late
// replay from double-inserting.
func (s *Session) HandleHistory(msgs []model.Message) {
	for i := range msgs {
		msgs[i].Body = sanitize.HTML(msgs[i].Body)
		if err := s.db.UpsertMessage(&msgs[i]); err != nil {
			s.logger.Warn("message cache write failed", zap.Error(err), zap.Int64("message_id", msgs[i].MessageID))
		}
	}

	s.mu.Lock()
	merged := 0
	for _, msg := range msgs {
		if msg.ConversationID != s.activeID {
			continue
		}
		if s.active != nil {
			s.active.ChatMessages = appendIfAbsent(s.active.ChatMessages, msg)
		} else {
			s.pending = appendIfAbsent(s.pending, msg)
		}
		merged++
	}
	s.mu.Unlock()

	if merged > 0 {
		s.bus.Publish(bus.Event{Kind: bus.KindHistoryMerged, Payload: merged})
	}
}

// HandleReadUpdate reconciles a peer's read cursor against the active
// conversation's messages.
func (s *Session) HandleReadUpdate(u relay.ReadUpdate) {
	type readerSet struct {
		messageID int64
		readers   []int64
	}
	var dirty []readerSet

	s.mu.Lock()
	if u.ConversationID == s.activeID && s.active != nil {
		for _, i := range applyReadUpdate(s.active.ChatMessages, u.ReaderUserID, u.LastReadMessageID) {
			m := s.active.ChatMessages[i]
			dirty = append(dirty, readerSet{
				messageID: m.MessageID,
				readers:   append([]int64(nil), m.ReadUserIDs...),
			})
		}
	}
	s.mu.Unlock()

	for _, d := range dirty {
		if err := s.db.SetMessageReaders(u.ConversationID, d.messageID, d.readers); err != nil {
			s.logger.Warn("receipt cache write failed", zap.Error(err), zap.Int64("message_id", d.messageID))
		}
	}

	if len(dirty) > 0 {
		s.bus.Publish(bus.Event{Kind: bus.KindReceiptUpdated, Payload: u})
	}
}

// SendMessage sanitizes and queues a message for the active conversation.
// There is no optimistic echo: the message shows up when the relay pushes it
// back, so it can never appear twice. Sending snaps the view back to the
// bottom.
func (s *Session) SendMessage(text string) error {
	s.mu.Lock()
	id := s.activeID
	if id == 0 {
		s.mu.Unlock()
		return ErrNoActiveConversation
	}
	s.atBottom = true
	s.mu.Unlock()
	clean := sanitize.HTML(text)
	if err := s.db.QueueOutbox(uuid.New().String(), id, clean); err != nil {
		return fmt.Errorf("queue message: %w", err)
	}
	return nil
}

// ReportScrollOffset records how far the viewer is from the bottom of the
// message list. Beyond the follow threshold, incoming messages stop
// auto-scrolling the view.
func (s *Session) ReportScrollOffset(px int) {
	s.mu.Lock()
	s.atBottom = px <= followThresholdPx
	s.mu.Unlock()
}

// ShouldAutoFollow reports whether the view tracks new messages.
func (s *Session) ShouldAutoFollow() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.atBottom
}

// MarkConversationRead marks a conversation read locally and on the
// backend. List order is untouched: reading never reorders.
func (s *Session) MarkConversationRead(ctx context.Context, id int64) error {
	s.mu.Lock()
	s.markReadLocked(id)
	s.mu.Unlock()
	s.bus.Publish(bus.Event{Kind: bus.KindSummaryUpdated})

	if err := s.api.MarkRead(ctx, id); err != nil {
		metrics.RESTFailuresTotal.WithLabelValues("mark_read").Inc()
		return fmt.Errorf("mark read %d: %w", id, err)
	}
	return nil
}

func (s *Session) markReadLocked(id int64) {
	for _, c := range s.summaries {
		if c.ConversationID == id {
			c.IsRead = true
			c.UnreadCount = 0
			return
		}
	}
}

// CreateConversation creates a conversation in the team and refreshes the
// summary list.
func (s *Session) CreateConversation(ctx context.Context, name string) error {
	if err := s.api.CreateConversation(ctx, s.teamID, name); err != nil {
		metrics.RESTFailuresTotal.WithLabelValues("create").Inc()
		return fmt.Errorf("create conversation: %w", err)
	}
	return s.LoadConversations(ctx)
}

// DeleteConversation removes a conversation everywhere: backend, summary
// list, active detail and cache.
func (s *Session) DeleteConversation(ctx context.Context, id int64) error {
	if err := s.api.DeleteConversation(ctx, id); err != nil {
		metrics.RESTFailuresTotal.WithLabelValues("delete").Inc()
		return fmt.Errorf("delete conversation %d: %w", id, err)
	}

	s.mu.Lock()
	for i, c := range s.summaries {
		if c.ConversationID == id {
			s.summaries = append(s.summaries[:i], s.summaries[i+1:]...)
			break
		}
	}
	if s.activeID == id {
		s.activeID = 0
		s.active = nil
		s.pending = nil
	}
	s.mu.Unlock()

	if err := s.db.DeleteConversation(id); err != nil {
		s.logger.Warn("conversation cache delete failed", zap.Error(err), zap.Int64("conversation_id", id))
	}
	s.bus.Publish(bus.Event{Kind: bus.KindSummaryUpdated})
	return nil
}

// ConversationIDs returns the ids of every loaded conversation, used to
// (re)subscribe the relay.
func (s *Session) ConversationIDs() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, len(s.summaries))
	for i, c := range s.summaries {
		ids[i] = c.ConversationID
	}
	return ids
}
