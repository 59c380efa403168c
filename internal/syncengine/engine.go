// Package syncengine keeps one client's view of a room converged with the
// store and with peers on the same topic.
//
// Convergence has three parts: typing suppression (remote content is not
// applied while the local user types), debounced persistence with
// fingerprint diffing, and last-writer-wins on UpdatedAt. Concurrent writers
// in the same debounce window lose data silently; that is the accepted
// tradeoff of having no CRDT/OT.
package syncengine

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cwrk-planet/pad/internal/domain"
	"github.com/cwrk-planet/pad/internal/realtime"
	"github.com/cwrk-planet/pad/internal/store"
)

var (
	ErrNotInitialized = errors.New("syncengine: room not initialized")
	ErrStreamInFlight = errors.New("syncengine: a reply is already streaming")
	ErrEmptyMessage   = errors.New("syncengine: empty message")
)

const (
	DefaultSaveDebounce  = 500 * time.Millisecond
	DefaultTypingExpiry  = 1500 * time.Millisecond
	DefaultHistoryWindow = 12

	notConfiguredText = "The AI assistant is not configured for this pad."
	ioTimeout         = 10 * time.Second
)

// Completer streams an assistant reply. onChunk receives the cumulative text.
// Failures come back as the returned text, never as an error.
type Completer interface {
	StreamCompletion(ctx context.Context, history []domain.Message, documentContext, prompt string, onChunk func(string)) string
}

// Cache is the local fallback used when the store cannot be reached.
type Cache interface {
	Get(ctx context.Context, id string) (domain.Room, error)
	Put(ctx context.Context, room domain.Room) error
}

type Tunables struct {
	SaveDebounce   time.Duration
	TypingExpiry   time.Duration
	HistoryWindow  int
	BroadcastEdits bool
}

func DefaultTunables() Tunables {
	return Tunables{
		SaveDebounce:   DefaultSaveDebounce,
		TypingExpiry:   DefaultTypingExpiry,
		HistoryWindow:  DefaultHistoryWindow,
		BroadcastEdits: true,
	}
}

type Options struct {
	Store     store.RoomStore
	Transport realtime.Transport
	Completer Completer
	Cache     Cache
	Identity  domain.Identity
	Tunables  Tunables
	Clock     func() time.Time
	Logger    *slog.Logger

	OnChange   func(domain.Room)
	OnPresence func([]realtime.PresenceMeta)
	OnStatus   func(realtime.Status)
}

type Engine struct {
	store     store.RoomStore
	transport realtime.Transport
	completer Completer
	cache     Cache
	identity  domain.Identity
	tun       Tunables
	now       func() time.Time
	log       *slog.Logger

	onChange   func(domain.Room)
	onPresence func([]realtime.PresenceMeta)
	onStatus   func(realtime.Status)

	saver  *debouncer
	typist *debouncer

	// persistMu orders store writes so an older snapshot never lands after a
	// newer one from the same client.
	persistMu sync.Mutex
	emitMu    sync.Mutex

	mu                 sync.Mutex
	room               domain.Room
	typing             bool
	lastFingerprint    string
	lastPersistedAt    int64
	// pendingFingerprint is the snapshot currently being written, if any.
	pendingFingerprint string
	ownedStreamID      string
	online             []realtime.PresenceMeta
	status             realtime.Status
	joinedAt           int64
	topic              realtime.Topic
	unsubscribe        func()
	closed             bool
}

func New(opts Options) *Engine {
	tun := opts.Tunables
	def := DefaultTunables()
	if tun.SaveDebounce <= 0 {
		tun.SaveDebounce = def.SaveDebounce
	}
	if tun.TypingExpiry <= 0 {
		tun.TypingExpiry = def.TypingExpiry
	}
	if tun.HistoryWindow <= 0 {
		tun.HistoryWindow = def.HistoryWindow
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	e := &Engine{
		store:      opts.Store,
		transport:  opts.Transport,
		completer:  opts.Completer,
		cache:      opts.Cache,
		identity:   opts.Identity,
		tun:        tun,
		now:        now,
		log:        log.With("component", "syncengine", "client", opts.Identity.ID),
		onChange:   opts.OnChange,
		onPresence: opts.OnPresence,
		onStatus:   opts.OnStatus,
		status:     realtime.StatusConnecting,
	}
	e.saver = newDebouncer(tun.SaveDebounce, e.persistPending)
	e.typist = newDebouncer(tun.TypingExpiry, e.typingExpired)
	return e
}

// Initialize loads the room, creating it on first visit, and subscribes to
// the store change feed and the room topic. It only fails on an empty id;
// collaborator failures degrade to the cached or default snapshot. A default
// that the store did not confirm as absent stays local until the first edit.
func (e *Engine) Initialize(ctx context.Context, roomID string) (domain.Room, error) {
	if roomID == "" {
		return domain.Room{}, domain.ErrEmptyRoomID
	}
	e.log = e.log.With("room", roomID)

	e.mu.Lock()
	e.room = domain.Room{ID: roomID}
	e.joinedAt = e.now().UnixMilli()
	e.mu.Unlock()

	// Subscribe before loading: a notification that lands while Get is in
	// flight is merged with the loaded copy below instead of being lost.
	unsubscribe := e.store.SubscribeToChanges(roomID, func(r domain.Room) {
		e.ApplyRemoteUpdate(r, OriginStoreChange)
	})

	loaded, src := e.load(ctx, roomID)

	e.mu.Lock()
	e.unsubscribe = unsubscribe
	if e.room.UpdatedAt > 0 {
		e.room = domain.Merge(loaded, e.room)
	} else {
		e.room = loaded
	}
	// An unconfirmed snapshot becomes the baseline without a write time, so
	// neither the debouncer nor Teardown writes it back until a local change.
	e.lastFingerprint = domain.Fingerprint(loaded)
	if src == sourceStore || src == sourceCreated {
		e.lastPersistedAt = loaded.UpdatedAt
	}
	snap := e.room.Clone()
	e.mu.Unlock()

	e.cachePut(snap)

	e.openTopic(ctx, roomID)
	e.emitChange(snap)

	e.log.Info("room initialized", "source", src.String(), "messages", len(snap.Messages))
	return snap, nil
}

type loadSource int

const (
	sourceStore loadSource = iota
	sourceCreated
	sourceCache
	sourceDefault
)

func (s loadSource) String() string {
	switch s {
	case sourceStore:
		return "store"
	case sourceCreated:
		return "created"
	case sourceCache:
		return "cache"
	default:
		return "default"
	}
}

func (e *Engine) load(ctx context.Context, roomID string) (domain.Room, loadSource) {
	room, err := e.store.Get(ctx, roomID)
	switch {
	case err == nil:
		return room, sourceStore
	case errors.Is(err, domain.ErrRoomNotFound):
		return e.create(ctx, roomID)
	case errors.Is(err, domain.ErrMalformedSnapshot):
		e.log.Warn("stored snapshot is malformed, starting from a local default", "err", err)
		return domain.NewDefaultRoom(roomID, e.now()), sourceDefault
	}

	e.log.Warn("room store unavailable", "err", err)
	if e.cache != nil {
		if cached, cerr := e.cache.Get(ctx, roomID); cerr == nil {
			return cached, sourceCache
		} else if !errors.Is(cerr, domain.ErrRoomNotFound) {
			e.log.Warn("fallback cache read failed", "err", cerr)
		}
	}
	return domain.NewDefaultRoom(roomID, e.now()), sourceDefault
}

func (e *Engine) create(ctx context.Context, roomID string) (domain.Room, loadSource) {
	def := domain.NewDefaultRoom(roomID, e.now())
	err := e.store.InsertIfAbsent(ctx, def)
	if err == nil {
		return def, sourceCreated
	}
	if errors.Is(err, domain.ErrRoomExists) {
		// Lost the creation race; the winner's row is authoritative.
		room, gerr := e.store.Get(ctx, roomID)
		if gerr == nil {
			return room, sourceStore
		}
		e.log.Warn("re-read after lost create failed", "err", gerr)
		return def, sourceDefault
	}
	e.log.Warn("room create failed", "err", err)
	return def, sourceDefault
}

func (e *Engine) openTopic(ctx context.Context, roomID string) {
	if e.transport == nil {
		e.handleStatus(realtime.StatusDisconnected)
		return
	}
	topic, err := e.transport.OpenTopic(ctx, roomID)
	if err != nil {
		e.log.Warn("open topic failed", "err", err)
		e.handleStatus(realtime.StatusDisconnected)
		return
	}

	topic.OnBroadcast(e.handleBroadcast)
	topic.OnPresenceSync(func(members []realtime.PresenceMeta) {
		e.Dispatch(Event{Kind: PresenceChanged, Presence: members})
	})
	topic.OnConnectionStatusChange(func(s realtime.Status) {
		e.Dispatch(Event{Kind: ConnectionChanged, Status: s})
	})

	e.mu.Lock()
	e.topic = topic
	e.mu.Unlock()

	e.UpdatePresence(false)
}

// ApplyLocalEdit is called on every keystroke with the full note content.
func (e *Engine) ApplyLocalEdit(content string) {
	e.mu.Lock()
	if e.room.ID == "" || e.closed {
		e.mu.Unlock()
		return
	}
	e.room.Content = content
	e.room.UpdatedAt = e.now().UnixMilli()
	editor := e.identity
	e.room.LastEditor = &editor
	startedTyping := !e.typing
	e.typing = true
	snap := e.room.Clone()
	e.mu.Unlock()

	e.emitChange(snap)
	e.typist.Trigger()
	e.saver.Trigger()

	if startedTyping {
		e.UpdatePresence(true)
	}
	if e.tun.BroadcastEdits {
		e.broadcast(realtime.EventContentChanged, contentPayload{
			Content:    snap.Content,
			UpdatedAt:  snap.UpdatedAt,
			LastEditor: snap.LastEditor,
		})
	}
}

func (e *Engine) typingExpired() {
	e.mu.Lock()
	if !e.typing || e.closed {
		e.mu.Unlock()
		return
	}
	e.typing = false
	e.mu.Unlock()

	e.UpdatePresence(false)
}

// ApplyRemoteUpdate reconciles a full snapshot received from a peer or from
// the store change feed.
func (e *Engine) ApplyRemoteUpdate(incoming domain.Room, origin Origin) {
	e.mu.Lock()
	if e.closed || incoming.ID != e.room.ID {
		e.mu.Unlock()
		return
	}
	if err := incoming.Validate(); err != nil {
		e.mu.Unlock()
		e.log.Warn("remote snapshot rejected", "origin", origin.String(), "err", err)
		return
	}

	if origin == OriginStoreChange && e.isOwnWrite(incoming) {
		e.mu.Unlock()
		return
	}

	before := domain.Fingerprint(e.room)
	beforeAt := e.room.UpdatedAt

	switch {
	case e.typing:
		// Content stays untouched so the caret does not move; chat still merges.
		e.room.Messages = e.withOwnedStream(domain.MergeMessages(e.room.Messages, incoming.Messages))
	case domain.Newer(e.room, incoming):
		next := incoming.Clone()
		if next.Messages == nil {
			next.Messages = []domain.Message{}
		}
		next.Messages = e.withOwnedStream(domain.KeepFinalized(next.Messages, e.room.Messages))
		e.room = next
		if origin == OriginStoreChange {
			e.lastFingerprint = domain.Fingerprint(incoming)
			e.lastPersistedAt = incoming.UpdatedAt
		}
	}

	changed := domain.Fingerprint(e.room) != before || e.room.UpdatedAt != beforeAt
	snap := e.room.Clone()
	e.mu.Unlock()

	if changed {
		e.emitChange(snap)
		e.cachePut(snap)
	}
}

// isOwnWrite reports whether a change notification echoes a snapshot this
// engine is persisting or has persisted. A row with our last content but a
// later UpdatedAt came from someone else and goes through LWW like any other.
// Caller holds e.mu.
func (e *Engine) isOwnWrite(incoming domain.Room) bool {
	fp := domain.Fingerprint(incoming)
	if e.pendingFingerprint != "" && fp == e.pendingFingerprint {
		return true
	}
	return e.lastFingerprint != "" && fp == e.lastFingerprint && incoming.UpdatedAt <= e.lastPersistedAt
}

// applyRemoteMessages merges a broadcast message list. Chat is append-mostly,
// so lists are unioned rather than resolved by timestamp.
func (e *Engine) applyRemoteMessages(msgs []domain.Message) {
	e.mu.Lock()
	if e.closed || e.room.ID == "" {
		e.mu.Unlock()
		return
	}
	if err := (domain.Room{ID: e.room.ID, Messages: msgs}).Validate(); err != nil {
		e.mu.Unlock()
		e.log.Warn("remote messages rejected", "err", err)
		return
	}

	before := domain.Fingerprint(e.room)
	e.room.Messages = e.withOwnedStream(domain.MergeMessages(e.room.Messages, msgs))
	changed := domain.Fingerprint(e.room) != before
	snap := e.room.Clone()
	e.mu.Unlock()

	if changed {
		e.emitChange(snap)
	}
}

// withOwnedStream re-inserts the locally streaming reply. Caller holds e.mu.
func (e *Engine) withOwnedStream(msgs []domain.Message) []domain.Message {
	if e.ownedStreamID == "" {
		return msgs
	}
	i := e.room.MessageIndex(e.ownedStreamID)
	if i < 0 {
		return msgs
	}
	return domain.SpliceStreaming(msgs, e.room.Messages[i])
}

// SendMessage appends the user's chat message, persists it immediately and
// streams the assistant reply into a placeholder message. It blocks until the
// reply is finalized.
func (e *Engine) SendMessage(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	e.mu.Lock()
	if e.room.ID == "" || e.closed {
		e.mu.Unlock()
		return ErrNotInitialized
	}
	if e.ownedStreamID != "" {
		e.mu.Unlock()
		return ErrStreamInFlight
	}
	now := e.now()
	history := domain.RecentHistory(e.room.Messages, e.tun.HistoryWindow)
	e.room.Messages = append(e.room.Messages, domain.NewUserMessage(e.identity, text, now))
	e.room.UpdatedAt = now.UnixMilli()
	reply := domain.NewStreamingReply(now)
	e.ownedStreamID = reply.ID
	snap := e.room.Clone()
	e.mu.Unlock()

	e.emitChange(snap)
	e.persist(ctx, true)
	e.broadcastMessages()

	e.mu.Lock()
	e.room.Messages = append(e.room.Messages, reply)
	documentContext := e.room.Content
	snap = e.room.Clone()
	e.mu.Unlock()

	e.emitChange(snap)
	e.broadcastMessages()

	final := notConfiguredText
	if e.completer != nil {
		final = e.completer.StreamCompletion(ctx, history, documentContext, text, func(cumulative string) {
			e.updateReply(reply, cumulative, true)
		})
	}
	e.updateReply(reply, final, false)

	e.persist(ctx, true)
	e.broadcastMessages()
	return nil
}

func (e *Engine) updateReply(reply domain.Message, text string, streaming bool) {
	e.mu.Lock()
	i := e.room.MessageIndex(reply.ID)
	if i < 0 {
		e.room.Messages = append(e.room.Messages, reply)
		i = len(e.room.Messages) - 1
	}
	e.room.Messages[i].Text = text
	e.room.Messages[i].IsStreaming = streaming
	if !streaming {
		e.ownedStreamID = ""
		e.room.UpdatedAt = e.now().UnixMilli()
	}
	snap := e.room.Clone()
	e.mu.Unlock()

	e.emitChange(snap)
	if streaming {
		e.broadcastMessages()
	}
}

// persistPending is the debounce callback.
func (e *Engine) persistPending() {
	ctx, cancel := context.WithTimeout(context.Background(), ioTimeout)
	defer cancel()
	e.persist(ctx, false)
}

// persist writes the current snapshot. Unless force is set the write is
// skipped when the fingerprint matches the last persisted one. Failures are
// logged; the next debounce cycle retries because the fingerprint still
// differs.
func (e *Engine) persist(ctx context.Context, force bool) {
	e.persistMu.Lock()
	defer e.persistMu.Unlock()

	e.mu.Lock()
	snap := e.room.Clone()
	fp := domain.Fingerprint(snap)
	skip := snap.ID == "" || (!force && fp == e.lastFingerprint)
	if !skip {
		e.pendingFingerprint = fp
	}
	e.mu.Unlock()

	if skip {
		return
	}

	stored, err := e.store.Upsert(ctx, snap)

	e.mu.Lock()
	e.pendingFingerprint = ""
	if err == nil {
		e.lastFingerprint = fp
		e.lastPersistedAt = stored.UpdatedAt
	}
	e.mu.Unlock()

	if err != nil {
		e.log.Warn("persist failed", "err", err)
		return
	}

	e.cachePut(stored)
	e.log.Debug("room persisted", "updated_at", stored.UpdatedAt, "forced", force)
}

// Teardown stops timers, flushes a pending save and leaves the topic. An
// in-flight write is allowed to finish.
func (e *Engine) Teardown(ctx context.Context) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	topic, unsubscribe := e.topic, e.unsubscribe
	e.topic, e.unsubscribe = nil, nil
	e.mu.Unlock()

	e.typist.Stop()
	e.saver.Stop()
	e.persist(ctx, false)

	if unsubscribe != nil {
		unsubscribe()
	}
	if topic != nil {
		if err := topic.Close(); err != nil {
			e.log.Debug("close topic failed", "err", err)
		}
	}
	e.log.Info("room session closed")
}

// Snapshot returns a copy of the local working snapshot.
func (e *Engine) Snapshot() domain.Room {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.room.Clone()
}

func (e *Engine) IsTyping() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.typing
}

func (e *Engine) Status() realtime.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

func (e *Engine) Identity() domain.Identity {
	return e.identity
}

func (e *Engine) emitChange(room domain.Room) {
	if e.onChange == nil {
		return
	}
	e.emitMu.Lock()
	defer e.emitMu.Unlock()
	e.onChange(room)
}

func (e *Engine) cachePut(room domain.Room) {
	if e.cache == nil || room.ID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), ioTimeout)
	defer cancel()
	if err := e.cache.Put(ctx, room); err != nil {
		e.log.Debug("fallback cache write failed", "err", err)
	}
}
