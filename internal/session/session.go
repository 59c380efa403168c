// Package session wires a terminal front end to a sync engine. All process
// state a session needs travels in a Context built once at startup.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cwrk-planet/pad/config"
	"github.com/cwrk-planet/pad/internal/domain"
	"github.com/cwrk-planet/pad/internal/realtime"
	"github.com/cwrk-planet/pad/internal/store"
	"github.com/cwrk-planet/pad/internal/syncengine"
)

var ErrNotOpen = errors.New("session: no room open")

// Context is the explicit replacement for process globals: who we are, how
// we are configured and how output looks.
type Context struct {
	Identity domain.Identity
	Config   *config.Config
	Theme    Theme
}

// Deps are the collaborators handed to the engine.
type Deps struct {
	Store     store.RoomStore
	Transport realtime.Transport
	Completer syncengine.Completer
	Cache     syncengine.Cache
	Logger    *slog.Logger
}

type Controller struct {
	sc   Context
	deps Deps

	outMu sync.Mutex
	out   io.Writer

	mu          sync.Mutex
	engine      *syncengine.Engine
	lastContent string
	printed     map[string]bool // finalized message ids already shown
	replying    map[string]bool // streaming ids already announced
}

func NewController(sc Context, deps Deps, out io.Writer) *Controller {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Controller{sc: sc, deps: deps, out: out}
}

func (c *Controller) tunables() syncengine.Tunables {
	tun := syncengine.DefaultTunables()
	cfg := c.sc.Config
	if cfg == nil {
		return tun
	}
	tun.SaveDebounce = cfg.SaveDebounce()
	tun.TypingExpiry = cfg.TypingExpiry()
	if cfg.Sync.HistoryWindow > 0 {
		tun.HistoryWindow = cfg.Sync.HistoryWindow
	}
	if cfg.Sync.BroadcastEdits != nil {
		tun.BroadcastEdits = *cfg.Sync.BroadcastEdits
	}
	return tun
}

// Open joins roomID, printing the note and transcript. A controller holds one
// room at a time; opening another closes the current one first.
func (c *Controller) Open(ctx context.Context, roomID string) error {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return domain.ErrEmptyRoomID
	}
	c.Close(ctx)

	c.mu.Lock()
	c.lastContent = ""
	c.printed = make(map[string]bool)
	c.replying = make(map[string]bool)
	c.mu.Unlock()

	e := syncengine.New(syncengine.Options{
		Store:      c.deps.Store,
		Transport:  c.deps.Transport,
		Completer:  c.deps.Completer,
		Cache:      c.deps.Cache,
		Identity:   c.sc.Identity,
		Tunables:   c.tunables(),
		Logger:     c.deps.Logger,
		OnChange:   c.render,
		OnPresence: c.renderPresence,
		OnStatus:   c.renderStatus,
	})

	c.mu.Lock()
	c.engine = e
	c.mu.Unlock()

	if _, err := e.Initialize(ctx, roomID); err != nil {
		c.mu.Lock()
		c.engine = nil
		c.mu.Unlock()
		return err
	}
	c.println(c.sc.Theme.Muted.Render(fmt.Sprintf("joined %s as %s", roomID, c.sc.Identity.Label)))
	return nil
}

func (c *Controller) current() (*syncengine.Engine, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.engine == nil {
		return nil, ErrNotOpen
	}
	return c.engine, nil
}

// Type replaces the whole note.
func (c *Controller) Type(content string) error {
	e, err := c.current()
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.lastContent = content
	c.mu.Unlock()
	e.ApplyLocalEdit(content)
	return nil
}

// Append adds line to the end of the note.
func (c *Controller) Append(line string) error {
	e, err := c.current()
	if err != nil {
		return err
	}
	content := e.Snapshot().Content
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return c.Type(content + line)
}

// Chat sends text to the room chat and blocks until the reply is final.
func (c *Controller) Chat(ctx context.Context, text string) error {
	e, err := c.current()
	if err != nil {
		return err
	}
	return e.SendMessage(ctx, text)
}

// Who prints and returns the other clients in the room.
func (c *Controller) Who() ([]realtime.PresenceMeta, error) {
	e, err := c.current()
	if err != nil {
		return nil, err
	}
	users := e.OnlineUsers()
	if len(users) == 0 {
		c.println(c.sc.Theme.Muted.Render("nobody else is here"))
		return users, nil
	}
	for _, u := range users {
		line := u.ClientLabel
		if u.IsTyping {
			line += " (typing)"
		}
		c.println(c.sc.Theme.User.Render(line))
	}
	return users, nil
}

// Show prints the whole note and transcript.
func (c *Controller) Show() error {
	e, err := c.current()
	if err != nil {
		return err
	}
	room := e.Snapshot()
	c.println(c.noteBlock(room.Content))
	for _, m := range room.Messages {
		if !m.IsStreaming {
			c.println(c.messageLine(m))
		}
	}
	c.println(c.sc.Theme.Muted.Render("status: " + string(e.Status())))
	return nil
}

// Close flushes pending edits and leaves the room. It is safe to call when
// nothing is open.
func (c *Controller) Close(ctx context.Context) {
	c.mu.Lock()
	e := c.engine
	c.engine = nil
	c.mu.Unlock()
	if e != nil {
		e.Teardown(ctx)
	}
}

func (c *Controller) render(room domain.Room) {
	c.mu.Lock()
	noteChanged := room.Content != c.lastContent
	c.lastContent = room.Content
	var lines []string
	for _, m := range room.Messages {
		switch {
		case m.IsStreaming && !c.replying[m.ID]:
			c.replying[m.ID] = true
			lines = append(lines, c.sc.Theme.Muted.Render(m.SenderLabel+" is replying..."))
		case !m.IsStreaming && !c.printed[m.ID]:
			c.printed[m.ID] = true
			lines = append(lines, c.messageLine(m))
		}
	}
	c.mu.Unlock()

	if noteChanged {
		c.println(c.noteBlock(room.Content))
	}
	for _, l := range lines {
		c.println(l)
	}
}

func (c *Controller) renderPresence(members []realtime.PresenceMeta) {
	var typing []string
	for _, m := range members {
		if m.IsTyping {
			typing = append(typing, m.ClientLabel)
		}
	}
	if len(typing) > 0 {
		c.println(c.sc.Theme.Muted.Render(strings.Join(typing, ", ") + " typing..."))
	}
}

func (c *Controller) renderStatus(s realtime.Status) {
	c.println(c.sc.Theme.Muted.Render("connection: " + string(s)))
}

func (c *Controller) noteBlock(content string) string {
	if content == "" {
		content = "(empty note)"
	}
	return c.sc.Theme.Note.Render(content)
}

func (c *Controller) messageLine(m domain.Message) string {
	ts := time.UnixMilli(m.Timestamp).Format("15:04")
	label := m.SenderLabel
	style := c.sc.Theme.User
	switch {
	case m.Role == domain.RoleModel:
		style = c.sc.Theme.Model
		if label == "" {
			label = domain.AIIdentity.Label
		}
	case m.Role == domain.RoleSystem:
		style = c.sc.Theme.System
	case m.SenderID == c.sc.Identity.ID:
		style = c.sc.Theme.Self
	}
	return style.Render(fmt.Sprintf("[%s] %s: %s", ts, label, m.Text))
}

func (c *Controller) println(s string) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	fmt.Fprintln(c.out, s)
}
