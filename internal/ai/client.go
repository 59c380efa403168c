// Package ai streams assistant replies from an Ollama-compatible /api/chat
// endpoint. Failures never reach the caller as errors: they are turned into a
// readable reply so the chat message lifecycle always completes.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cwrk-planet/pad/internal/domain"
)

type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindNotRunning
	KindTimeout
	KindModelNotFound
	KindHTTP
	KindStream
)

// Error is the classified failure behind a fallback reply.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

type Config struct {
	BaseURL string
	Model   string
	// Timeout bounds a whole completion including the stream.
	Timeout      time.Duration
	SystemPrompt string
	Temperature  float64
}

const (
	defaultBaseURL = "http://127.0.0.1:11434"
	defaultModel   = "llama3.2"
	defaultTimeout = 2 * time.Minute

	DefaultSystemPrompt = "You are a helpful assistant embedded in a shared note pad. " +
		"Answer concisely. The users are looking at the following note:"
)

type Client struct {
	cfg  Config
	http *http.Client
	log  *slog.Logger
}

func New(cfg Config, log *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		cfg: cfg,
		// No client-level timeout: it would cut long streams. The request
		// context carries the deadline instead.
		http: &http.Client{},
		log:  log.With("component", "ai", "model", cfg.Model),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  *chatOptions  `json:"options,omitempty"`
}

type apiError struct {
	Error string `json:"error"`
}

// StreamCompletion asks for a reply to prompt. onChunk receives the
// cumulative text after every streamed fragment. The returned string is the
// final reply or, on failure, a message describing what went wrong.
func (c *Client) StreamCompletion(ctx context.Context, history []domain.Message, documentContext, prompt string, onChunk func(string)) string {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	text, err := c.stream(ctx, c.buildRequest(history, documentContext, prompt), onChunk)
	if err != nil {
		c.log.Warn("completion failed", "err", err)
		return Describe(err, text)
	}
	return text
}

func (c *Client) buildRequest(history []domain.Message, documentContext, prompt string) chatRequest {
	system := c.cfg.SystemPrompt
	if strings.TrimSpace(documentContext) == "" {
		system += "\n\n(the note is empty)"
	} else {
		system += "\n\n" + documentContext
	}

	msgs := make([]chatMessage, 0, len(history)+2)
	msgs = append(msgs, chatMessage{Role: "system", Content: system})
	for _, m := range history {
		if m.IsStreaming {
			continue
		}
		switch m.Role {
		case domain.RoleUser:
			msgs = append(msgs, chatMessage{Role: "user", Content: m.Text})
		case domain.RoleModel:
			msgs = append(msgs, chatMessage{Role: "assistant", Content: m.Text})
		}
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: prompt})

	req := chatRequest{Model: c.cfg.Model, Messages: msgs, Stream: true}
	if c.cfg.Temperature > 0 {
		req.Options = &chatOptions{Temperature: c.cfg.Temperature}
	}
	return req
}

// stream returns the accumulated text even when it fails part way.
func (c *Client) stream(ctx context.Context, body chatRequest, onChunk func(string)) (string, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return "", &Error{Kind: KindUnknown, Message: "encode request", Cause: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/api/chat", bytes.NewReader(raw))
	if err != nil {
		return "", &Error{Kind: KindUnknown, Message: "build request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", classifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr apiError
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		msg := apiErr.Error
		if msg == "" {
			msg = resp.Status
		}
		kind := KindHTTP
		if resp.StatusCode == http.StatusNotFound {
			kind = KindModelNotFound
		}
		return "", &Error{Kind: kind, Message: msg}
	}

	sr := newStreamReader(resp.Body)
	if err := sr.Process(ctx, func(cumulative string) {
		if onChunk != nil {
			onChunk(cumulative)
		}
	}); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return sr.Text(), &Error{Kind: KindTimeout, Message: "stream interrupted", Cause: err}
		}
		return sr.Text(), &Error{Kind: KindStream, Message: "stream failed", Cause: err}
	}
	return sr.Text(), nil
}

func classifyTransport(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Message: "request timed out", Cause: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindTimeout, Message: "request timed out", Cause: err}
	}
	return &Error{Kind: KindNotRunning, Message: "assistant is not reachable", Cause: err}
}

// Describe renders err as the reply text shown in the chat. partial is the
// text streamed before the failure, kept so nothing already shown vanishes.
func Describe(err error, partial string) string {
	var msg string
	var aerr *Error
	if !errors.As(err, &aerr) {
		msg = "⚠️ The assistant failed: " + err.Error()
	} else {
		switch aerr.Kind {
		case KindNotRunning:
			msg = "⚠️ The assistant is not reachable right now. Is the model server running?"
		case KindTimeout:
			msg = "⚠️ The assistant took too long to answer."
		case KindModelNotFound:
			msg = fmt.Sprintf("⚠️ The assistant model is not installed (%s).", aerr.Message)
		case KindHTTP:
			msg = "⚠️ The assistant returned an error: " + aerr.Message
		case KindStream:
			msg = "⚠️ The answer was cut off."
		default:
			msg = "⚠️ The assistant failed: " + aerr.Error()
		}
	}
	if partial == "" {
		return msg
	}
	return partial + "\n\n" + msg
}
