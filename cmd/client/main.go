package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/cwrk-planet/pad/config"
	"github.com/cwrk-planet/pad/internal/ai"
	"github.com/cwrk-planet/pad/internal/cache"
	"github.com/cwrk-planet/pad/internal/domain"
	"github.com/cwrk-planet/pad/internal/identity"
	memhub "github.com/cwrk-planet/pad/internal/realtime/memory"
	"github.com/cwrk-planet/pad/internal/session"
	memstore "github.com/cwrk-planet/pad/internal/store/memory"
	"github.com/cwrk-planet/pad/internal/storeclient"
	"github.com/cwrk-planet/pad/internal/syncengine"
	"github.com/cwrk-planet/pad/internal/transport/wsclient"
	"github.com/cwrk-planet/pad/pkg/logger"
)

const help = `commands:
  /note <text>    replace the note
  /append <text>  add a line to the note (plain lines do the same)
  /chat <text>    ask the room chat; the AI answers
  /who            list who else is here
  /show           print the note and transcript
  /open <room>    switch rooms
  /quit           leave`

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logOut, closeLog := openLog(cfg)
	defer closeLog()
	level, err := logger.ParseLevel(cfg.Logging.Level)
	if err != nil {
		log.Fatalf("logging: %v", err)
	}
	logger.Init(logger.Config{
		Env:       logger.ParseEnv(cfg.Logging.Env),
		Service:   "pad-client",
		Version:   cfg.Logging.Version,
		Backend:   logger.Backend(cfg.Logging.Backend),
		Level:     level,
		AddSource: cfg.Logging.AddSource,
		Debug:     cfg.Logging.Debug,
		Output:    logOut,
	})

	me, err := identity.LoadOrCreate(cfg.Identity.Path)
	if err != nil {
		log.Fatalf("identity: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps := session.Deps{Logger: slog.Default()}

	if c, err := cache.Open(cfg.Cache.Path); err != nil {
		slog.Warn("fallback cache disabled", "err", err)
	} else {
		defer c.Close()
		if n, err := c.Prune(ctx, time.Now().Add(-cfg.CacheMaxAge())); err != nil {
			slog.Warn("cache prune failed", "err", err)
		} else if n > 0 {
			slog.Info("cache pruned", "rows", n)
		}
		deps.Cache = c
	}

	if err := connect(cfg, me, &deps); err != nil {
		log.Fatalf("connect: %v", err)
	}

	if !cfg.AI.Disabled {
		var completer syncengine.Completer = ai.New(ai.Config{
			BaseURL:      cfg.AI.BaseURL,
			Model:        cfg.AI.Model,
			Timeout:      cfg.AITimeout(),
			SystemPrompt: cfg.AI.SystemPrompt,
			Temperature:  cfg.AI.Temperature,
		}, slog.Default())
		deps.Completer = completer
	}

	ctrl := session.NewController(session.Context{
		Identity: me,
		Config:   cfg,
		Theme:    session.DefaultTheme(),
	}, deps, os.Stdout)

	var room string
	if len(os.Args) > 1 {
		room = os.Args[1]
	} else {
		room = uuid.NewString()[:8]
		fmt.Printf("new room %s; share it with: pad-client %s\n", room, room)
	}
	if err := ctrl.Open(ctx, room); err != nil {
		log.Fatalf("open room: %v", err)
	}
	fmt.Println(help)

	run(ctx, ctrl, os.Stdin)

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ctrl.Close(closeCtx)
}

// connect picks the room store and transport: the pad server, or an
// in-process pair when server.local is set.
func connect(cfg *config.Config, me domain.Identity, deps *session.Deps) error {
	if cfg.Server.Local {
		slog.Info("local mode, nothing leaves this process")
		deps.Store = memstore.New()
		deps.Transport = memhub.NewHub()
		return nil
	}

	rt, err := wsclient.New(wsclient.Config{BaseURL: cfg.Server.URL, Identity: me, Logger: slog.Default()})
	if err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	rooms, err := storeclient.New(cfg.Server.URL, rt, 10*time.Second)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	deps.Store = rooms
	deps.Transport = rt
	return nil
}

func run(ctx context.Context, ctrl *session.Controller, in io.Reader) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		sc.Buffer(make([]byte, 64*1024), 1<<20)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := handle(ctx, ctrl, line); quit {
				return
			}
		}
	}
}

func handle(ctx context.Context, ctrl *session.Controller, line string) (quit bool) {
	cmd, arg := line, ""
	if strings.HasPrefix(line, "/") {
		if i := strings.IndexByte(line, ' '); i >= 0 {
			cmd, arg = line[:i], strings.TrimSpace(line[i+1:])
		}
	} else {
		cmd, arg = "/append", line
	}

	var err error
	switch cmd {
	case "/note":
		err = ctrl.Type(arg)
	case "/append":
		if arg != "" {
			err = ctrl.Append(arg)
		}
	case "/chat":
		err = ctrl.Chat(ctx, arg)
	case "/who":
		_, err = ctrl.Who()
	case "/show":
		err = ctrl.Show()
	case "/open":
		err = ctrl.Open(ctx, arg)
	case "/help":
		fmt.Println(help)
	case "/quit", "/exit":
		return true
	default:
		fmt.Printf("unknown command %s, try /help\n", cmd)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
	}
	return false
}

// openLog sends client logs to a file so they stay out of the pad output.
func openLog(cfg *config.Config) (io.Writer, func()) {
	path := cfg.Logging.File
	if path == "" {
		path = filepath.Join(filepath.Dir(cfg.Cache.Path), "client.log")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return io.Discard, func() {}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return io.Discard, func() {}
	}
	return f, func() { _ = f.Close() }
}
