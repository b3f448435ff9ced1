package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/chime-im/chime/internal/config"
	"github.com/chime-im/chime/internal/dispatch"
	"github.com/chime-im/chime/internal/logging"
	"github.com/chime-im/chime/internal/protocol"
	"github.com/chime-im/chime/internal/protocol/loopback"
	"github.com/chime-im/chime/internal/scrollback"
	"github.com/chime-im/chime/internal/state"
	"github.com/chime-im/chime/internal/tui"
)

func run(ctx context.Context, opts *options) error {
	loader := config.NewLoader(opts.configFile)
	cfg, err := loader.Load()
	if err != nil {
		return err
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if opts.cachePath != "" {
		cfg.Cache.Path = opts.cachePath
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	// The TUI owns stdout and stderr, so logs go to a file.
	logFile, err := os.OpenFile(cfg.LogFile(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()
	logging.Init(logging.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		Output:       logFile,
		EnableCaller: cfg.Logging.EnableCaller,
	})
	log := logging.Component("cli")
	if used := loader.ConfigFileUsed(); used != "" {
		log.Info().Str("config", used).Msg("loaded config file")
	}

	creds, err := resolveCredentials(ctx, cfg)
	if err != nil {
		return err
	}

	svc, self, err := buildService(cfg, creds, opts.demo)
	if err != nil {
		return err
	}

	registry := state.NewRegistry()
	var archiver dispatch.Archiver
	if !cfg.Cache.Disabled {
		store, err := scrollback.Open(cfg.CachePath())
		if err != nil {
			return fmt.Errorf("open scrollback cache: %w", err)
		}
		defer store.Close()

		if cached, err := store.LoadRooms(ctx, cfg.Cache.MessageLimit); err != nil {
			log.Warn().Err(err).Msg("could not restore scrollback, starting empty")
		} else {
			seedRegistry(registry, cached)
		}

		writer := scrollback.NewWriter(store)
		defer writer.Close()
		archiver = writer
	}

	renderer := &tui.ProgramRenderer{}
	dispatcher := dispatch.New(dispatch.Config{
		Service:  svc,
		Renderer: renderer,
		Self:     self,
		Registry: registry,
		Archiver: archiver,
		PageSize: cfg.Sync.PageSize,
	})

	model := tui.NewModel(tui.Config{
		Events:         dispatcher.LocalEvents(),
		TickInterval:   cfg.Sync.TickInterval,
		RoomStripWidth: cfg.TUI.RoomStripWidth,
		ShowTimestamps: cfg.TUI.ShowTimestamps,
	})
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	renderer.Attach(program)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	dispatchErr := make(chan error, 1)
	go func() {
		err := dispatcher.Run(runCtx)
		dispatchErr <- err
		program.Quit()
	}()

	_, uiErr := program.Run()
	cancel()
	loopErr := <-dispatchErr

	log.Info().Msg("shutting down")
	if uiErr != nil {
		return fmt.Errorf("terminal: %w", uiErr)
	}
	if loopErr != nil && !errors.Is(loopErr, context.Canceled) {
		return fmt.Errorf("dispatcher: %w", loopErr)
	}
	return nil
}

func buildService(cfg *config.Config, creds protocol.Credentials, demo bool) (protocol.Service, protocol.UserID, error) {
	switch cfg.Server.Transport {
	case config.TransportLoopback:
		self := creds.User
		if self == "" {
			self = "@you:local"
		}
		var opts []loopback.Option
		if demo {
			opts = append(opts, loopback.WithChatter(4*time.Second))
		}
		svc := loopback.NewService(self, opts...)
		if demo {
			seedDemoRooms(svc, self)
		}
		return svc, self, nil
	default:
		return nil, "", fmt.Errorf("unknown transport %q", cfg.Server.Transport)
	}
}

// seedRegistry preloads rooms and messages restored from the cache, so the
// screen is populated before the first live event arrives.
func seedRegistry(registry *state.Registry, cached []scrollback.CachedRoom) {
	for _, cr := range cached {
		room := registry.Upsert(cr.ID, cr.Name)
		for _, msg := range cr.Messages {
			room.AddLive(msg)
		}
		room.Unread = cr.Unread
	}
}

func seedDemoRooms(svc *loopback.Service, self protocol.UserID) {
	now := time.Now()
	svc.Seed("!lobby:local", "lobby", 2, []protocol.Message{
		{ID: "$demo-1", Sender: "@ada:local", Body: "anyone around?", Timestamp: now.Add(-3 * time.Minute)},
		{ID: "$demo-2", Sender: "@grace:local", Body: "just got here", Timestamp: now.Add(-2 * time.Minute)},
		{ID: "$demo-3", Sender: "@ada:local", Body: "welcome " + self.Localpart(), Timestamp: now.Add(-time.Minute)},
	})
	svc.Seed("!dev:local", "dev", 0, []protocol.Message{
		{ID: "$demo-4", Sender: "@grace:local", Body: "build is green again", Timestamp: now.Add(-10 * time.Minute)},
	})
	svc.Seed("!random:local", "random", 0, nil)
}
