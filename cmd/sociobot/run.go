package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/zulandar/sociobot/internal/acl"
	"github.com/zulandar/sociobot/internal/agent"
	"github.com/zulandar/sociobot/internal/breaker"
	"github.com/zulandar/sociobot/internal/config"
	"github.com/zulandar/sociobot/internal/cursor"
	"github.com/zulandar/sociobot/internal/db"
	"github.com/zulandar/sociobot/internal/discord"
	"github.com/zulandar/sociobot/internal/relay"
	"github.com/zulandar/sociobot/internal/statusserver"
)

type runFlags struct {
	configPath   string
	noMonitoring bool
	noAgent      bool
	noDiscord    bool
	scope        string
	showBacklog  bool
	clearBacklog bool
	debug        bool
}

// app holds the wired components for one agent.
type app struct {
	agent        string
	cfg          *config.Config
	scope        relay.Scope
	platform     *discord.Platform
	cursors      cursor.Store
	recorder     *db.Recorder // nil with file persistence
	breaker      *breaker.Breaker
	gate         *breaker.Gate
	loadGuard    *breaker.LoadGuard
	engine       *relay.Engine
	closeStorage func()
}

func runAgent(cmd *cobra.Command, agentName string, f runFlags) error {
	out := cmd.OutOrStdout()

	scope, err := relay.ParseScope(f.scope)
	if err != nil {
		return err
	}
	path, err := config.ResolvePath(f.configPath)
	if err != nil {
		return err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	rt, err := build(cfg, agentName, scope, f)
	if err != nil {
		return err
	}
	defer rt.closeStorage()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			fmt.Fprintf(out, "\nReceived %s, shutting down...\n", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	switch {
	case f.showBacklog:
		return rt.oneShot(ctx, func(ctx context.Context) error {
			return rt.engine.ShowBacklog(ctx, rt.scope, out, previewWidth(out))
		})
	case f.clearBacklog:
		return rt.oneShot(ctx, func(ctx context.Context) error {
			if err := rt.engine.ClearBacklog(ctx, rt.scope); err != nil {
				return err
			}
			fmt.Fprintf(out, "Backlog cleared (%s)\n", rt.scope)
			return nil
		})
	}
	return rt.serve(ctx, out, f.noMonitoring)
}

// build wires the components described by cfg without touching the
// network.
func build(cfg *config.Config, agentName string, scope relay.Scope, f runFlags) (*app, error) {
	rt := &app{agent: agentName, cfg: cfg, scope: scope, closeStorage: func() {}}

	if cfg.Persistence.Driver == config.DriverFile {
		rt.cursors = cursor.NewFileStore(cfg.Persistence.Dir)
	} else {
		gormDB, err := db.Open(cfg.Persistence)
		if err != nil {
			return nil, fmt.Errorf("open %s persistence: %w", cfg.Persistence.Driver, err)
		}
		rt.cursors = cursor.NewDBStore(gormDB)
		rt.recorder = db.NewRecorder(gormDB)
		rt.closeStorage = func() {
			if sqlDB, err := gormDB.DB(); err == nil {
				sqlDB.Close()
			}
		}
	}

	rt.breaker = breaker.New(cfg.MaxFailures)
	rt.gate = breaker.NewGate(cfg.MaxConcurrent)
	rt.loadGuard = breaker.NewLoadGuard(cfg.MaxLoadAverage, time.Duration(cfg.LoadCheckIntervalSec)*time.Second, rt.breaker)

	platform, err := discord.New(discord.Opts{
		BotToken:     cfg.Discord.Token,
		BotUserID:    cfg.Discord.BotUserID,
		AgentRoleIDs: cfg.Discord.AgentRoleIDs,
	})
	if err != nil {
		rt.closeStorage()
		return nil, err
	}
	rt.platform = platform

	opts := relay.EngineOpts{
		Platform: platform,
		Invoker: &agent.Subprocess{
			Command: cfg.Agent.Command,
			Agent:   agentName,
			Home:    cfg.Agent.Home,
			Debug:   f.debug,
		},
		Cursors: rt.cursors,
		Breaker: rt.breaker,
		Gate:    rt.gate,
		Options: relay.Options{
			Agent:           agentName,
			SharedChannelID: cfg.Discord.SharedChannelID,
			DMChannelIDs:    cfg.Discord.DMChannelIDs,
			Policy:          acl.Policy{Base: cfg.ACLBase, DMCeiling: cfg.DMCeiling, Override: cfg.MaxACL},
			FetchLimit:      cfg.FetchLimit,
			RealtimeTimeout: time.Duration(cfg.RealtimeTimeoutSec) * time.Second,
			BatchTimeout:    time.Duration(cfg.BatchTimeoutSec) * time.Second,
			NoAgent:         f.noAgent,
			NoDiscord:       f.noDiscord,
			Debug:           f.debug,
		},
	}
	if rt.recorder != nil {
		opts.Recorder = rt.recorder
	}
	if cfg.Agent.TranscribeCommand != "" {
		opts.Transcriber = &agent.CommandTranscriber{Command: cfg.Agent.TranscribeCommand}
	}
	if cfg.Agent.SpeechCommand != "" {
		opts.Synthesizer = &agent.CommandSynthesizer{Command: cfg.Agent.SpeechCommand}
	}
	rt.engine, err = relay.NewEngine(opts)
	if err != nil {
		rt.closeStorage()
		return nil, err
	}
	return rt, nil
}

// oneShot connects, runs fn and disconnects.
func (rt *app) oneShot(ctx context.Context, fn func(context.Context) error) error {
	if err := rt.platform.Connect(ctx); err != nil {
		return err
	}
	defer rt.platform.Close()
	return fn(ctx)
}

// serve runs the daemon and the status server until shutdown. A breaker
// trip, including one forced by high load, is reported as an error.
func (rt *app) serve(ctx context.Context, out io.Writer, noMonitoring bool) error {
	d, err := relay.NewDaemon(relay.DaemonOpts{
		Engine:       rt.engine,
		LoadGuard:    rt.loadGuard,
		Scope:        rt.scope,
		NoMonitoring: noMonitoring,
		MessageDelay: time.Duration(rt.cfg.MessageDelay) * time.Millisecond,
		Out:          out,
	})
	if err != nil {
		return err
	}

	srvCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()
	if !noMonitoring && rt.cfg.HTTP.Port != 0 {
		go func() {
			err := statusserver.Start(srvCtx, rt.statusOpts(out))
			if err != nil {
				log.Printf("status server: %v", err)
			}
		}()
	}

	if err := d.Run(ctx); err != nil {
		if errors.Is(err, breaker.ErrTripped) {
			return fmt.Errorf("circuit breaker tripped after %d failures, exiting", rt.breaker.Failures())
		}
		return err
	}
	return nil
}

func (rt *app) statusOpts(out io.Writer) statusserver.StartOpts {
	opts := statusserver.StartOpts{
		Agent:   rt.agent,
		Port:    rt.cfg.HTTP.Port,
		DMs:     rt.engine,
		Breaker: rt.breaker,
		Gate:    rt.gate,
		Cursors: rt.cursors,
		Out:     out,
	}
	if rt.recorder != nil {
		opts.Interactions = rt.recorder
	}
	return opts
}

// previewWidth sizes show-backlog excerpts to the terminal, leaving room
// for the timestamp and author.
func previewWidth(out io.Writer) int {
	f, ok := out.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return relay.DefaultPreview
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil || width < 60 {
		return relay.DefaultPreview
	}
	return width - 40
}
