package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/szichedelic/flbridge-core/internal/flbridge/config"
	"github.com/szichedelic/flbridge-core/internal/flbridge/hooks"
	"github.com/szichedelic/flbridge-core/internal/flbridge/lifecycle"
	"github.com/szichedelic/flbridge-core/internal/flbridge/params"
	"github.com/szichedelic/flbridge-core/internal/flbridge/render"
	"github.com/szichedelic/flbridge-core/internal/logging"
)

func newServeCmd(cfg *config.Config) *cobra.Command {
	var aliasPairs []string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge: open transport, maintain liveness, serve commands until signalled",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cfg, aliasPairs)
		},
	}
	cmd.Flags().StringArrayVar(&aliasPairs, "alias", nil, "parameter alias in alias=canonical form (repeatable)")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, aliasPairs []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	logging.Init()
	if err := logging.SetLevel(cfg.LogLevel); err != nil {
		logging.Warn("invalid log level, keeping current", "requested", cfg.LogLevel)
	}
	log := logging.Logger().With("component", "cli")

	aliases, err := parseAliases(aliasPairs)
	if err != nil {
		return err
	}

	hookManager := hooks.NewManager(hooks.Config{
		Timeout:     cfg.HookTimeout,
		Concurrency: cfg.HookConcurrency,
		StdioFormat: cfg.HookStdioFormat,
	}, log)
	defer hookManager.Close()

	conn := lifecycle.New(lifecycle.Config{
		InPortName:          cfg.InPortName,
		OutPortName:         cfg.OutPortName,
		Aliases:             aliases,
		RenderDir:           cfg.RenderDir,
		RenderExtension:     cfg.RenderExtension,
		HeartbeatInterval:   cfg.HeartbeatInterval,
		HeartbeatTimeout:    cfg.HeartbeatTimeout,
		MaxPayloadPerFrame:  cfg.MaxPayloadPerFrame,
		MaxAccumulatorBytes: cfg.MaxAccumulatorBytes,
		OnRenderArtifact: func(a render.Artifact) {
			hookManager.TriggerEvent(context.Background(), *hooks.NewEvent(hooks.EventRenderDetected).
				WithData("file_name", a.FileName).
				WithData("size", a.Size))
		},
		OnLifecycleEvent: func(kind string, fields map[string]interface{}) {
			eventType := hooks.EventHeartbeatMiss
			if kind == "disconnect" {
				eventType = hooks.EventDisconnect
			}
			event := hooks.NewEvent(eventType)
			for k, v := range fields {
				event = event.WithData(k, v)
			}
			hookManager.TriggerEvent(context.Background(), *event)
		},
	})

	openCtx, cancelOpen := context.WithTimeout(ctx, lifecycle.HandshakeTimeout+2*time.Second)
	defer cancelOpen()
	if err := conn.Open(openCtx); err != nil {
		log.Errorw("failed to open connection", "error", err)
		return err
	}
	hookManager.TriggerEvent(ctx, *hooks.NewEvent(hooks.EventHandshake))
	log.Infow("bridge connected", "in_port", cfg.InPortName, "out_port", cfg.OutPortName, "version", version)

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-sigCtx.Done()
	log.Infow("shutdown signal received")

	done := make(chan struct{})
	go func() {
		if err := conn.Close(); err != nil {
			log.Errorw("error during shutdown", "error", err)
		}
		close(done)
	}()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	select {
	case <-done:
		log.Infow("bridge stopped cleanly")
	case <-shutdownCtx.Done():
		log.Errorw("forced exit after shutdown timeout")
	}
	return nil
}

func parseAliases(pairs []string) (params.AliasTable, error) {
	table := make(params.AliasTable, len(pairs))
	for _, p := range pairs {
		var alias, canonical string
		idx := -1
		for i := 0; i < len(p); i++ {
			if p[i] == '=' {
				idx = i
				break
			}
		}
		if idx <= 0 || idx == len(p)-1 {
			return nil, &aliasFormatError{raw: p}
		}
		alias, canonical = p[:idx], p[idx+1:]
		table[alias] = canonical
	}
	return table, nil
}

type aliasFormatError struct{ raw string }

func (e *aliasFormatError) Error() string {
	return "invalid --alias value " + e.raw + ", expected alias=canonical"
}
