package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/szichedelic/flbridge-core/internal/flbridge/config"
	"github.com/szichedelic/flbridge-core/internal/flbridge/lifecycle"
)

func newDoctorCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Open the configured MIDI endpoints, handshake, and report round-trip latency",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd.Context(), cfg)
		},
	}
}

func runDoctor(ctx context.Context, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	conn := lifecycle.New(lifecycle.Config{
		InPortName:  cfg.InPortName,
		OutPortName: cfg.OutPortName,
	})

	start := time.Now()
	openCtx, cancel := context.WithTimeout(ctx, lifecycle.HandshakeTimeout+2*time.Second)
	defer cancel()

	if err := conn.Open(openCtx); err != nil {
		fmt.Printf("FAIL: could not open %q / %q: %v\n", cfg.InPortName, cfg.OutPortName, err)
		return err
	}
	defer conn.Close()

	elapsed := time.Since(start)
	fmt.Printf("OK: handshake completed in %s\n", elapsed)
	fmt.Printf("  in-port:  %s\n", cfg.InPortName)
	fmt.Printf("  out-port: %s\n", cfg.OutPortName)
	return nil
}
