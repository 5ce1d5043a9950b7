package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/szichedelic/flbridge-core/internal/flbridge/config"
	"github.com/szichedelic/flbridge-core/internal/flbridge/lifecycle"
	"github.com/szichedelic/flbridge-core/internal/flbridge/params"
)

func newDiscoverCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "discover <owner> <slot>",
		Short: "Discover a plugin's parameter table and print it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("owner must be an integer: %w", err)
			}
			slot, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("slot must be an integer: %w", err)
			}
			return runDiscover(cmd.Context(), cfg, params.PluginAddress{OwnerIndex: owner, SlotIndex: slot})
		},
	}
}

func runDiscover(ctx context.Context, cfg *config.Config, address params.PluginAddress) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	conn := lifecycle.New(lifecycle.Config{
		InPortName:  cfg.InPortName,
		OutPortName: cfg.OutPortName,
	})

	openCtx, cancelOpen := context.WithTimeout(ctx, lifecycle.HandshakeTimeout+2*time.Second)
	defer cancelOpen()
	if err := conn.Open(openCtx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close()

	discoverCtx, cancelDiscover := context.WithTimeout(ctx, cfg.DiscoveryTimeout)
	defer cancelDiscover()

	entry, err := conn.Directory().Discover(discoverCtx, address)
	if err != nil {
		return fmt.Errorf("discover: %w", err)
	}

	fmt.Printf("%s (owner=%d slot=%d)\n", entry.PluginDisplayName, address.OwnerIndex, address.SlotIndex)
	for _, p := range entry.Parameters {
		fmt.Printf("  [%3d] %-32s = %.4f\n", p.ParamIndex, p.DisplayName, p.NormalisedValue)
	}
	return nil
}
