package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"qservworker/internal/config"
)

func newConfigCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate the worker's configuration",
	}
	cmd.AddCommand(newConfigValidateCmd(logger))
	return cmd
}

func newConfigValidateCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <path>",
		Short: "Parse a config file and report whether it's well formed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			cfg, err := config.Load(data)
			if err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			cmd.Printf("%s: ok (listen_addr=%s, max_active_chunks=%d, mem_manager=%s)\n",
				args[0], cfg.ListenAddr, cfg.MaxActiveChunks, cfg.MemManager)
			return nil
		},
	}
}
