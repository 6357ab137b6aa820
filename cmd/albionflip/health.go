package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Probe the upstream once and report its state",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, cfg, err := buildService()
		if err != nil {
			return err
		}
		if err := svc.ProbeOnce(cmd.Context()); err != nil {
			fmt.Printf("%s server: offline\n", cfg.Upstream.Server)
			return fmt.Errorf("upstream unreachable: %w", err)
		}
		fmt.Printf("%s server: online\n", cfg.Upstream.Server)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
