package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"albionflip/internal/config"
	"albionflip/internal/market"
	"albionflip/internal/store"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:           "albionflip",
	Short:         "Albion Online market data fetcher and flip finder",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config.yaml")
}

// buildService loads configuration and wires the pipeline, opening the
// store when one is configured.
func buildService(extra ...market.Option) (*market.Service, *config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, err
	}
	options := extra
	if cfg.Store.Path != "" {
		st, err := store.Open(cfg.Store.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("opening store: %w", err)
		}
		options = append(options, market.WithStore(st))
	}
	return market.NewService(cfg, options...), cfg, nil
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseQualities(s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var out []int
	for _, p := range splitCSV(s) {
		q, err := strconv.Atoi(p)
		if err != nil || q < 1 || q > 5 {
			return nil, fmt.Errorf("invalid quality %q: must be 1-5", p)
		}
		out = append(out, q)
	}
	return out, nil
}
