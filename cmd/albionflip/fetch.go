package main

import (
	"fmt"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/leekchan/accounting"
	"github.com/spf13/cobra"

	"albionflip/internal/market"
)

var fetchFlags struct {
	items       string
	locations   string
	qualities   string
	maxAge      time.Duration
	concurrency int
	rate        float64
	burst       int
	quiet       bool
}

var silver = accounting.Accounting{Symbol: "", Precision: 0, Thousand: ","}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download current prices and print them as a table",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, cfg, err := buildService()
		if err != nil {
			return err
		}

		qualities, err := parseQualities(fetchFlags.qualities)
		if err != nil {
			return err
		}
		maxAge := fetchFlags.maxAge
		if maxAge == 0 {
			maxAge = cfg.Flips.MaxAge
		}

		req := market.RefreshRequest{
			Items:             splitCSV(fetchFlags.items),
			Locations:         splitCSV(fetchFlags.locations),
			Qualities:         qualities,
			MaxAge:            maxAge,
			Concurrency:       fetchFlags.concurrency,
			RequestsPerSecond: fetchFlags.rate,
			Burst:             fetchFlags.burst,
		}
		if !fetchFlags.quiet {
			req.Progress = func(percent float64, message string) {
				log.Printf("%5.1f%% %s", percent, message)
			}
		}

		res, err := svc.RefreshPrices(cmd.Context(), req)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ITEM\tLOCATION\tQ\tASK\tBID\tAGE")
		now := time.Now().UTC()
		for _, q := range res.Quotes {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
				q.ItemID, q.Location, q.Quality,
				silver.FormatMoney(q.Ask), silver.FormatMoney(q.Bid),
				now.Sub(q.ObservedAt).Round(time.Minute))
		}
		if err := w.Flush(); err != nil {
			return err
		}

		if res.Canceled {
			log.Printf("interrupted; showing partial results")
		}
		log.Printf("%d quotes (%d stale dropped, %d chunks failed, %d items unservable) in %s",
			len(res.Quotes), res.Stale, res.FailedChunks, res.DroppedItems, res.Duration.Round(time.Millisecond))
		return nil
	},
}

func init() {
	fetchCmd.Flags().StringVar(&fetchFlags.items, "items", "", "comma-separated item ids (default: all marketable items)")
	fetchCmd.Flags().StringVar(&fetchFlags.locations, "locations", "", "comma-separated locations (default: royal cities and Black Market)")
	fetchCmd.Flags().StringVar(&fetchFlags.qualities, "qualities", "", "comma-separated qualities 1-5 (default: all)")
	fetchCmd.Flags().DurationVar(&fetchFlags.maxAge, "max-age", 0, "drop quotes older than this (default: configured freshness)")
	fetchCmd.Flags().IntVar(&fetchFlags.concurrency, "concurrency", 0, "override worker ceiling")
	fetchCmd.Flags().Float64Var(&fetchFlags.rate, "rate", 0, "override requests per second")
	fetchCmd.Flags().IntVar(&fetchFlags.burst, "burst", 0, "override limiter burst")
	fetchCmd.Flags().BoolVar(&fetchFlags.quiet, "quiet", false, "suppress progress output")
	rootCmd.AddCommand(fetchCmd)
}
