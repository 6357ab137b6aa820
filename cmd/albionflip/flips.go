package main

import (
	"fmt"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"albionflip/internal/market"
)

var flipsFlags struct {
	items     string
	locations string
	from      string
	to        string
	qualities string
	minProfit int64
	minROI    float64
	maxAge    time.Duration
	limit     int
	quiet     bool
}

var flipsCmd = &cobra.Command{
	Use:   "flips",
	Short: "Download current prices and print cross-location flip candidates",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, _, err := buildService()
		if err != nil {
			return err
		}

		qualities, err := parseQualities(flipsFlags.qualities)
		if err != nil {
			return err
		}

		sources := splitCSV(flipsFlags.from)
		dests := splitCSV(flipsFlags.to)
		locations := splitCSV(flipsFlags.locations)
		if len(locations) == 0 && len(sources) > 0 && len(dests) > 0 {
			// Both ends pinned down: no point fetching anywhere else.
			seen := map[string]bool{}
			for _, loc := range append(append([]string(nil), sources...), dests...) {
				if !seen[loc] {
					seen[loc] = true
					locations = append(locations, loc)
				}
			}
		}

		req := market.RefreshRequest{
			Items:     splitCSV(flipsFlags.items),
			Locations: locations,
			Qualities: qualities,
			// Freshness is the ladder's business: it widens the window
			// tier by tier, so nothing is cut here.
			MaxAge: 0,
		}
		if !flipsFlags.quiet {
			req.Progress = func(percent float64, message string) {
				log.Printf("%5.1f%% %s", percent, message)
			}
		}
		res, err := svc.RefreshPrices(cmd.Context(), req)
		if err != nil {
			return err
		}
		if res.Canceled {
			log.Printf("interrupted; computing flips over partial data")
		}

		ladder, err := svc.FindFlips(cmd.Context(), res.Quotes, res.ScanID, market.FlipsRequest{
			MinProfit:       flipsFlags.minProfit,
			MinROI:          flipsFlags.minROI,
			MaxAge:          flipsFlags.maxAge,
			Items:           splitCSV(flipsFlags.items),
			SourceLocations: sources,
			DestLocations:   dests,
			Qualities:       qualities,
			MaxResults:      flipsFlags.limit,
		})
		if err != nil {
			return err
		}

		if ladder.Winner == "" {
			log.Printf("no flips found across %d quotes", len(res.Quotes))
			for _, a := range ladder.Attempts {
				log.Printf("  tier %s: stale=%d noBuy=%d noSell=%d sameLoc=%d nonPositive=%d belowProfit=%d belowROI=%d",
					a.Name, a.Stats.Stale, a.Stats.NoBuy, a.Stats.NoSell, a.Stats.SameLocation,
					a.Stats.NonPositiveSpread, a.Stats.BelowMinProfit, a.Stats.BelowMinROI)
			}
			return nil
		}

		if ladder.Winner != "strict" {
			log.Printf("strict thresholds found nothing; showing tier %q", ladder.Winner)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ITEM\tQ\tBUY AT\tSELL AT\tBUY\tSELL\tSPREAD\tROI")
		for _, c := range ladder.Candidates {
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\t%s\t%.1f%%\n",
				c.ItemID, c.Quality, c.BuyLocation, c.SellLocation,
				silver.FormatMoney(c.BuyPrice), silver.FormatMoney(c.SellPrice),
				silver.FormatMoney(c.Spread), c.ROI*100)
		}
		return w.Flush()
	},
}

func init() {
	flipsCmd.Flags().StringVar(&flipsFlags.items, "items", "", "comma-separated item ids (default: all marketable items)")
	flipsCmd.Flags().StringVar(&flipsFlags.locations, "locations", "", "comma-separated locations to fetch (default: royal cities and Black Market)")
	flipsCmd.Flags().StringVar(&flipsFlags.from, "from", "", "comma-separated locations to buy at (default: anywhere)")
	flipsCmd.Flags().StringVar(&flipsFlags.to, "to", "", "comma-separated locations to sell at (default: anywhere)")
	flipsCmd.Flags().StringVar(&flipsFlags.qualities, "qualities", "", "comma-separated qualities 1-5 (default: all)")
	flipsCmd.Flags().Int64Var(&flipsFlags.minProfit, "min-profit", 0, "minimum spread in silver (default: configured)")
	flipsCmd.Flags().Float64Var(&flipsFlags.minROI, "min-roi", 0, "minimum return on investment (default: configured)")
	flipsCmd.Flags().DurationVar(&flipsFlags.maxAge, "max-age", 0, "strict-tier freshness window (default: configured)")
	flipsCmd.Flags().IntVar(&flipsFlags.limit, "limit", 0, "maximum candidates to print (default: configured)")
	flipsCmd.Flags().BoolVar(&flipsFlags.quiet, "quiet", false, "suppress progress output")
	rootCmd.AddCommand(flipsCmd)
}
