package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"pricefeed/internal/app"
	"pricefeed/internal/domain"

	"github.com/spf13/cobra"
)

var watchInterval time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch SYMBOL...",
	Short: "Print live prices in the terminal",
	Long: `Watch subscribes to the given symbols without touching the saved watchlist and prints the
latest price table every interval until interrupted.

Example:
  pricefeed watch btcusdt ethusdt --interval 1s`,
	Args: cobra.MinimumNArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().DurationVarP(&watchInterval, "interval", "i", 2*time.Second, "refresh interval")
}

func runWatch(cmd *cobra.Command, args []string) error {
	if watchInterval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", watchInterval)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b := app.NewBootstrap()
	if err := b.InitializeEphemeral(ctx, cfgFile); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer b.Close()

	for _, sym := range args {
		if err := b.Streamer.Subscribe(sym); err != nil {
			return fmt.Errorf("subscribe %q: %w", sym, err)
		}
	}

	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	out := cmd.OutOrStdout()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			writePriceTable(out, b.Streamer.ListSymbols(), b.Streamer.GetPrice)
		}
	}
}

// writePriceTable prints one row per symbol; symbols without a tick yet show "-"
func writePriceTable(w io.Writer, symbols []domain.Symbol, get func(string) (domain.PriceSample, bool)) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SYMBOL\tPRICE\tOBSERVED_AT")
	for _, sym := range symbols {
		sample, ok := get(sym.String())
		if !ok {
			fmt.Fprintf(tw, "%s\t-\t-\n", sym)
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", sym, sample.PriceString(), sample.ObservedAt.Format(time.RFC3339))
	}
	tw.Flush()
	fmt.Fprintln(w)
}
