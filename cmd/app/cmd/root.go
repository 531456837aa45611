package cmd

import (
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "pricefeed",
	Short: "Live crypto price subscription service",
	Long: `Pricefeed keeps one streaming connection to the Binance market data feed and serves the
latest price of every subscribed symbol.

Commands:
  - serve: run the HTTP API with the persisted watchlist
  - watch: print live prices for a few symbols in the terminal`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "configs/config.yaml", "config file")
}
