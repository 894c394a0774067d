package main

import (
	"github.com/spf13/cobra"
)

var noColor bool

var rootCmd = &cobra.Command{
	Use:     "ordmirror",
	Short:   "Local mirror and order gateway for the supplier portal",
	Version: version,
	Long: `ordmirror keeps a local, queryable mirror of the supplier portal
(customers, products, prices, orders, shipments, invoices) and submits
orders through it. The portal has no API; everything goes through
scripted browser sessions.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(syncCmd)
}
