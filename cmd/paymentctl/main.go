// Command paymentctl runs operator tasks against the payment store:
// migrations, manual failure and refunds, reconciliation of stuck
// transactions and replay of failed entity updates.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "paymentctl",
		Short:         "Operator tool for the alumni payment service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(migrateCmd())
	root.AddCommand(markFailedCmd())
	root.AddCommand(refundCmd())
	root.AddCommand(reconcileCmd())
	root.AddCommand(deadLettersCmd())
	root.AddCommand(configCmd())
	return root
}
