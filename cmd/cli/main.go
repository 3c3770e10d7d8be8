package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/promolab/blast/cmd/cli/commands"
)

var rootCmd = &cobra.Command{
	Use:   "blast",
	Short: "Blast CLI - drive bulk ad entity creation jobs",
	Long:  `Blast CLI is a command line tool for opening, running and rolling back bulk ad entity creation jobs through the Blast API.`,
}

func init() {
	commands.AddClientFlags(rootCmd)
	rootCmd.AddCommand(commands.GetJobsCmd())
	rootCmd.AddCommand(commands.GetQueueCmd())
	rootCmd.AddCommand(commands.GetCredentialsCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
