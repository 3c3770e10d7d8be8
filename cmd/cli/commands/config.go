// Package commands implements the CLI subcommands
package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/promolab/blast/internal/api/v1/routes"
	"github.com/promolab/blast/pkg/api/v1/client"
)

// clientInstance is a singleton instance of the API client
var clientInstance client.Client

// getAPIClient returns the API client instance, creating it if necessary
func getAPIClient(cmd *cobra.Command) client.Client {
	if clientInstance != nil {
		return clientInstance
	}

	baseURL, _ := cmd.Flags().GetString("api-url")
	if baseURL == "" {
		baseURL = os.Getenv("BLAST_API_URL")
		if baseURL == "" {
			baseURL = routes.DefaultBaseURL
		}
	}

	timeout, _ := cmd.Flags().GetDuration("timeout")
	if timeout == 0 {
		timeout = client.DefaultTimeout
	}

	ownerID, _ := cmd.Flags().GetUint("owner")

	opts := &client.Options{
		BaseURL: baseURL,
		OwnerID: ownerID,
		Timeout: timeout,
	}

	var err error
	clientInstance, err = client.NewClient(opts)
	if err != nil {
		fmt.Printf("Error creating API client: %v\n", err)
		os.Exit(1)
	}
	return clientInstance
}

// AddClientFlags adds the API client configuration flags to the command
func AddClientFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("api-url", "", "API base URL (default: http://localhost:8080)")
	cmd.PersistentFlags().Duration("timeout", 30*time.Second, "API request timeout")
	cmd.PersistentFlags().Uint("owner", 0, "Owner ID the requests are scoped to")
}
