package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/promolab/blast/internal/types"
)

// credentialOutput represents the filtered output for a credential
type credentialOutput struct {
	ID         uint    `json:"id"`
	Name       string  `json:"name"`
	UsageCount int     `json:"usage_count"`
	UsageLimit int     `json:"usage_limit"`
	Saturation float64 `json:"saturation"`
}

func init() {
	credentialsCmd.AddCommand(createCredentialCmd)
	credentialsCmd.AddCommand(listCredentialsCmd)

	createCredentialCmd.Flags().StringP("name", "n", "", "Credential name")
	createCredentialCmd.Flags().StringP("token", "t", "", "Platform access token")
	createCredentialCmd.Flags().IntP("limit", "l", 0, "Per-window call allowance")
	_ = createCredentialCmd.MarkFlagRequired("name")
	_ = createCredentialCmd.MarkFlagRequired("token")
}

var credentialsCmd = &cobra.Command{
	Use:   "credentials",
	Short: "Manage the platform credential pool",
}

var createCredentialCmd = &cobra.Command{
	Use:   "create",
	Short: "Register a platform access token",
	RunE: func(cmd *cobra.Command, _ []string) error {
		name, _ := cmd.Flags().GetString("name")
		token, _ := cmd.Flags().GetString("token")
		limit, _ := cmd.Flags().GetInt("limit")

		cred, err := getAPIClient(cmd).CreateCredential(context.Background(), types.CreateCredentialRequest{
			Name:        name,
			AccessToken: token,
			UsageLimit:  limit,
		})
		if err != nil {
			return fmt.Errorf("error creating credential: %w", err)
		}
		return printJSON(credentialOutput{
			ID:         cred.ID,
			Name:       cred.Name,
			UsageCount: cred.UsageCount,
			UsageLimit: cred.UsageLimit,
			Saturation: cred.Saturation(),
		})
	},
}

var listCredentialsCmd = &cobra.Command{
	Use:   "list",
	Short: "List the active credential pool",
	RunE: func(cmd *cobra.Command, _ []string) error {
		creds, err := getAPIClient(cmd).ListCredentials(context.Background())
		if err != nil {
			return fmt.Errorf("error fetching credentials: %w", err)
		}

		output := make([]credentialOutput, len(creds))
		for i, cred := range creds {
			output[i] = credentialOutput{
				ID:         cred.ID,
				Name:       cred.Name,
				UsageCount: cred.UsageCount,
				UsageLimit: cred.UsageLimit,
				Saturation: cred.Saturation(),
			}
		}
		return printJSON(output)
	},
}

// GetCredentialsCmd returns the credentials command
func GetCredentialsCmd() *cobra.Command {
	return credentialsCmd
}
