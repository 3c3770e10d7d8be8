// Package constants provides centralized definitions of constants used throughout the application
package constants

// Environment variable names
const (
	// EnvPlatformBaseURL is the environment variable containing the remote ads platform API base URL
	EnvPlatformBaseURL = "BLAST_PLATFORM_URL"

	// EnvPlatformToken is the environment variable containing the default platform API credential token
	EnvPlatformToken = "BLAST_PLATFORM_TOKEN"

	// EnvPlatformAccountID is the environment variable containing the remote ad account ID
	EnvPlatformAccountID = "BLAST_PLATFORM_ACCOUNT"

	// EnvServerAddress is the environment variable containing the API server listen address
	EnvServerAddress = "BLAST_SERVER_ADDRESS"
)
