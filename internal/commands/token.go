package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"evalgo.org/kiwi/internal/auth"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage API authentication tokens",
	Long:  `Generate JWT tokens and API keys for the HTTP API`,
}

var (
	tokenRoles      []string
	tokenExpiration time.Duration
)

var generateTokenCmd = &cobra.Command{
	Use:   "generate SUBJECT",
	Short: "Generate a signed JWT",
	Long: `Generate a JWT for the HTTP API, signed with security.jwt_secret.

Examples:
  # Read-only token for a dashboard
  kiwi token generate dashboard --role viewer

  # Operator token valid for one week
  kiwi token generate ci --role operator --expiration 168h`,
	Args: cobra.ExactArgs(1),
	RunE: runGenerateToken,
}

var generateAPIKeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Generate an API key and its bcrypt hash",
	Long: `Generate a random API key. Put the printed hash into
security.api_key_hashes and send the key in the X-API-Key header. API keys
act as operators.`,
	Args: cobra.NoArgs,
	RunE: runGenerateAPIKey,
}

func init() {
	generateTokenCmd.Flags().StringSliceVar(&tokenRoles, "role", []string{"viewer"}, "roles: admin, operator, viewer")
	generateTokenCmd.Flags().DurationVar(&tokenExpiration, "expiration", 0, "token lifetime (default: security.jwt_expiration)")

	tokenCmd.AddCommand(generateTokenCmd)
	tokenCmd.AddCommand(generateAPIKeyCmd)
}

func runGenerateToken(cmd *cobra.Command, args []string) error {
	roles := make([]auth.Role, 0, len(tokenRoles))
	for _, r := range tokenRoles {
		role, err := auth.ParseRole(r)
		if err != nil {
			return err
		}
		roles = append(roles, role)
	}

	token, err := auth.NewJWTService(cfg).GenerateToken(args[0], roles, tokenExpiration)
	if err != nil {
		return fmt.Errorf("failed to generate token: %w", err)
	}

	expiration := tokenExpiration
	if expiration <= 0 {
		expiration = cfg.Security.JWTExpiration
	}

	fmt.Printf("Token Generated Successfully\n")
	fmt.Printf("============================\n\n")
	fmt.Printf("Subject:    %s\n", args[0])
	fmt.Printf("Roles:      %v\n", roles)
	fmt.Printf("Expiration: %s\n", expiration)
	fmt.Printf("\nToken:\n%s\n\n", token)
	fmt.Printf("Send it as: Authorization: Bearer <token>\n")
	return nil
}

func runGenerateAPIKey(cmd *cobra.Command, args []string) error {
	key, err := auth.GenerateAPIKey()
	if err != nil {
		return fmt.Errorf("failed to generate api key: %w", err)
	}
	hash, err := auth.HashAPIKey(key)
	if err != nil {
		return fmt.Errorf("failed to hash api key: %w", err)
	}

	fmt.Printf("API Key: %s\n", key)
	fmt.Printf("Hash:    %s\n\n", hash)
	fmt.Printf("Add the hash to your kiwi.yaml:\n")
	fmt.Printf("  security:\n")
	fmt.Printf("    api_key_hashes:\n")
	fmt.Printf("      - %q\n\n", hash)
	fmt.Printf("⚠️  The key is shown only once. Keep it secure!\n")
	return nil
}
