package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/school-attendance/internal/config"
	"github.com/kozaktomas/school-attendance/internal/constants"
	"github.com/kozaktomas/school-attendance/internal/web/middleware"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for a scanner or admin client",
	Long: `Issue an HS256 bearer token signed with SCANNER_JWT_SECRET.

Examples:
  # Token for the main gate scanner of tenant 3
  school-attendance token --tenant 3 --scanner main-gate

  # Admin token valid for one day
  school-attendance token --tenant 3 --scanner office --role admin --ttl 24h`,
	RunE: runToken,
}

func init() {
	rootCmd.AddCommand(tokenCmd)

	tokenCmd.Flags().Int64("tenant", 0, "Tenant (school) ID")
	tokenCmd.Flags().String("scanner", "", "Scanner or client identifier")
	tokenCmd.Flags().String("role", middleware.RoleScanner, "Role: scanner or admin")
	tokenCmd.Flags().Duration("ttl", constants.DefaultTokenTTL, "Token lifetime")
}

func runToken(cmd *cobra.Command, args []string) error {
	tenant, err := tenantFlag(cmd)
	if err != nil {
		return err
	}
	scanner := mustGetString(cmd, "scanner")
	if scanner == "" {
		return errors.New("--scanner is required")
	}
	role := mustGetString(cmd, "role")
	if role != middleware.RoleScanner && role != middleware.RoleAdmin {
		return fmt.Errorf("unknown role %q", role)
	}

	cfg := config.Load()
	if cfg.Auth.JWTSecret == "" {
		return errors.New("SCANNER_JWT_SECRET environment variable is required")
	}

	token, err := middleware.NewToken(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, mustGetDuration(cmd, "ttl"), middleware.Claims{
		TenantID:  tenant,
		ScannerID: scanner,
		Role:      role,
	})
	if err != nil {
		return fmt.Errorf("signing token: %w", err)
	}
	fmt.Println(token)
	return nil
}
