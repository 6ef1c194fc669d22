package cmd

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/school-attendance/internal/config"
	"github.com/kozaktomas/school-attendance/internal/database"
)

var biometricCmd = &cobra.Command{
	Use:   "biometric",
	Short: "Biometric service commands",
}

var biometricStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show biometric service health and enrollment counts of a tenant",
	RunE:  runBiometricStatus,
}

func init() {
	rootCmd.AddCommand(biometricCmd)
	biometricCmd.AddCommand(biometricStatusCmd)

	biometricStatusCmd.Flags().Int64("tenant", 0, "Tenant (school) ID")
	biometricStatusCmd.Flags().Bool("json", false, "Output as JSON")
}

func runBiometricStatus(cmd *cobra.Command, args []string) error {
	tenant, err := tenantFlag(cmd)
	if err != nil {
		return err
	}
	jsonOutput := mustGetBool(cmd, "json")

	ctx := context.Background()
	cfg := config.Load()
	b, err := openBackends(cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	manager, err := newEnrollmentManager(ctx, cfg)
	if err != nil {
		return err
	}
	st, err := manager.Status(ctx, tenant)
	if err != nil {
		return err
	}

	if jsonOutput {
		return outputJSON(st)
	}

	fmt.Printf("Face recognition: %s\n", enabledString(st.Enabled))
	if st.Enabled {
		fmt.Printf("Service:          %s (%s)\n", healthString(st.Healthy), cfg.Biometric.ServiceURL)
		fmt.Printf("Enrolled faces:   %d\n", st.EnrolledCount)
	}

	statuses := make([]database.EmbeddingStatus, 0, len(st.EmbeddingsByStatus))
	for s := range st.EmbeddingsByStatus {
		statuses = append(statuses, s)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i] < statuses[j] })

	fmt.Println("\nEnrollments:")
	if len(statuses) == 0 {
		fmt.Println("  none")
	}
	for _, s := range statuses {
		fmt.Printf("  %-8s %d\n", s, st.EmbeddingsByStatus[s])
	}
	return nil
}

func enabledString(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}

func healthString(healthy bool) string {
	if healthy {
		return "healthy"
	}
	return "unreachable"
}
