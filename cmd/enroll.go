package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/school-attendance/internal/config"
	"github.com/kozaktomas/school-attendance/internal/database"
	"github.com/kozaktomas/school-attendance/internal/enrollment"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Manage face enrollments",
	Long: `Enroll students and teachers with the biometric service, retry failed
enrollments and remove people from the service.

Requires BIOMETRIC_ENABLED=true and BIOMETRIC_SERVICE_URL.`,
}

var enrollPersonCmd = &cobra.Command{
	Use:   "person <student|teacher> <id>",
	Short: "Enroll one person using their current photo",
	Args:  cobra.ExactArgs(2),
	RunE:  runEnrollPerson,
}

var enrollBulkCmd = &cobra.Command{
	Use:   "bulk <student|teacher>",
	Short: "Enroll every person with a photo who is not enrolled yet",
	Long: `Enroll every student or active teacher of a tenant that has a photo.
People already ACTIVE are skipped.

Examples:
  # Enroll all students of tenant 3
  school-attendance enroll bulk student --tenant 3

  # JSON output
  school-attendance enroll bulk teacher --tenant 3 --json`,
	Args: cobra.ExactArgs(1),
	RunE: runEnrollBulk,
}

var enrollRetryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Retry FAILED and NO_FACE enrollments",
	RunE:  runEnrollRetry,
}

var enrollDeleteCmd = &cobra.Command{
	Use:   "delete <student|teacher> <id>",
	Short: "Remove a person from the biometric service and delete their enrollment",
	Args:  cobra.ExactArgs(2),
	RunE:  runEnrollDelete,
}

func init() {
	rootCmd.AddCommand(enrollCmd)
	enrollCmd.AddCommand(enrollPersonCmd, enrollBulkCmd, enrollRetryCmd, enrollDeleteCmd)

	for _, c := range []*cobra.Command{enrollPersonCmd, enrollBulkCmd, enrollRetryCmd, enrollDeleteCmd} {
		c.Flags().Int64("tenant", 0, "Tenant (school) ID")
	}
	enrollBulkCmd.Flags().Bool("json", false, "Output as JSON")
	enrollRetryCmd.Flags().Int("older-than", 0, "Only retry rows not updated for this many hours (default BIOMETRIC_RETRY_FAILED_HOURS)")
	enrollRetryCmd.Flags().Bool("json", false, "Output as JSON")
}

// BulkEnrollResult is the JSON output of enroll bulk
type BulkEnrollResult struct {
	Success       bool   `json:"success"`
	Kind          string `json:"kind"`
	Enrolled      int    `json:"enrolled"`
	Failed        int    `json:"failed"`
	Skipped       int    `json:"skipped"`
	DurationMs    int64  `json:"duration_ms"`
	DurationHuman string `json:"duration_human,omitempty"`
}

// RetryEnrollResult is the JSON output of enroll retry
type RetryEnrollResult struct {
	Success    bool  `json:"success"`
	Retried    int   `json:"retried"`
	Succeeded  int   `json:"succeeded"`
	Failed     int   `json:"failed"`
	DurationMs int64 `json:"duration_ms"`
}

// setupEnrollment loads config and opens everything an enroll command needs.
func setupEnrollment(ctx context.Context) (*backends, *enrollment.Manager, error) {
	cfg := config.Load()
	if !cfg.Biometric.Enabled {
		return nil, nil, errors.New("face recognition is disabled: set BIOMETRIC_ENABLED=true")
	}
	if cfg.Biometric.ServiceURL == "" {
		return nil, nil, errors.New("BIOMETRIC_SERVICE_URL environment variable is required")
	}
	b, err := openBackends(cfg)
	if err != nil {
		return nil, nil, err
	}
	manager, err := newEnrollmentManager(ctx, cfg)
	if err != nil {
		b.Close()
		return nil, nil, err
	}
	return b, manager, nil
}

// newProgress returns a progress callback drawing a bar sized on the first report.
// Progress is reported serially, so the lazy init needs no lock.
func newProgress(description string) func(enrollment.Progress) {
	var bar *progressbar.ProgressBar
	return func(p enrollment.Progress) {
		if bar == nil {
			bar = progressbar.NewOptions(p.Total,
				progressbar.OptionSetDescription(description),
				progressbar.OptionShowCount(),
				progressbar.OptionShowIts(),
				progressbar.OptionSetItsString("people"),
				progressbar.OptionShowElapsedTimeOnFinish(),
				progressbar.OptionSetPredictTime(true),
				progressbar.OptionFullWidth(),
			)
		}
		bar.Add(1)
	}
}

func printEmbedding(emb *database.FaceEmbedding) {
	fmt.Printf("%s: %s", emb.ExternalID, emb.Status)
	if emb.Confidence != nil {
		fmt.Printf(" (confidence %.2f)", *emb.Confidence)
	}
	if emb.ErrorMessage != "" {
		fmt.Printf(" - %s", emb.ErrorMessage)
	}
	fmt.Printf(", attempts %d\n", emb.Attempts)
}

func runEnrollPerson(cmd *cobra.Command, args []string) error {
	tenant, err := tenantFlag(cmd)
	if err != nil {
		return err
	}
	kind, id, err := parsePersonArgs(args)
	if err != nil {
		return err
	}

	ctx := context.Background()
	b, manager, err := setupEnrollment(ctx)
	if err != nil {
		return err
	}
	defer b.Close()

	emb, err := manager.EnrollByID(ctx, tenant, kind, id)
	if err != nil {
		return fmt.Errorf("enrolling %s: %w", database.ExternalID(kind, id), err)
	}
	printEmbedding(emb)
	return nil
}

func runEnrollBulk(cmd *cobra.Command, args []string) error {
	tenant, err := tenantFlag(cmd)
	if err != nil {
		return err
	}
	kind, err := database.ParsePersonKind(args[0])
	if err != nil {
		return err
	}
	jsonOutput := mustGetBool(cmd, "json")

	ctx := context.Background()
	b, manager, err := setupEnrollment(ctx)
	if err != nil {
		return err
	}
	defer b.Close()

	startTime := time.Now()
	var onProgress func(enrollment.Progress)
	if !jsonOutput {
		onProgress = newProgress("Enrolling")
	}
	result, err := manager.BulkEnroll(ctx, tenant, kind, onProgress)
	if err != nil {
		return fmt.Errorf("bulk enrollment: %w", err)
	}
	elapsed := time.Since(startTime)

	if jsonOutput {
		return outputJSON(BulkEnrollResult{
			Success:       true,
			Kind:          string(kind),
			Enrolled:      result.Enrolled,
			Failed:        result.Failed,
			Skipped:       result.Skipped,
			DurationMs:    elapsed.Milliseconds(),
			DurationHuman: elapsed.Round(time.Second).String(),
		})
	}

	fmt.Printf("\nEnrolled: %d, failed: %d, skipped: %d (%s)\n",
		result.Enrolled, result.Failed, result.Skipped, elapsed.Round(time.Second))
	return nil
}

func runEnrollRetry(cmd *cobra.Command, args []string) error {
	tenant, err := tenantFlag(cmd)
	if err != nil {
		return err
	}
	olderThan := mustGetInt(cmd, "older-than")
	if olderThan < 0 {
		return errors.New("--older-than must not be negative")
	}
	jsonOutput := mustGetBool(cmd, "json")

	ctx := context.Background()
	b, manager, err := setupEnrollment(ctx)
	if err != nil {
		return err
	}
	defer b.Close()

	startTime := time.Now()
	var onProgress func(enrollment.Progress)
	if !jsonOutput {
		onProgress = newProgress("Retrying")
	}
	result, err := manager.RetryFailed(ctx, tenant, olderThan, onProgress)
	if err != nil {
		return fmt.Errorf("retrying enrollments: %w", err)
	}

	if jsonOutput {
		return outputJSON(RetryEnrollResult{
			Success:    true,
			Retried:    result.Retried,
			Succeeded:  result.Success,
			Failed:     result.Failed,
			DurationMs: time.Since(startTime).Milliseconds(),
		})
	}

	if result.Retried == 0 {
		fmt.Println("Nothing to retry")
		return nil
	}
	fmt.Printf("\nRetried: %d, now active: %d, still failing: %d\n", result.Retried, result.Success, result.Failed)
	return nil
}

func runEnrollDelete(cmd *cobra.Command, args []string) error {
	tenant, err := tenantFlag(cmd)
	if err != nil {
		return err
	}
	kind, id, err := parsePersonArgs(args)
	if err != nil {
		return err
	}

	ctx := context.Background()
	b, manager, err := setupEnrollment(ctx)
	if err != nil {
		return err
	}
	defer b.Close()

	emb, err := manager.Get(ctx, tenant, kind, id)
	if err != nil {
		return err
	}
	if emb == nil {
		return fmt.Errorf("%s is not enrolled", database.ExternalID(kind, id))
	}
	if _, err := manager.Delete(ctx, *emb); err != nil {
		return fmt.Errorf("deleting enrollment: %w", err)
	}
	fmt.Printf("Deleted enrollment of %s\n", emb.ExternalID)
	return nil
}
