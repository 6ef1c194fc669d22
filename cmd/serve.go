package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/school-attendance/internal/attendance"
	"github.com/kozaktomas/school-attendance/internal/biometric"
	"github.com/kozaktomas/school-attendance/internal/config"
	"github.com/kozaktomas/school-attendance/internal/database"
	"github.com/kozaktomas/school-attendance/internal/enrollment"
	"github.com/kozaktomas/school-attendance/internal/scan"
	"github.com/kozaktomas/school-attendance/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the attendance API server",
	Long: `Start the School Attendance API server.
Scanners post QR codes or face frames to register entries and exits.
Admin clients manage face enrollments and list the day's attendance.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().String("allowed-origins", "", "Comma-separated list of browser origins allowed by CORS")
}

// resolveServeOptions resolves listener options from flags and environment variables.
func resolveServeOptions(cmd *cobra.Command) web.Options {
	opts := web.Options{
		Port:           mustGetInt(cmd, "port"),
		Host:           mustGetString(cmd, "host"),
		AllowedOrigins: mustGetString(cmd, "allowed-origins"),
	}
	if envPort := os.Getenv("WEB_PORT"); envPort != "" {
		fmt.Sscanf(envPort, "%d", &opts.Port)
	}
	if envHost := os.Getenv("WEB_HOST"); envHost != "" {
		opts.Host = envHost
	}
	if opts.AllowedOrigins == "" {
		opts.AllowedOrigins = os.Getenv("WEB_ALLOWED_ORIGINS")
	}
	return opts
}

// startRetrySweep starts the periodic retry of failed enrollments when enabled.
func startRetrySweep(cfg *config.Config, manager *enrollment.Manager) *enrollment.Sweep {
	if !cfg.Biometric.Enabled || cfg.Biometric.RetryInterval <= 0 {
		return nil
	}
	sweep, err := manager.StartRetrySweep(cfg.Biometric.RetryInterval)
	if err != nil {
		fmt.Printf("Warning: failed to start enrollment retry sweep: %v\n", err)
		return nil
	}
	fmt.Printf("Retrying failed enrollments older than %dh every %s\n", cfg.Biometric.RetryFailedHours, cfg.Biometric.RetryInterval)
	return sweep
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	if cfg.Auth.JWTSecret == "" {
		return errors.New("SCANNER_JWT_SECRET environment variable is required")
	}

	b, err := openBackends(cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	ctx := context.Background()
	attendanceStore, err := database.GetAttendanceWriter(ctx)
	if err != nil {
		return err
	}
	directory, err := database.GetPersonDirectory(ctx)
	if err != nil {
		return err
	}

	var faces scan.FaceSearcher
	if cfg.Biometric.Enabled {
		faces = biometric.NewClient(cfg.Biometric)
		fmt.Printf("Face recognition enabled (%s)\n", cfg.Biometric.ServiceURL)
	} else {
		fmt.Println("Face recognition disabled, only QR scans are accepted")
	}

	dispatcher, closeDispatcher := newDispatcher(cfg.Notify)
	defer closeDispatcher()

	loc := cfg.Attendance.Location()
	machine := attendance.NewStateMachine(attendanceStore, attendance.NewConfigSchedule(cfg.Schedules), dispatcher, loc)
	fmt.Printf("School timezone: %s\n", loc)

	manager, err := newEnrollmentManager(ctx, cfg)
	if err != nil {
		return err
	}
	if sweep := startRetrySweep(cfg, manager); sweep != nil {
		defer sweep.Stop()
	}

	opts := resolveServeOptions(cmd)
	server := web.NewServer(cfg, web.Services{
		Resolver:   scan.NewResolver(directory, faces, cfg.Biometric),
		Attendance: machine,
		Enrollment: manager,
		DB:         b.pool,
	}, opts)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-sigChan
		fmt.Println("\nShutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting School Attendance API on http://%s:%d\n", opts.Host, opts.Port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	<-shutdownDone
	return nil
}
