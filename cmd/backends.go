package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kozaktomas/school-attendance/internal/biometric"
	"github.com/kozaktomas/school-attendance/internal/config"
	"github.com/kozaktomas/school-attendance/internal/database"
	"github.com/kozaktomas/school-attendance/internal/database/mariadb"
	"github.com/kozaktomas/school-attendance/internal/database/postgres"
	"github.com/kozaktomas/school-attendance/internal/enrollment"
	"github.com/kozaktomas/school-attendance/internal/notify"
)

// backends holds the open database pools of a command.
type backends struct {
	pool      *postgres.Pool
	directory *mariadb.Pool
}

// openBackends connects to PostgreSQL (migrating it) and to the school directory,
// and registers the repositories with the database package.
func openBackends(cfg *config.Config) (*backends, error) {
	if cfg.Database.URL == "" {
		return nil, errors.New("DATABASE_URL environment variable is required")
	}
	if cfg.Directory.DatabaseURL == "" {
		return nil, errors.New("DIRECTORY_DATABASE_URL environment variable is required")
	}

	fmt.Printf("Connecting to PostgreSQL database...\n")
	if err := postgres.Initialize(&cfg.Database); err != nil {
		return nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	pool := postgres.GetGlobalPool()
	attendanceRepo := postgres.NewAttendanceRepository(pool)
	embeddingRepo := postgres.NewEmbeddingRepository(pool)
	database.RegisterPostgresBackend(
		func() database.AttendanceWriter { return attendanceRepo },
		func() database.EmbeddingWriter { return embeddingRepo },
	)

	fmt.Printf("Connecting to school directory (MariaDB)...\n")
	dirPool, err := mariadb.NewPool(cfg.Directory.DatabaseURL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to school directory: %w", err)
	}
	directory := mariadb.NewDirectory(dirPool)
	database.RegisterPersonDirectory(func() database.PersonDirectory { return directory })

	return &backends{pool: pool, directory: dirPool}, nil
}

// Close closes both pools.
func (b *backends) Close() {
	if err := b.directory.Close(); err != nil {
		fmt.Printf("Warning: %v\n", err)
	}
	if err := b.pool.Close(); err != nil {
		fmt.Printf("Warning: %v\n", err)
	}
}

// newEnrollmentManager builds the enrollment manager from the registered backends.
func newEnrollmentManager(ctx context.Context, cfg *config.Config) (*enrollment.Manager, error) {
	store, err := database.GetEmbeddingWriter(ctx)
	if err != nil {
		return nil, err
	}
	directory, err := database.GetPersonDirectory(ctx)
	if err != nil {
		return nil, err
	}
	return enrollment.NewManager(store, directory, biometric.NewClient(cfg.Biometric), cfg.Biometric), nil
}

// newDispatcher connects to Redis for guardian notifications. Without Redis,
// notifications are only logged. The returned func closes the client.
func newDispatcher(cfg config.NotifyConfig) (notify.Dispatcher, func()) {
	if cfg.RedisAddr == "" {
		fmt.Println("REDIS_ADDR not set, guardian notifications will only be logged")
		return notify.LogDispatcher{}, func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		fmt.Printf("Warning: Redis at %s unreachable (%v), guardian notifications will only be logged\n", cfg.RedisAddr, err)
		client.Close()
		return notify.LogDispatcher{}, func() {}
	}

	fmt.Printf("Guardian notifications enabled (Redis queue %s)\n", cfg.Queue)
	return notify.NewRedisDispatcher(client, cfg.Queue), func() { client.Close() }
}
