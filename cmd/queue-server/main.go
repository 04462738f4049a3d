package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/medqueue/medqueue/internal/config"
	"github.com/medqueue/medqueue/internal/engine"
	"github.com/medqueue/medqueue/internal/platform/auth"
	"github.com/medqueue/medqueue/internal/platform/db"
	"github.com/medqueue/medqueue/internal/platform/events"
	"github.com/medqueue/medqueue/internal/platform/suggest"
	"github.com/medqueue/medqueue/internal/platform/websocket"
	"github.com/medqueue/medqueue/migrations"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "queue-server",
		Short: "Hospital patient queue API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the queue API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// migrationSource returns the embedded migrations unless dir is set.
func migrationSource(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if !cfg.UsesPostgres() {
				return fmt.Errorf("migrations need STORE_DRIVER=%s", config.DriverPostgres)
			}

			ctx := cmd.Context()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, migrationSource(dir)).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if !cfg.UsesPostgres() {
				return fmt.Errorf("migrations need STORE_DRIVER=%s", config.DriverPostgres)
			}

			ctx := cmd.Context()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrationSource(dir)).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printStatus(cmd.OutOrStdout(), statuses)
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(statusCmd)

	return cmd
}

func printStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

// tokenCmd mints a staff bearer token for desks and scripts.
func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed staff token",
		RunE: func(cmd *cobra.Command, args []string) error {
			staff, _ := cmd.Flags().GetString("staff")
			name, _ := cmd.Flags().GetString("name")
			roles, _ := cmd.Flags().GetStringSlice("roles")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			if staff == "" {
				return errors.New("--staff is required")
			}
			roles, err := validRoles(roles)
			if err != nil {
				return err
			}
			key := os.Getenv("AUTH_SIGNING_KEY")
			if key == "" {
				return errors.New("AUTH_SIGNING_KEY is not set")
			}

			token, err := auth.IssueToken([]byte(key), staff, name, roles, ttl, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().String("staff", "", "Staff identifier (token subject)")
	cmd.Flags().String("name", "", "Display name")
	cmd.Flags().StringSlice("roles", []string{auth.RoleReception}, "Comma-separated roles")
	cmd.Flags().Duration("ttl", 12*time.Hour, "Token lifetime")
	return cmd
}

func validRoles(roles []string) ([]string, error) {
	known := map[string]bool{
		auth.RoleReception:  true,
		auth.RoleDoctor:     true,
		auth.RolePharmacist: true,
		auth.RoleAdmin:      true,
	}
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		r = strings.ToLower(strings.TrimSpace(r))
		if r == "" {
			continue
		}
		if !known[r] {
			return nil, fmt.Errorf("unknown role %q", r)
		}
		out = append(out, r)
	}
	if len(out) == 0 {
		return nil, errors.New("at least one role is required")
	}
	return out, nil
}

func newLogger(w io.Writer, env, level string) zerolog.Logger {
	if env == "development" {
		w = zerolog.ConsoleWriter{Out: w}
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

func loadSuggester(path string) (*suggest.KeywordSuggester, error) {
	if path == "" {
		return suggest.NewDefault()
	}
	return suggest.Load(path)
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := zerolog.New(os.Stdout).With().Timestamp().Logger()
		bootLogger.Fatal().Err(err).Msg("failed to load config")
	}
	logger := newLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Store
	store := engine.MemoryStore()
	var pool *pgxpool.Pool
	if cfg.UsesPostgres() {
		pool, err = db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		store = engine.PostgresStore(pool)
		logger.Info().Msg("connected to database")
	} else {
		logger.Warn().Msg("using in-memory store; queue state is lost on restart")
	}

	suggester, err := loadSuggester(cfg.TreatmentTable)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.TreatmentTable).Msg("failed to load treatment table")
	}

	// Events: with Redis every instance, this one included, receives its
	// events back through the subscription and fans them out locally.
	hub := websocket.NewHub(logger)
	defer hub.Close()
	var publisher websocket.EventPublisher = hub
	var bus *events.RedisBus
	if cfg.RedisURL != "" {
		client, err := events.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer client.Close()
		bus = events.NewRedisBus(client, cfg.RedisChannel, logger)
		publisher = bus
		logger.Info().Str("channel", cfg.RedisChannel).Msg("publishing events through redis")
	}

	eng := engine.New(store, engine.Config{
		AvgConsultMinutes: cfg.AvgConsultMinutes,
		WaitJitterMinutes: cfg.WaitJitterMinutes,
		NoShowAfter:       cfg.NoShowAfter(),
	},
		engine.WithLogger(logger),
		engine.WithPublisher(publisher),
		engine.WithSuggester(suggester),
	)
	if err := eng.Load(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to load queue snapshot")
	}

	var (
		listener *db.Listener
		feed     db.FeedStatus
	)
	if pool != nil {
		listener = db.NewListener(pool, eng.HandleChange, logger)
		// Catch up on anything written between the startup load and
		// LISTEN, or while a dropped connection was down.
		listener.OnConnect = eng.Load
		feed = listener
	}

	e := newEcho(cfg, logger, pool, feed, hub, eng)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("version", version).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if listener != nil {
		g.Go(func() error {
			return listener.Run(gctx)
		})
	}
	if bus != nil {
		g.Go(func() error {
			return bus.Run(gctx, hub)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("server stopped")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
