package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/saccohq/be-coop-scheduler/internal/client"
	"github.com/saccohq/be-coop-scheduler/internal/config"
	"github.com/saccohq/be-coop-scheduler/internal/database"
	"github.com/saccohq/be-coop-scheduler/internal/metrics"
	"github.com/saccohq/be-coop-scheduler/internal/repository"
	"github.com/saccohq/be-coop-scheduler/internal/schema"
	"github.com/saccohq/be-coop-scheduler/internal/service"
)

func main() {
	root := &cobra.Command{
		Use:           "scheduler",
		Short:         "Cooperative society job scheduler and approval workflow engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(runCmd(), serveCmd(), scheduleCmd(), seedTemplatesCmd(), statsCmd(), auditCmd(), approvalsCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app bundles the wired components one invocation needs.
type app struct {
	cfg        *config.Config
	log        zerolog.Logger
	db         *database.DB
	caps       schema.Capabilities
	events     *client.EventPublisher
	dispatcher *service.Dispatcher
	scheduler  *service.Scheduler
}

func (a *app) close() {
	a.events.Close()
	a.db.Close()
}

// buildApp loads configuration, probes the schema once, and wires every
// repository, gateway, handler and service.
func buildApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	log := newLogger(cfg)
	log.Info().
		Str("service", cfg.ServiceName).
		Str("environment", cfg.Environment).
		Msg("Starting scheduler")

	db, err := database.New(ctx, database.Config{
		URL:           cfg.DatabaseURL,
		MaxConns:      cfg.DBMaxConns,
		MinConns:      cfg.DBMinConns,
		ConnectWindow: cfg.DBConnectWindow,
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	log.Info().Msg("Database connection established")

	caps, err := schema.Probe(ctx, db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("probe schema: %w", err)
	}
	log.Info().
		Bool("job_status", caps.HasJobStatus).
		Bool("job_name", caps.HasJobName).
		Bool("sms_queue", caps.HasSMSQueue).
		Msg("Schema capabilities resolved")

	events, err := client.NewEventPublisher(cfg.NATSURL, log)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("connect event publisher: %w", err)
	}

	jobRepo := repository.NewJobRepository(db, caps)
	templateRepo := repository.NewTemplateRepository(db)
	workflowRepo := repository.NewWorkflowRepository(db)
	assignmentRepo := repository.NewAssignmentRepository(db)
	userRepo := repository.NewUserRepository(db)
	noteRepo := repository.NewNotificationRepository(db, caps)
	loanRepo := repository.NewLoanRepository(db, caps)
	memberRepo := repository.NewMemberRepository(db)

	emailGW := client.NewEmailGateway(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPFrom)
	smsGW := client.NewSMSGateway(cfg.SMSEndpoint, cfg.SMSAPIKey, cfg.SMSSenderID, cfg.SMSRateLimit)

	scheduler := service.NewScheduler(jobRepo, log)
	workflows := service.NewWorkflowService(
		db, workflowRepo, templateRepo, assignmentRepo, userRepo,
		noteRepo, scheduler, loanRepo, memberRepo, events, log)

	handlers := service.NewJobHandlers(
		loanRepo, memberRepo, noteRepo, jobRepo,
		emailGW, smsGW, workflows, events, cfg.BackupDir, log)

	dispatcher := service.NewDispatcher(db, jobRepo, cfg.BatchSize, log)
	handlers.RegisterAll(dispatcher)

	return &app{
		cfg:        cfg,
		log:        log,
		db:         db,
		caps:       caps,
		events:     events,
		dispatcher: dispatcher,
		scheduler:  scheduler,
	}, nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).Level(level).With().
		Timestamp().
		Str("service", cfg.ServiceName).
		Logger()
	if cfg.Environment == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	return logger
}

// runCmd executes one dispatcher pass and exits; the cron entry point.
func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Execute one pass over due jobs and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()
			metrics.Init()

			results, err := a.dispatcher.RunPendingJobs(ctx)
			if err != nil {
				return err
			}
			for _, r := range results {
				status := "ok"
				if !r.Success {
					status = "failed"
				}
				fmt.Printf("%s %s [%s] %s\n", r.JobID, r.JobType, status, r.Message)
			}
			return nil
		},
	}
}

// serveCmd polls on a fixed interval and exposes metrics and health endpoints.
func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Poll for due jobs on an interval, exposing /metrics and /health",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			a, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()
			metrics.Init()

			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
				if err := a.db.Ping(r.Context()); err != nil {
					http.Error(w, `{"status":"unhealthy"}`, http.StatusServiceUnavailable)
					return
				}
				w.Write([]byte(`{"status":"healthy"}`))
			})

			srv := &http.Server{
				Addr:         fmt.Sprintf(":%d", a.cfg.MetricsPort),
				Handler:      mux,
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 10 * time.Second,
			}
			go func() {
				a.log.Info().Int("port", a.cfg.MetricsPort).Msg("Metrics listener started")
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					a.log.Error().Err(err).Msg("Metrics listener failed")
				}
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

			ticker := time.NewTicker(a.cfg.PollInterval)
			defer ticker.Stop()

			a.log.Info().Dur("interval", a.cfg.PollInterval).Msg("Polling for due jobs")
			for {
				select {
				case <-ticker.C:
					if _, err := a.dispatcher.RunPendingJobs(ctx); err != nil {
						a.log.Error().Err(err).Msg("Dispatcher pass failed")
					}
				case <-quit:
					a.log.Info().Msg("Shutting down")
					shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
					defer shutdownCancel()
					if err := srv.Shutdown(shutdownCtx); err != nil {
						a.log.Error().Err(err).Msg("Metrics listener shutdown failed")
					}
					return nil
				}
			}
		},
	}
}

// scheduleCmd enqueues one job from the command line.
func scheduleCmd() *cobra.Command {
	var (
		entityID string
		at       string
		priority int
		params   []string
	)

	cmd := &cobra.Command{
		Use:   "schedule <job_type>",
		Short: "Enqueue a job (deduplicated by derived name)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			runAt := time.Now()
			if at != "" {
				runAt, err = time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("invalid --at value, expected RFC3339: %w", err)
				}
			}

			parameters := map[string]any{}
			for _, kv := range params {
				key, value, found := strings.Cut(kv, "=")
				if !found {
					return fmt.Errorf("invalid --param %q, expected key=value", kv)
				}
				parameters[key] = value
			}

			var entity *string
			if entityID != "" {
				entity = &entityID
			}

			id, err := a.scheduler.ScheduleJob(ctx, repository.JobType(args[0]), entity, runAt, parameters, priority)
			if err != nil {
				return err
			}

			// Dedup may have returned an existing job; show what the caller got.
			job, err := repository.NewJobRepository(a.db, a.caps).GetByID(ctx, id)
			if err != nil {
				return err
			}
			fmt.Printf("%s %s %s scheduled_at=%s\n",
				job.ID, job.JobType, job.Status, job.ScheduledAt.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&entityID, "entity-id", "", "business entity the job targets")
	cmd.Flags().StringVar(&at, "at", "", "not-before timestamp (RFC3339), default now")
	cmd.Flags().IntVar(&priority, "priority", service.DefaultPriority, "dispatch priority, higher runs first")
	cmd.Flags().StringArrayVar(&params, "param", nil, "job parameter key=value (repeatable)")
	return cmd
}
