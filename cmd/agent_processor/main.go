package main

import (
	"context"
	"flag"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/mitchelldurbincs/agentprocessor/internal/config"
	"github.com/mitchelldurbincs/agentprocessor/internal/env"
	"github.com/mitchelldurbincs/agentprocessor/internal/learner"
	"github.com/mitchelldurbincs/agentprocessor/internal/monitoring"
	"github.com/mitchelldurbincs/agentprocessor/internal/policy"
	"github.com/mitchelldurbincs/agentprocessor/internal/processor"
	"github.com/mitchelldurbincs/agentprocessor/internal/stats"
	"github.com/mitchelldurbincs/agentprocessor/internal/trajectory"
)

func main() {
	// Command line flags
	configPath := flag.String("config", "", "Path to config file")
	appEnv := flag.String("env", "", "Environment overlay to merge (loads config.<env>.yaml)")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error) (empty to use config default)")
	ticks := flag.Int("ticks", -1, "Number of environment ticks to run (-1 to use config default)")
	maxLen := flag.Int("max-trajectory-length", -1, "Maximum steps per trajectory (-1 to use config default)")
	flag.Parse()

	// Initialize configuration
	if err := config.Init(*configPath); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize config")
	}
	if err := config.LoadEnvironmentConfig(*appEnv); err != nil {
		log.Fatal().Err(err).Str("env", *appEnv).Msg("Failed to load environment config")
	}

	cfg := config.Get()

	// Use config defaults if not overridden by flags
	if *logLevel == "" {
		*logLevel = cfg.Logging.Level
	}
	if *ticks == -1 {
		*ticks = cfg.Environment.Ticks
	}
	if *maxLen == -1 {
		*maxLen = cfg.Processor.MaxTrajectoryLength
	}

	setupLogging(*logLevel, cfg.Logging.Format)

	if config.ConfigFilePath() != "" {
		config.WatchConfig(func(updated *config.Config) {
			zerolog.SetGlobalLevel(parseLevel(updated.Logging.Level))
			log.Info().
				Str("file", config.ConfigFilePath()).
				Str("log_level", updated.Logging.Level).
				Msg("Config reloaded")
		})
	}

	log.Info().
		Str("behavior_id", cfg.Processor.BehaviorID).
		Int("max_trajectory_length", *maxLen).
		Int("num_agents", cfg.Environment.NumAgents).
		Int("ticks", *ticks).
		Msg("Starting agent processor")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *ticks, *maxLen); err != nil {
		log.Fatal().Err(err).Msg("Agent processor failed")
	}
	log.Info().Msg("Agent processor shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, ticks, maxLen int) error {
	behaviorID := cfg.Processor.BehaviorID

	environment, err := env.New(env.Config{
		NumAgents:    cfg.Environment.NumAgents,
		MaxSteps:     cfg.Environment.MaxSteps,
		JoinInterval: cfg.Environment.JoinInterval,
		Seed:         cfg.Environment.Seed,
	}, log.Logger)
	if err != nil {
		return err
	}

	initial := policy.NewLinearPolicy(policy.DefaultWeights(env.ObservationSize), float32(cfg.Policy.LearningRate))

	reporter := stats.NewReporter(behaviorID, log.Logger)
	reporter.AddWriter(stats.NewConsoleWriter("console", log.Logger, parseLevel(cfg.Stats.LogLevel)))

	manager, err := processor.NewAgentManager(initial, behaviorID, reporter, maxLen, log.Logger)
	if err != nil {
		return err
	}

	trainer := learner.New(learner.Config{
		PollInterval:      cfg.Learner.PollInterval,
		PolicyUpdateEvery: cfg.Learner.PolicyUpdateEvery,
		StepSize:          cfg.Learner.StepSize,
	}, manager.TrajectoryQueue, manager.PolicyQueue, initial, log.Logger)

	g, gctx := errgroup.WithContext(ctx)
	monitorCtx, stopMonitor := context.WithCancel(gctx)
	defer stopMonitor()

	if cfg.Monitoring.Enabled {
		monitor := monitoring.NewQueueMonitor(
			cfg.Monitoring.CheckInterval,
			cfg.Monitoring.AlertThreshold,
			cfg.Monitoring.AlertCooldown,
			log.Logger,
		)
		monitor.Register("trajectories", manager.TrajectoryQueue)
		monitor.Register("policies", manager.PolicyQueue)
		g.Go(func() error {
			return monitor.Run(monitorCtx)
		})
	}

	producerDone := make(chan struct{})
	g.Go(func() error {
		defer stopMonitor()
		return trainer.Run(gctx, producerDone)
	})

	g.Go(func() error {
		defer close(producerDone)
		return runEnvironment(gctx, environment, manager, reporter, initial, ticks, cfg.Stats.SummaryFreq, cfg.Policy.Seed)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	reporter.WriteStats(environment.Tick())
	log.Info().
		Int("ticks", environment.Tick()).
		Int("episodes", environment.Episodes()).
		Int("trajectories_processed", trainer.Processed()).
		Int("policies_published", trainer.Published()).
		Msg("Run finished")
	return nil
}

// runEnvironment steps the environment, feeds every step to the manager and
// swaps in the newest policy the learner has published between ticks
func runEnvironment(ctx context.Context, e *env.MultiAgentEnv, m *processor.AgentManager, reporter *stats.Reporter, current *policy.LinearPolicy, ticks, summaryFreq int, seed int64) error {
	rng := rand.New(rand.NewSource(seed))

	info := trajectory.ActionInfo{}
	for i := 0; i < ticks; i++ {
		select {
		case <-ctx.Done():
			log.Info().Int("tick", i).Msg("Environment loop cancelled")
			return nil
		default:
		}

		if next := latestPolicy(m); next != nil {
			current = next
			m.SetPolicy(current)
			log.Debug().Int("version", current.Version).Msg("Swapped policy")
		}

		step := e.Step(info)
		m.AddExperiences(step, info)
		info = current.Evaluate(step, rng)

		if (i+1)%summaryFreq == 0 {
			reporter.WriteStats(i + 1)
		}
	}
	return nil
}

// latestPolicy drains the policy queue and returns the newest linear policy
func latestPolicy(m *processor.AgentManager) *policy.LinearPolicy {
	var latest *policy.LinearPolicy
	for {
		p, ok := m.PolicyQueue.TryGet()
		if !ok {
			return latest
		}
		if lp, ok := p.(*policy.LinearPolicy); ok {
			latest = lp
		}
	}
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func setupLogging(level, format string) {
	zerolog.SetGlobalLevel(parseLevel(level))

	if format == "json" || os.Getenv("APP_ENV") == "production" {
		// JSON output for production
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	} else {
		// Pretty console output for development
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	}
}
