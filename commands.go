package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/FACorreiaa/loci-planner/internal/app/domain/itinerary"
	"github.com/FACorreiaa/loci-planner/internal/app/domain/persistence"
	"github.com/FACorreiaa/loci-planner/internal/app/models"
	"github.com/FACorreiaa/loci-planner/internal/pkg/config"
	"github.com/FACorreiaa/loci-planner/internal/pkg/debugger"
	"github.com/FACorreiaa/loci-planner/internal/pkg/logger"
	"github.com/FACorreiaa/loci-planner/internal/server"
)

type rootOptions struct {
	envFile string
	verbose bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "planner",
		Short:         "Itinerary generation and state management service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log at debug level")

	cmd.AddCommand(newServeCmd(opts), newGenerateCmd(opts), newHealthCmd(opts))
	return cmd
}

// bootstrap loads the environment, the configuration and the logger.
func bootstrap(opts *rootOptions) (*config.Config, *zap.Logger, error) {
	if err := godotenv.Load(opts.envFile); err != nil && !os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("loading %s: %w", opts.envFile, err)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	level := cfg.LogLevel
	if opts.verbose {
		level = "debug"
	}
	log, err := logger.New(level, zap.String("service", server.ServiceName))
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func fxLogger(log *zap.Logger) fx.Option {
	return fx.WithLogger(func() fxevent.Logger {
		return &fxevent.ZapLogger{Logger: log.Named("fx")}
	})
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := bootstrap(opts)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			otelShutdown, err := server.InitObservability(cfg, log)
			if err != nil {
				return err
			}
			defer func() {
				if err := otelShutdown(context.Background()); err != nil {
					log.Error("Failed to shutdown OpenTelemetry", zap.Error(err))
				}
			}()

			app := fx.New(
				fx.Supply(cfg, log),
				fxLogger(log),
				server.Module,
			)
			if err := app.Start(cmd.Context()); err != nil {
				return err
			}
			<-cmd.Context().Done()
			log.Info("Shutdown signal received")
			return app.Stop(context.WithoutCancel(cmd.Context()))
		},
	}
}

// withEngine starts the core graph, runs fn and stops it again.
func withEngine(ctx context.Context, opts *rootOptions, fn func(*itinerary.Engine, *zap.Logger) error) error {
	cfg, log, err := bootstrap(opts)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	var engine *itinerary.Engine
	app := fx.New(
		fx.Supply(cfg, log),
		fxLogger(log),
		server.CoreModule,
		fx.Populate(&engine),
	)
	if err := app.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := app.Stop(context.WithoutCancel(ctx)); err != nil {
			log.Warn("Stopping components failed", zap.Error(err))
		}
	}()
	return fn(engine, log)
}

func newGenerateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "generate <input.json|->",
		Short: "Generate an itinerary from a JSON request and print its state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), opts, func(e *itinerary.Engine, log *zap.Logger) error {
				st, err := e.Generate(cmd.Context(), in)
				if err != nil {
					return err
				}
				debugger.DebugPrintJSON(log, "Generated itinerary", st.Output.Metadata)
				return writeJSON(cmd.OutOrStdout(), st)
			})
		},
	}
}

func newHealthCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Probe every configured storage tier",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEngine(cmd.Context(), opts, func(e *itinerary.Engine, _ *zap.Logger) error {
				report := e.Health(cmd.Context())
				if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
				if report.Status != persistence.Healthy {
					return fmt.Errorf("storage is %s", report.Status)
				}
				return nil
			})
		},
	}
}

// readInput decodes a generation request from path, or from stdin for "-".
func readInput(stdin io.Reader, path string) (*models.GeneratorInput, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening input: %w", err)
		}
		defer f.Close()
		r = f
	}
	var in models.GeneratorInput
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		return nil, fmt.Errorf("decoding input: %w", err)
	}
	return &in, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
