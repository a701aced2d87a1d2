package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/platinummonkey/modhub/pkg/buildctx"
	"github.com/platinummonkey/modhub/pkg/config"
	"github.com/platinummonkey/modhub/pkg/fetch"
	"github.com/platinummonkey/modhub/pkg/loader"
	"github.com/platinummonkey/modhub/pkg/observability"
	"github.com/platinummonkey/modhub/pkg/pipeline"
	"github.com/platinummonkey/modhub/pkg/resolver"
)

// app holds the process-wide state shared by every command. Components are built lazily
// so that commands which only touch the config store never create a build host.
type app struct {
	version   string
	logLevel  string
	configDir string
	cacheDir  string
	assumeYes bool

	in  io.Reader
	out io.Writer
	err io.Writer

	cfg      *config.Config
	logger   *logrus.Logger
	registry *prometheus.Registry
	metrics  *observability.Metrics
	host     *buildctx.Runtime
	pipeline *pipeline.Pipeline
}

// NewRootCommand creates the modhub command tree
func NewRootCommand(version string) *cobra.Command {
	a := &app{version: version, in: os.Stdin, out: os.Stdout, err: os.Stderr}

	rootCmd := &cobra.Command{
		Use:   "modhub",
		Short: "modhub - plugin source aggregation and isolated builds",
		Long: `modhub aggregates plugin definitions from remote hubs, single-plugin repositories,
local folders and external references. It keeps a staleness-aware cache of every
source, merges them into one catalog and builds enabled plugins in isolation.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close(cmd.Context())
		},
	}
	rootCmd.SetIn(a.in)
	rootCmd.SetOut(a.out)
	rootCmd.SetErr(a.err)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides MODHUB_LOG_LEVEL")
	flags.StringVar(&a.configDir, "config-dir", "", "Configuration directory; overrides MODHUB_CONFIG_DIR")
	flags.StringVar(&a.cacheDir, "cache-dir", "", "Cache directory; overrides MODHUB_CACHE_DIR")
	flags.BoolVarP(&a.assumeYes, "yes", "y", false, "Answer yes to every prompt")

	rootCmd.AddCommand(
		newSourcesCommand(a),
		newRefreshCommand(a),
		newListCommand(a),
		newEnableCommand(a),
		newDisableCommand(a),
		newLoadCommand(a),
		newServeCommand(a),
	)
	return rootCmd
}

// Execute runs the command tree with the process arguments
func Execute(version string) error {
	cmd := NewRootCommand(version)
	return cmd.ExecuteContext(context.Background())
}

func (a *app) config() (*config.Config, error) {
	if a.cfg != nil {
		return a.cfg, nil
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	if a.configDir != "" {
		cfg.Paths.ConfigDir = a.configDir
	}
	if a.cacheDir != "" {
		cfg.Paths.CacheDir = a.cacheDir
	}
	if a.logLevel != "" {
		cfg.Observability.LogLevel = observability.ParseLogLevel(a.logLevel)
	}
	a.cfg = cfg
	a.logger = observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat, a.err)
	a.registry = prometheus.NewRegistry()
	a.metrics = observability.NewMetrics(a.registry)
	return cfg, nil
}

// store opens the configuration store without building the pipeline
func (a *app) store() (*config.Store, error) {
	cfg, err := a.config()
	if err != nil {
		return nil, err
	}
	return config.NewStore(cfg.Paths.StorePath()), nil
}

func (a *app) open(ctx context.Context) (*pipeline.Pipeline, error) {
	if a.pipeline != nil {
		return a.pipeline, nil
	}
	cfg, err := a.config()
	if err != nil {
		return nil, err
	}

	host, err := buildctx.NewRuntime(ctx, buildctx.RuntimeOptions{Logger: a.logger})
	if err != nil {
		return nil, fmt.Errorf("failed to start build host: %w", err)
	}
	fetcher := fetch.New(fetch.Options{
		Timeout:     cfg.Fetch.Timeout,
		IPv4Only:    cfg.Fetch.IPv4Only,
		UserAgent:   cfg.Fetch.UserAgent,
		APIBase:     cfg.Fetch.APIBase,
		RawBase:     cfg.Fetch.RawBase,
		ArchiveBase: cfg.Fetch.ArchiveBase,
	})

	p, err := pipeline.New(cfg, pipeline.Deps{
		Fetcher:  fetcher,
		Workshop: &resolver.DirWorkshop{Root: cfg.Paths.WorkshopDir},
		Host:     host,
		Notifier: &consoleNotifier{in: a.in, out: a.err, assumeYes: a.assumeYes},
		Policy:   loader.TrustPolicy{},
		Logger:   a.logger,
		Metrics:  a.metrics,
	})
	if err != nil {
		_ = host.Close(ctx)
		return nil, err
	}
	a.host = host
	a.pipeline = p
	return p, nil
}

func (a *app) close(ctx context.Context) error {
	var err error
	if a.pipeline != nil {
		err = a.pipeline.Close()
		a.pipeline = nil
	}
	if a.host != nil {
		if herr := a.host.Close(ctx); herr != nil && err == nil {
			err = herr
		}
		a.host = nil
	}
	return err
}
