package main

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/micahrl/fhirsync/internal/config"
	"github.com/micahrl/fhirsync/internal/logger"
	"github.com/micahrl/fhirsync/internal/remote"
	"github.com/micahrl/fhirsync/internal/source"
	"github.com/micahrl/fhirsync/internal/syncer"
)

type runOptions struct {
	configPath  string
	endpoint    string
	policy      string
	urlsFile    string
	dir         string
	region      string
	timeout     time.Duration
	rate        float64
	dryRun      bool
	verbose     bool
	failOnError bool
}

func newRunCmd(stdout, stderr io.Writer, getenv func(string) string) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run [source-url...]",
		Short: "Fetch every source URL and create or update its record",
		Long: `Fetches each source URL in order, checks the endpoint for a record with the
same identifier, and creates or updates it according to the policy.
Failures on one URL are logged and the run continues with the next one.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, opts, args, stdout, stderr, getenv)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.configPath, "config", "fhirsync.toml", "path to config file")
	f.StringVar(&opts.endpoint, "endpoint", "", "record endpoint URL (overrides "+config.EnvEndpoint+")")
	f.StringVar(&opts.policy, "policy", "", "skip-if-exists, update-if-exists or always-create")
	f.StringVar(&opts.urlsFile, "urls-file", "", "file with one source URL per line")
	f.StringVar(&opts.dir, "dir", "", "directory whose *.json files are added as sources")
	f.StringVar(&opts.region, "region", "", "AWS region override for s3:// sources")
	f.DurationVar(&opts.timeout, "timeout", 0, "per-request timeout (0 means none)")
	f.Float64Var(&opts.rate, "rate", 0, "maximum endpoint requests per second (0 means unlimited)")
	f.BoolVar(&opts.dryRun, "dry-run", false, "fetch and check only, print plan")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "print debug output")
	f.BoolVar(&opts.failOnError, "fail-on-error", false, "exit non-zero when any document fails")
	return cmd
}

func runSync(cmd *cobra.Command, opts *runOptions, args []string, stdout, stderr io.Writer, getenv func(string) string) error {
	cfg, err := loadConfig(cmd, opts, getenv)
	if err != nil {
		return err
	}

	log := logger.New(stderr, opts.verbose)

	urls, err := collectURLs(cfg, args, log)
	if err != nil {
		return err
	}
	if len(urls) == 0 {
		log.Warn("No source URLs configured")
	}

	ctx := cmd.Context()
	httpClient := &http.Client{Timeout: cfg.Timeout}

	client, err := remote.NewClient(cfg.Endpoint, remote.Options{
		HTTPClient:        httpClient,
		RequestsPerSecond: cfg.RequestsPerSecond,
		ContentType:       cfg.ContentType,
		UserAgent:         userAgent(),
	})
	if err != nil {
		return err
	}

	var s3Client source.S3API
	if source.NeedsS3(urls) {
		c, err := source.NewS3Client(ctx, cfg.Region)
		if err != nil {
			return err
		}
		s3Client = c
	}
	fetcher := source.NewFetcher(httpClient, s3Client, userAgent())

	s, err := syncer.New(fetcher, client, syncer.Options{
		Policy: cfg.Policy,
		DryRun: opts.dryRun,
		Logger: log,
	})
	if err != nil {
		return err
	}

	log.Info("Syncing %d source URLs to %s (policy %s)", len(urls), client.Endpoint(), cfg.Policy)
	summary, err := s.Run(ctx, urls)
	if err != nil {
		return fmt.Errorf("sync did not complete: %w", err)
	}

	if opts.dryRun {
		printPlan(stdout, summary)
		fmt.Fprintf(stderr, "\nDry run complete. No changes made.\n")
	}

	if failed := summary.Failed(); opts.failOnError && len(failed) > 0 {
		return fmt.Errorf("%d of %d documents failed", len(failed), len(summary.Results))
	}
	return nil
}

// loadConfig layers the config file, the environment and flags, in that
// order, and validates the result before any network activity.
func loadConfig(cmd *cobra.Command, opts *runOptions, getenv func(string) string) (config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return cfg, err
	}
	if err := cfg.ApplyEnv(getenv); err != nil {
		return cfg, err
	}

	flags := cmd.Flags()
	if flags.Changed("endpoint") {
		cfg.Endpoint = opts.endpoint
	}
	if flags.Changed("policy") {
		p, err := syncer.ParsePolicy(opts.policy)
		if err != nil {
			return cfg, err
		}
		cfg.Policy = p
	}
	if flags.Changed("urls-file") {
		cfg.URLsFile = opts.urlsFile
	}
	if flags.Changed("dir") {
		cfg.Dir = opts.dir
	}
	if flags.Changed("region") {
		cfg.Region = opts.region
	}
	if flags.Changed("timeout") {
		cfg.Timeout = opts.timeout
	}
	if flags.Changed("rate") {
		cfg.RequestsPerSecond = opts.rate
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func collectURLs(cfg config.Config, args []string, log *logger.Logger) ([]string, error) {
	var fromFile, fromDir []string
	var err error
	if cfg.URLsFile != "" {
		fromFile, err = source.ParseList(cfg.URLsFile, func(lineNum int, line string) {
			log.Warn("Invalid source URL on line %d of %s: %s", lineNum, cfg.URLsFile, line)
		})
		if err != nil {
			return nil, fmt.Errorf("reading source list: %w", err)
		}
	}
	if cfg.Dir != "" {
		fromDir, err = source.ScanDirectory(cfg.Dir)
		if err != nil {
			return nil, fmt.Errorf("scanning source directory: %w", err)
		}
	}
	return source.MergeLists(cfg.URLs, fromFile, fromDir, args), nil
}

func printPlan(w io.Writer, summary *syncer.Summary) {
	fmt.Fprintln(w, "=== Plan ===")
	for _, r := range summary.Results {
		switch {
		case r.Outcome == syncer.OutcomeFailed:
			fmt.Fprintf(w, "fail   %s: %v\n", r.URL, r.Err)
		case r.Plan.Action == syncer.ActionUpdate:
			fmt.Fprintf(w, "update %s -> %s\n", r.URL, r.Plan.RemoteID)
		case r.Plan.Action == syncer.ActionSkip:
			fmt.Fprintf(w, "skip   %s (%s)\n", r.URL, r.Plan.Reason)
		default:
			fmt.Fprintf(w, "create %s\n", r.URL)
		}
	}
}
