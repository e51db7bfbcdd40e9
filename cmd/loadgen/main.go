// Command loadgen simulates marketplace traffic against a collector.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/victoralfred/marketpulse/internal/config"
	"github.com/victoralfred/marketpulse/internal/domain/analytics"
	"github.com/victoralfred/marketpulse/internal/heatmap"
	"github.com/victoralfred/marketpulse/internal/infrastructure/redis"
	"github.com/victoralfred/marketpulse/internal/loadgen"
	"github.com/victoralfred/marketpulse/internal/logging"
	"github.com/victoralfred/marketpulse/internal/middleware"
	"github.com/victoralfred/marketpulse/internal/providers"
	"github.com/victoralfred/marketpulse/internal/tracker"
	"github.com/victoralfred/marketpulse/internal/transport"
	"github.com/victoralfred/marketpulse/internal/writekey"
)

type options struct {
	endpoint    string
	sessions    int
	concurrency int
	events      int
	seed        uint64
	think       time.Duration
	record      bool
	definitions string
	batchSize   int
	threshold   int
	logLevel    string

	redisAddr string

	writeKey       string
	writeKeySecret string
	project        string

	ga4MeasurementID string
	ga4Secret        string
	mixpanelToken    string
	amplitudeKey     string
	segmentKey       string
	natsURL          string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "loadgen",
		Short: "Simulate marketplace sessions against an analytics collector",
		Long: `Runs simulated buyer sessions through the tracking SDK. Each session tracks page
views and journey events, clicks into the heatmap and optionally records its interactions.
Goals and funnels are read from a definitions YAML file.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.endpoint, "endpoint", "e", "http://localhost:8080", "collector base URL")
	f.IntVarP(&opts.sessions, "sessions", "n", 10, "number of sessions to simulate")
	f.IntVarP(&opts.concurrency, "concurrency", "c", 4, "sessions running at once")
	f.IntVar(&opts.events, "events", 20, "interactions per session")
	f.Uint64Var(&opts.seed, "seed", 0, "random seed, 0 for a random run")
	f.DurationVar(&opts.think, "think", 50*time.Millisecond, "pause between interactions")
	f.BoolVar(&opts.record, "record", true, "record every session")
	f.StringVarP(&opts.definitions, "definitions", "d", "", "goals and funnels YAML file")
	f.IntVar(&opts.batchSize, "batch-size", 20, "tracker batch size")
	f.IntVar(&opts.threshold, "heatmap-threshold", 100, "heatmap points per page before sending")
	f.StringVar(&opts.logLevel, "log-level", "info", "log level")
	f.StringVar(&opts.writeKey, "write-key", "", "write key sent with ingest requests")
	f.StringVar(&opts.writeKeySecret, "write-key-secret", "", "sign a write key with the collector secret instead of passing one")
	f.StringVar(&opts.project, "project", "loadgen", "project claim of a signed write key")
	f.StringVar(&opts.redisAddr, "redis", "", "keep tracker sessions and profiles in Redis at this address")
	f.StringVar(&opts.ga4MeasurementID, "ga4-measurement-id", "", "forward to GA4 with this measurement id")
	f.StringVar(&opts.ga4Secret, "ga4-api-secret", "", "GA4 Measurement Protocol secret")
	f.StringVar(&opts.mixpanelToken, "mixpanel-token", "", "forward to Mixpanel with this token")
	f.StringVar(&opts.amplitudeKey, "amplitude-key", "", "forward to Amplitude with this API key")
	f.StringVar(&opts.segmentKey, "segment-key", "", "forward to Segment with this write key")
	f.StringVar(&opts.natsURL, "nats", "", "publish tracker calls to NATS at this URL")

	return cmd
}

func run(cmd *cobra.Command, opts *options) error {
	logger, err := logging.New(logging.Config{Level: opts.logLevel, Format: "console", Output: "stderr"})
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	defs := &config.Definitions{}
	if opts.definitions != "" {
		if defs, err = config.LoadDefinitions(opts.definitions); err != nil {
			return err
		}
	}

	trackerCfg := tracker.DefaultConfig()
	trackerCfg.BatchSize = opts.batchSize
	if len(defs.Segments) > 0 {
		trackerCfg.SegmentRules = defs.Segments
	}

	simOpts := []loadgen.Option{
		loadgen.WithDefinitions(defs),
		loadgen.WithLogger(logger),
	}

	if opts.redisAddr != "" {
		client, err := redis.NewClient(ctx, opts.redisAddr, "", 0)
		if err != nil {
			return err
		}
		defer func() {
			_ = client.Close()
		}()
		simOpts = append(simOpts, loadgen.WithStorage(redis.NewStorage(client, "loadgen:")))
	}

	bridge, release, err := buildBridge(opts, logger)
	if err != nil {
		return err
	}
	if bridge != nil {
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := bridge.Close(closeCtx); err != nil {
				logger.Warn("Provider queue not drained", zap.Error(err))
			}
			release()
		}()
		simOpts = append(simOpts, loadgen.WithDispatcher(bridge))
	}

	key, err := resolveWriteKey(opts)
	if err != nil {
		return err
	}
	trCfg := transport.Config{Endpoint: opts.endpoint}
	if key != "" {
		trCfg.Headers = map[string]string{middleware.APIKeyHeader: key}
	}

	var tr analytics.Transport = transport.NewHTTP(trCfg)
	sim := loadgen.New(loadgen.Config{
		Sessions:         opts.sessions,
		Concurrency:      opts.concurrency,
		EventsPerSession: opts.events,
		Seed:             opts.seed,
		Think:            opts.think,
		Record:           opts.record,
		Tracker:          trackerCfg,
		Heatmap:          heatmap.Config{Threshold: opts.threshold},
	}, tr, simOpts...)

	result, err := sim.Run(ctx)
	if result != nil {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "sessions:   %d (%d failed)\n", result.Sessions, result.Failures)
		fmt.Fprintf(out, "events:     %d\n", result.Events)
		fmt.Fprintf(out, "page views: %d\n", result.PageViews)
		fmt.Fprintf(out, "goals:      %d\n", result.Goals)
		fmt.Fprintf(out, "recordings: %d\n", result.Recordings)
		fmt.Fprintf(out, "elapsed:    %s\n", result.Elapsed.Round(time.Millisecond))
	}
	if err != nil {
		return err
	}
	if result.Failures > 0 {
		return fmt.Errorf("%d of %d sessions failed", result.Failures, result.Sessions)
	}
	return nil
}

// buildBridge registers a provider for every configured credential; nil when none are set.
// release closes provider connections once the bridge has drained.
func buildBridge(opts *options, logger *zap.Logger) (bridge *providers.Bridge, release func(), err error) {
	var list []providers.Provider
	release = func() {}

	if opts.ga4MeasurementID != "" {
		list = append(list, providers.NewGA4(providers.GA4Config{
			MeasurementID: opts.ga4MeasurementID,
			APISecret:     opts.ga4Secret,
		}, nil))
	}
	if opts.mixpanelToken != "" {
		list = append(list, providers.NewMixpanel(providers.MixpanelConfig{Token: opts.mixpanelToken}, nil))
	}
	if opts.amplitudeKey != "" {
		list = append(list, providers.NewAmplitude(providers.AmplitudeConfig{APIKey: opts.amplitudeKey}, nil))
	}
	if opts.segmentKey != "" {
		list = append(list, providers.NewSegment(providers.SegmentConfig{WriteKey: opts.segmentKey}, nil))
	}
	if opts.natsURL != "" {
		nc, err := providers.DialNATS(providers.NATSConfig{URL: opts.natsURL, Source: "loadgen"})
		if err != nil {
			return nil, nil, err
		}
		list = append(list, nc)
		release = nc.Close
	}

	if len(list) == 0 {
		return nil, release, nil
	}

	bridge = providers.NewBridge(providers.DefaultBridgeConfig(), providers.WithLogger(logger.Named("providers")))
	for _, p := range list {
		bridge.Register(p)
		logger.Info("Forwarding to provider", zap.String("provider", p.Name()))
	}
	return bridge, release, nil
}

func resolveWriteKey(opts *options) (string, error) {
	if opts.writeKey != "" || opts.writeKeySecret == "" {
		return opts.writeKey, nil
	}
	keys, err := writekey.New(opts.writeKeySecret, "collector")
	if err != nil {
		return "", err
	}
	return keys.Issue(opts.project, 24*time.Hour)
}
