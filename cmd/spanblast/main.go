// spanblast generates synthetic traces and pushes them through a reporter
// pipeline, then prints what the pipeline did with them. Use it to size
// queue and packet settings against a real agent or collector.
//
// Pipeline settings come from REPORTER_* environment variables; flags
// override them.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/zoobzio/reporterz"
)

type options struct {
	service      string
	workers      int
	traces       int
	depth        int
	duration     time.Duration
	sampler      string
	samplerParam float64
	agent        string
	endpoint     string
	compression  string
	metricsAddr  string
	logLevel     string
	development  bool
}

func main() {
	if err := run(); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var opts options
	flagSet := pflag.NewFlagSet("spanblast", pflag.ContinueOnError)
	flagSet.StringVar(&opts.service, "service", "spanblast", "service name attached to every batch")
	flagSet.IntVarP(&opts.workers, "workers", "w", 4, "goroutines producing traces")
	flagSet.IntVarP(&opts.traces, "traces", "n", 1000, "traces per worker (0 runs until --duration)")
	flagSet.IntVar(&opts.depth, "depth", 3, "child spans per trace")
	flagSet.DurationVarP(&opts.duration, "duration", "d", 0, "stop after this long (0 means no limit)")
	flagSet.StringVar(&opts.sampler, "sampler", reporterz.SamplerTypeConst, "const, probabilistic or ratelimiting")
	flagSet.Float64Var(&opts.samplerParam, "sampler-param", 1, "decision, rate or traces per second, by sampler")
	flagSet.StringVar(&opts.agent, "agent", "", "UDP agent host:port (overrides REPORTER_AGENT_HOST_PORT)")
	flagSet.StringVar(&opts.endpoint, "endpoint", "", "HTTP collector URL (overrides REPORTER_ENDPOINT)")
	flagSet.StringVar(&opts.compression, "compression", "", "HTTP body compression: none, gzip or zstd")
	flagSet.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
	flagSet.StringVar(&opts.logLevel, "log-level", "info", "debug, info, warn or error")
	flagSet.BoolVar(&opts.development, "dev", false, "console logging for local runs")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}
	if opts.workers <= 0 {
		return fmt.Errorf("--workers must be positive, got %d", opts.workers)
	}
	if opts.traces == 0 && opts.duration == 0 {
		return errors.New("either --traces or --duration must be set")
	}

	logger, err := newLogger(opts.logLevel, opts.development)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := reporterz.LoadConfig("REPORTER")
	if err != nil {
		return err
	}
	if opts.agent != "" {
		cfg.SenderConfig.AgentHostPort = opts.agent
	}
	if opts.endpoint != "" {
		cfg.SenderConfig.Endpoint = opts.endpoint
	}
	if opts.compression != "" {
		cfg.SenderConfig.Compression = opts.compression
	}

	local := reporterz.NewLocalFactory()
	factory := reporterz.Factory(local)
	if opts.metricsAddr != "" {
		registry := prometheus.NewRegistry()
		factory = teeFactory{local, reporterz.NewPrometheusFactory("spanblast", registry)}
		server := serveMetrics(opts.metricsAddr, registry, logger)
		defer func() { _ = server.Close() }()
	}
	metrics := reporterz.NewMetrics(factory)
	cfg.Metrics = metrics
	cfg.Logger = logger.Named("reporter")

	sampler, err := newSampler(opts.sampler, opts.samplerParam)
	if err != nil {
		return err
	}

	reporter, err := reporterz.NewRemoteReporter(cfg)
	if err != nil {
		return err
	}
	tracer := reporterz.NewTracer(opts.service, sampler, reporter,
		reporterz.WithMetrics(metrics),
		reporterz.WithLogger(logger.Named("tracer")),
		reporterz.WithProcessTags(reporterz.NewTag("spanblast.workers", reporterz.Int64Value(int64(opts.workers)))))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.duration)
		defer cancel()
	}

	logger.Info("starting",
		zap.String("sampler", opts.sampler),
		zap.Int("workers", opts.workers),
		zap.Int("traces_per_worker", opts.traces),
		zap.Int("depth", opts.depth))

	start := time.Now()
	spans := blast(ctx, tracer, opts)
	elapsed := time.Since(start)

	closeErr := tracer.Close()
	if closeErr != nil {
		logger.Warn("pipeline did not shut down cleanly", zap.Error(closeErr))
	}

	printSummary(os.Stdout, local, spans, elapsed)
	return closeErr
}

func newSampler(kind string, param float64) (reporterz.Sampler, error) {
	switch kind {
	case reporterz.SamplerTypeConst:
		return reporterz.NewConstSampler(param != 0), nil
	case reporterz.SamplerTypeProbabilistic:
		return reporterz.NewProbabilisticSampler(param)
	case reporterz.SamplerTypeRateLimiting:
		return reporterz.NewRateLimitingSampler(param, nil), nil
	default:
		return nil, fmt.Errorf("unknown sampler %q", kind)
	}
}

// blast runs the workers and returns the number of spans they finished.
func blast(ctx context.Context, tracer *reporterz.Tracer, opts options) int64 {
	var finished atomic.Int64
	var wg sync.WaitGroup
	for w := 0; w < opts.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; opts.traces == 0 || i < opts.traces; i++ {
				if ctx.Err() != nil {
					return
				}
				finished.Add(emitTrace(ctx, tracer, w, i, opts.depth))
			}
		}()
	}
	wg.Wait()
	return finished.Load()
}

func emitTrace(ctx context.Context, tracer *reporterz.Tracer, worker, iteration, depth int) int64 {
	rootCtx, root := tracer.StartSpan(ctx, "blast.request")
	root.SetTag("worker", reporterz.Int64Value(int64(worker)))
	root.SetTag("iteration", reporterz.Int64Value(int64(iteration)))

	for d := 0; d < depth; d++ {
		_, child := tracer.StartSpan(rootCtx, fmt.Sprintf("blast.step-%d", d))
		child.SetTag("step", reporterz.Int64Value(int64(d)))
		child.SetTag("cache.hit", reporterz.BoolValue(d%2 == 0))
		child.Finish()
	}
	root.Finish()
	return int64(depth + 1)
}

func serveMetrics(addr string, registry *prometheus.Registry, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", addr))
	return server
}

func printSummary(w io.Writer, factory *reporterz.LocalFactory, spans int64, elapsed time.Duration) {
	counters, gauges := factory.Snapshot()

	fmt.Fprintf(w, "finished %d spans in %v (%.0f spans/s)\n",
		spans, elapsed.Round(time.Millisecond), float64(spans)/elapsed.Seconds())

	keys := make([]string, 0, len(counters)+len(gauges))
	values := make(map[string]int64, len(counters)+len(gauges))
	for k, v := range counters {
		keys = append(keys, k)
		values[k] = v
	}
	for k, v := range gauges {
		keys = append(keys, k)
		values[k] = v
	}
	sort.Strings(keys)

	width := 0
	for _, k := range keys {
		width = max(width, len(k))
	}
	for _, k := range keys {
		fmt.Fprintf(w, "  %s%s  %d\n", k, strings.Repeat(" ", width-len(k)), values[k])
	}
}
