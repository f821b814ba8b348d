// Command wifi-transformer runs the streaming measurement transformer:
// it long-polls a work queue for object-creation notifications,
// fetches and decodes each payload, normalizes it into flat
// measurement records, and publishes size-bounded batches to a
// downstream delivery stream. It also hosts a synchronous HTTP
// ingestion front door on the same process.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/route-beacon/wifi-transformer/internal/config"
	"github.com/route-beacon/wifi-transformer/internal/delivery"
	wifihttp "github.com/route-beacon/wifi-transformer/internal/http"
	"github.com/route-beacon/wifi-transformer/internal/ingest"
	"github.com/route-beacon/wifi-transformer/internal/metrics"
	"github.com/route-beacon/wifi-transformer/internal/objectstore"
	"github.com/route-beacon/wifi-transformer/internal/pipeline"
	"github.com/route-beacon/wifi-transformer/internal/publish"
	"github.com/route-beacon/wifi-transformer/internal/transform"
	"github.com/route-beacon/wifi-transformer/internal/validate"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe()
	case "--help", "-h", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: wifi-transformer <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve   Start the ingestion service (queue consumer + HTTP front door)")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --config <path>   Path to configuration YAML file")
	fmt.Println("  --log-level <lvl> Override log level (debug, info, warn, error)")
}

func parseFlags(args []string) (configPath string, logLevel string) {
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			if i+1 < len(args) {
				configPath = args[i+1]
				i++
			}
		case "--log-level":
			if i+1 < len(args) {
				logLevel = args[i+1]
				i++
			}
		}
	}
	return
}

func loadConfig(args []string) (*config.Config, *zap.Logger) {
	configPath, logLevelOverride := parseFlags(args)

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if logLevelOverride != "" {
		cfg.Service.LogLevel = logLevelOverride
	}

	logger := initLogger(cfg.Service.LogLevel)
	return cfg, logger
}

func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zap.DebugLevel
	case "warn":
		zapLevel = zap.WarnLevel
	case "error":
		zapLevel = zap.ErrorLevel
	default:
		zapLevel = zap.InfoLevel
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(zapLevel)
	zapCfg.EncoderConfig.TimeKey = "ts"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zapCfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

func runServe() {
	cfg, logger := loadConfig(os.Args[2:])
	defer logger.Sync()

	metrics.Register()

	logger.Info("starting wifi-transformer",
		zap.String("instance_id", cfg.Service.InstanceID),
		zap.String("http_listen", cfg.Service.HTTPListen),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Object.Region))
	if err != nil {
		logger.Fatal("failed to load AWS config", zap.Error(err))
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Object.Endpoint != "" {
			o.BaseEndpoint = &cfg.Object.Endpoint
		}
	})
	sqsClient := sqs.NewFromConfig(awsCfg)
	kinesisClient := kinesis.NewFromConfig(awsCfg)

	hotspotBlacklist := make(map[string]struct{}, len(cfg.Filter.MobileHotspot.Blacklist))
	for _, oui := range cfg.Filter.MobileHotspot.Blacklist {
		hotspotBlacklist[strings.ToUpper(oui)] = struct{}{}
	}
	validator := validate.New(
		validate.Limits{
			MinRSSI:             cfg.Filter.MinRSSI,
			MaxRSSI:             cfg.Filter.MaxRSSI,
			MaxLocationAccuracy: cfg.Filter.MaxLocationAccuracy,
		},
		validate.HotspotConfig{
			Enabled:   cfg.Filter.MobileHotspot.Enabled,
			Blacklist: hotspotBlacklist,
			Action:    validate.HotspotAction(strings.ToUpper(cfg.Filter.MobileHotspot.Action)),
		},
	)
	transformer := transform.New(validator, transform.Weights{
		Connected:    cfg.Filter.ConnectedQualityWeight,
		Scan:         cfg.Filter.ScanQualityWeight,
		LowLinkSpeed: cfg.Filter.LowLinkSpeedQualityWeight,
	}, logger.Named("transform"), nil)

	deadLetter := &delivery.LoggingDeadLetterSink{Logger: logger.Named("deadletter")}
	deliveryClient := delivery.New(kinesisClient, delivery.Config{
		StreamName:  cfg.Delivery.StreamName,
		MaxAttempts: cfg.Delivery.MaxAttempts,
	}, deadLetter, logger.Named("delivery"))

	publisher := publish.New(deliveryClient, publish.Limits{
		MaxBatchCount:      cfg.Delivery.MaxBatchSize,
		MaxBatchBytes:      cfg.Delivery.MaxBatchSizeBytes,
		MaxRecordBytes:     cfg.Delivery.MaxRecordSizeBytes,
		MaxInFlightBatches: cfg.Delivery.MaxInFlightBatches,
	}, logger.Named("publish"))

	objStore := objectstore.New(s3Client)

	proc := pipeline.New(objStore, transformer, publisher, ingest.NewBatchID, logger.Named("pipeline"))

	concurrency := cfg.Workers.EffectiveConcurrency(runtime.NumCPU())
	queueURL := cfg.Queue.URL
	if queueURL == "" {
		out, err := sqsClient.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: &cfg.Queue.Name})
		if err != nil {
			logger.Fatal("failed to resolve queue URL from queue name", zap.Error(err))
		}
		queueURL = *out.QueueUrl
	}

	loop := ingest.New(sqsClient, sqsClient, proc, publisher, ingest.Config{
		QueueURL:            queueURL,
		PollWaitSeconds:     int32(cfg.Queue.PollWaitSeconds),
		BatchSize:           int32(cfg.Queue.BatchSize),
		Concurrency:         concurrency,
		ShutdownGracePeriod: time.Duration(cfg.Shutdown.GracePeriodSeconds) * time.Second,
	}, logger.Named("ingest"))

	httpServer := wifihttp.NewServer(cfg.Service.HTTPListen, loop, transformer, publisher.Publish, ingest.NewBatchID, logger.Named("http"))
	if err := httpServer.Start(); err != nil {
		logger.Fatal("failed to start HTTP server", zap.Error(err))
	}

	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	logger.Info("ingest loop and HTTP server started",
		zap.String("queue_url", queueURL),
		zap.Int("concurrency", concurrency),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	shutdownTimeout := time.Duration(cfg.Shutdown.GracePeriodSeconds) * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	cancel()

	select {
	case <-done:
		logger.Info("ingest loop stopped gracefully")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timeout reached, ingest loop may not have finished")
	}

	logger.Info("wifi-transformer stopped")
}
