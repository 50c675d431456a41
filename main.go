package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/time/rate"

	"tradeflow/config"
	"tradeflow/internal/archive"
	"tradeflow/internal/audit"
	"tradeflow/internal/binance"
	"tradeflow/internal/snapshot"
	"tradeflow/internal/stream"
	"tradeflow/internal/trade"
	"tradeflow/logger"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	ordersPath := flag.String("orders", "", "Place the orders in this CSV file and exit")
	batchMode := flag.Bool("batch", false, "Submit the orders file as exchange batches instead of row by row")
	batchLeverage := flag.Int("leverage", 0, "Leverage applied once per symbol in batch mode")
	closePath := flag.String("close", "", "Execute the close template in this CSV file and exit")
	statusSymbol := flag.String("status", "", "Query the status of one order on this symbol and exit")
	statusOrderID := flag.Int64("order-id", 0, "Exchange order id for -status")
	statusClientID := flag.String("client-order-id", "", "Client order id for -status")

	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAgeDays); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Tradeflow.Name,
		"version": cfg.Tradeflow.Version,
		"env":     config.AppEnvironment(),
	}).Info("starting tradeflow")

	creds, err := config.LoadCredentials()
	if err != nil {
		log.WithError(err).Error("Failed to resolve exchange credentials")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.Enabled {
		logger.InitCloudWatch(cfg.Metrics.Region, cfg.Metrics.Namespace, cfg.Tradeflow.Name)
		logger.StartReport(ctx, log, cfg.Metrics.ReportInterval)
	}

	client := binance.NewClient(cfg.Binance, creds, log)
	resolver := binance.NewResolver(client, log)
	auditWriter := audit.NewWriter(filepath.Join(cfg.Data.Dir, cfg.Data.AuditFile), log)
	engine := trade.NewEngine(client, resolver, auditWriter, cfg.Orders, log)

	// One-shot modes run a single operation and exit.
	switch {
	case *ordersPath != "":
		runOrdersFile(ctx, engine, cfg, *ordersPath, *batchMode, *batchLeverage, log)
		return
	case *closePath != "":
		runCloseFile(ctx, engine, *closePath, log)
		return
	case *statusSymbol != "":
		runStatusQuery(ctx, engine, *statusSymbol, *statusOrderID, *statusClientID, log)
		return
	}

	runService(ctx, cancel, client, auditWriter, cfg, log)
}

func runOrdersFile(ctx context.Context, engine *trade.Engine, cfg *config.Config, path string, batch bool, leverage int, log *logger.Log) {
	intents, err := trade.LoadIntentsCSV(path, cfg.Orders)
	if err != nil {
		log.WithError(err).Error("failed to load orders file")
		os.Exit(1)
	}

	if batch {
		orders := make([]trade.BatchOrder, 0, len(intents))
		for _, intent := range intents {
			orders = append(orders, trade.BatchOrder{
				Currency:     intent.Currency,
				NotionalUSDT: intent.NotionalUSDT,
				Direction:    intent.Direction,
				ReduceOnly:   intent.ReduceOnly,
			})
		}
		results, err := engine.PlaceBatch(ctx, orders, leverage)
		if err != nil {
			log.WithError(err).Error("batch submission failed")
			os.Exit(1)
		}
		placed := 0
		for _, r := range results {
			if r.Order != nil {
				placed++
			}
		}
		log.WithFields(logger.Fields{
			"orders": len(orders),
			"placed": placed,
		}).Info("batch submission finished")
		return
	}

	results := engine.ExecuteIntents(ctx, intents)
	logRowResults(results, log)
}

func runCloseFile(ctx context.Context, engine *trade.Engine, path string, log *logger.Log) {
	requests, err := trade.LoadCloseTemplateCSV(path)
	if err != nil {
		log.WithError(err).Error("failed to load close template")
		os.Exit(1)
	}
	results := engine.ExecuteCloseRequests(ctx, requests)
	logRowResults(results, log)
}

func logRowResults(results []trade.Result, log *logger.Log) {
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	log.WithFields(logger.Fields{
		"rows":   len(results),
		"failed": failed,
	}).Info("row execution finished")
	if failed > 0 {
		os.Exit(1)
	}
}

func runStatusQuery(ctx context.Context, engine *trade.Engine, symbol string, orderID int64, clientOrderID string, log *logger.Log) {
	resp, err := engine.GetOrderStatus(ctx, symbol, orderID, clientOrderID, true)
	if err != nil {
		log.WithError(err).Error("order status query failed")
		os.Exit(1)
	}
	log.WithFields(logger.Fields{
		"symbol":       resp.Symbol,
		"order_id":     resp.OrderID,
		"status":       resp.Status,
		"executed_qty": resp.ExecutedQty,
		"avg_price":    resp.AvgPrice,
	}).Info("order status")
}

func runService(ctx context.Context, cancel context.CancelFunc, client *binance.Client, auditWriter *audit.Writer, cfg *config.Config, log *logger.Log) {
	var archiver *archive.Archiver
	if cfg.Storage.S3.Enabled {
		var err error
		archiver, err = archive.NewArchiver(cfg.Storage.S3, log)
		if err != nil {
			log.WithError(err).Error("failed to create audit archiver")
			os.Exit(1)
		}
		auditWriter.SetSink(archiver.Add)
		if err := archiver.Start(ctx); err != nil {
			log.WithError(err).Error("failed to start audit archiver")
			os.Exit(1)
		}
	} else {
		log.WithComponent("main").Info("S3 storage disabled; skipping audit archiver")
	}

	limiter := rate.NewLimiter(rate.Limit(cfg.Sync.RequestsPerSecond), 1)
	estimates := snapshot.NewEstimates()

	positions := snapshot.NewPositions(client, cfg.Data, cfg.Sync.FundingLookback, log)
	marketData := snapshot.NewMarketData(client, cfg.Sync.MarketDataSymbols, limiter,
		filepath.Join(cfg.Data.Dir, cfg.Data.MarketDataFile), log)
	funding := snapshot.NewFunding(client, cfg.Sync.MarketDataSymbols, cfg.Sync.FundingLookback, limiter,
		filepath.Join(cfg.Data.Dir, cfg.Data.FundingFile),
		filepath.Join(cfg.Data.Dir, cfg.Data.FundingEstimate),
		estimates, log)

	workers := []*snapshot.Worker{
		snapshot.NewWorker("positions_snapshot", cfg.Sync.PositionsInterval, positions.Pass, nil, log),
		snapshot.NewWorker("market_data_snapshot", cfg.Sync.MarketDataInterval, marketData.Pass, nil, log),
		snapshot.NewWorker("funding_snapshot", cfg.Sync.FundingInterval, funding.Pass, nil, log),
	}
	for _, w := range workers {
		if err := w.Start(ctx); err != nil {
			log.WithError(err).Error("failed to start snapshot worker")
			os.Exit(1)
		}
	}

	var listener *stream.Listener
	if cfg.Stream.Enabled {
		listener = stream.NewListener(client, strings.TrimSuffix(cfg.Binance.StreamBase, "/"),
			cfg.Stream, auditWriter, positions, log)
		if err := listener.Start(ctx); err != nil {
			log.WithError(err).Error("failed to start order stream listener")
			os.Exit(1)
		}
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	if listener != nil {
		listener.Stop()
	}
	for _, w := range workers {
		w.Stop()
	}
	if archiver != nil {
		archiver.Stop()
	}

	log.Info("tradeflow stopped")
}
