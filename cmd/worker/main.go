// The worker command drives a single auction through its lifecycle. It is
// invoked by the chronograph as
//
//	worker <command> <auction_doc_id> <config_path> [flags]
//
// where command is one of: check, planning, run, announce, post_results,
// post_auction_protocol, cancel, reschedule.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/openauction/texas-worker/internal/api/bidserver"
	"github.com/openauction/texas-worker/internal/infrastructure/config"
	"github.com/openauction/texas-worker/internal/infrastructure/datasource"
	"github.com/openauction/texas-worker/internal/infrastructure/store"
	"github.com/openauction/texas-worker/internal/infrastructure/telemetry"
	"github.com/openauction/texas-worker/internal/metrics"
	"github.com/openauction/texas-worker/internal/scheduler"
	auctionsvc "github.com/openauction/texas-worker/internal/service/auction"
)

func main() {
	os.Exit(run())
}

func run() int {
	withAPIVersion := flag.String("with_api_version", "", "override the resource API version")
	planningProcedure := flag.String("planning_procerude", "", "planning procedure: quick for sandbox timings")
	debug := flag.Bool("debug", false, "debug logging")
	standalone := flag.Bool("standalone", false, "run against the embedded test datasource")
	auditDocID := flag.String("doc_id", "", "existing audit document id to update")
	flag.Parse()

	args := flag.Args()
	if len(args) < 3 {
		fmt.Fprintln(os.Stderr, "usage: worker <command> <auction_doc_id> <config_path> [flags]")
		return 2
	}
	command, auctionDocID, configPath := args[0], args[1], args[2]

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		return 1
	}
	if *withAPIVersion != "" {
		cfg.ResourceAPIVersion = *withAPIVersion
	}
	if *debug {
		cfg.LogLevel = "debug"
	}
	if *planningProcedure == "quick" {
		cfg.SandboxMode = true
	}
	if *standalone {
		cfg.Datasource.Type = "test"
		cfg.Database.Type = "memory"
		cfg.Deadline.Enabled = false
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		return 1
	}

	logger, err := telemetry.SetupLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "setting up logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	promReg := prometheus.NewRegistry()
	reg := metrics.NewRegistry(promReg)

	st, err := store.Prepare(&cfg.Database, logger, reg)
	if err != nil {
		logger.Error("preparing document store failed", zap.Error(err))
		return 1
	}
	source, err := datasource.Prepare(cfg, auctionDocID, logger)
	if err != nil {
		logger.Error("preparing datasource failed", zap.Error(err))
		return 1
	}

	sched := scheduler.New(logger)
	service := auctionsvc.New(cfg, auctionDocID, st, source, sched, reg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch command {
	case "check":
		if _, err := source.GetData(ctx, true, false); err != nil {
			logger.Error("datasource check failed", zap.Error(err))
			return 1
		}
		logger.Info("configuration ok")
		return 0

	case "planning":
		if err := service.PrepareAuctionDocument(ctx); err != nil {
			logger.Error("planning failed", zap.Error(err))
			return 1
		}
		return 0

	case "run":
		server := bidserver.New(cfg, service, promReg, logger)
		service.SetServer(server)

		sched.Start()
		defer sched.Shutdown()

		if err := service.ScheduleAuction(ctx); err != nil {
			logger.Error("scheduling auction failed", zap.Error(err))
			return 1
		}
		if err := service.WaitToEnd(ctx); err != nil {
			logger.Warn("worker interrupted", zap.Error(err))
			return 1
		}
		return 0

	case "announce":
		if err := service.PostAnnounce(ctx); err != nil {
			logger.Error("announcing failed", zap.Error(err))
			return 1
		}
		return 0

	case "post_results":
		if err := service.PostAuctionResults(ctx); err != nil {
			logger.Error("posting results failed", zap.Error(err))
			return 1
		}
		return 0

	case "post_auction_protocol":
		id, err := service.PostAuctionProtocol(ctx, *auditDocID)
		if err != nil {
			logger.Error("posting auction protocol failed", zap.Error(err))
			return 1
		}
		fmt.Println(id)
		return 0

	case "cancel":
		if err := service.CancelAuction(ctx); err != nil {
			logger.Error("cancelling failed", zap.Error(err))
			return 1
		}
		return 0

	case "reschedule":
		if err := service.RescheduleAuction(ctx); err != nil {
			logger.Error("rescheduling failed", zap.Error(err))
			return 1
		}
		return 0

	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", command)
		return 2
	}
}
