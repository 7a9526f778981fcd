package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // profiling is only served on the configured listen address
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bsv-blockchain/chainstate/settings"
	"github.com/bsv-blockchain/chainstate/ulogger"
	"github.com/ordishs/gocore"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

// Name used by build script for the binaries. (Please keep on single line)
const progname = "chainstate"

// Version & commit strings injected at build with -ldflags -X...
var version string
var commit string

func init() {
	gocore.SetInfo(progname, version, commit)
}

func main() {
	tSettings := settings.NewSettings()

	targetHash := flag.String("target", "", "apply towards this block hash instead of the most-work block")
	blockStoreURL := flag.String("blocks", tSettings.ChainState.BlockStoreURL.String(), "block directory, file:///path[?checksum=true]")
	help := flag.Bool("help", false, "Show help")

	flag.Parse()

	if *help {
		fmt.Println("usage: chainstate [options]")
		fmt.Println("where options are:")
		fmt.Println("")
		flag.PrintDefaults()

		return
	}

	logger := ulogger.New(progname, ulogger.WithLevel(tSettings.LogLevel), ulogger.WithLoggerType(tSettings.LoggerType))

	stats := gocore.Config().Stats()
	logger.Infof("STATS\n%s\nVERSION\n-------\n%s (%s)\n\n", stats, version, commit)

	if err := run(logger, tSettings, *blockStoreURL, *targetHash); err != nil {
		logger.Errorf("chainstate returning an error: %v", err)
		os.Exit(2)
	}
}

func run(logger ulogger.Logger, tSettings *settings.Settings, blockStoreURL, targetHash string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupt)

	if addr := tSettings.ChainState.HTTPListenAddress; addr != "" {
		if tSettings.ChainState.PrometheusEndpoint != "" {
			logger.Infof("Starting prometheus endpoint on %s%s", addr, tSettings.ChainState.PrometheusEndpoint)
			http.Handle(tSettings.ChainState.PrometheusEndpoint, promhttp.Handler())
		}

		go func() {
			server := &http.Server{Addr: addr, ReadHeaderTimeout: 5 * time.Second}
			logger.Errorf("http server stopped: %v", server.ListenAndServe())
		}()
	}

	s, err := newSyncer(ctx, logger, tSettings, blockStoreURL, targetHash)
	if err != nil {
		return err
	}

	defer s.close()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		return s.run(gCtx)
	})

	select {
	case <-interrupt:
		logger.Infof("received shutdown signal")
	case <-gCtx.Done():
	}

	cancel()

	return g.Wait()
}
