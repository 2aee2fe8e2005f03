package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"boardsync/internal/discovery"
	"boardsync/internal/metrics"
	"boardsync/internal/server"
	"boardsync/internal/session"
	"boardsync/internal/store"
)

func main() {
	if err := run(); err != nil {
		zap.NewExample().Error(err.Error())
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", ":3000", "address to listen on")
	dataPath := flag.String("data", "data/boardsync.db", "snapshot database path")
	announce := flag.Bool("mdns", false, "advertise the service on the local network")
	debug := flag.Bool("debug", false, "verbose logging")
	flag.Parse()

	var logger *zap.Logger
	var err error
	if *debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return err
	}
	defer logger.Sync()

	if err := os.MkdirAll(filepath.Dir(*dataPath), 0o755); err != nil {
		return err
	}
	st, err := store.OpenBolt(*dataPath)
	if err != nil {
		return err
	}
	defer st.Close()

	promReg := prometheus.NewRegistry()
	mets := metrics.New(promReg)

	saver := store.NewSaver(st, logger)
	saver.OnDrop = mets.SaveDropsTotal.Inc
	saver.OnError = mets.SaveFailuresTotal.Inc
	defer saver.Close()

	reg := session.NewRegistry(session.Config{
		Store:   st,
		Saver:   saver,
		Logger:  logger,
		Metrics: mets,
	})

	srv := server.New(server.Config{
		Addr:     *addr,
		Registry: reg,
		Handler:  session.NewHandler(reg),
		Logger:   logger,
		Metrics:  mets,
		Gatherer: promReg,
	})

	if *announce {
		port, perr := portOf(*addr)
		if perr != nil {
			return perr
		}
		mdnsSrv, merr := discovery.Advertise(port)
		if merr != nil {
			logger.Warn("mdns advertise failed", zap.Error(merr))
		} else {
			defer mdnsSrv.Shutdown()
			logger.Info("advertising via mdns", zap.Int("port", port))
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		logger.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	return srv.Run()
}

func portOf(addr string) (int, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(portStr)
}
