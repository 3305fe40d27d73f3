package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"gopkg.in/ini.v1"
)

func main() {
	cfg, err := ini.Load("settings.ini")
	if err != nil {
		fmt.Printf("failed to load settings: %v\n", err)
		return
	}

	settings, err := LoadSettings(cfg)
	if err != nil {
		fmt.Printf("failed to parse settings: %v\n", err)
		return
	}

	if err := initLogging(cfg); err != nil {
		fmt.Printf("failed to init logging: %v\n", err)
		return
	}
	coreLog.Info("settings loaded")

	store, err := OpenRecordStore(settings.DataDir(), settings.StorageInMemory())
	if err != nil {
		coreLog.Fatalf("failed to open record store: %v", err)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	link := NewLink(settings)
	commands := NewCommandClient(link)
	registry := NewSessionRegistry()
	defer registry.Close()
	fanout := NewFanout(settings.FanoutQueueSize())
	dispatcher := NewDispatcher(registry, commands, fanout, &DefaultFlow{Greeting: settings.Greeting()})

	go link.Run(ctx)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		dispatcher.Run(ctx, link.Events())
	}()

	api := NewAPI(registry, commands, fanout, store, link, settings.DefaultBridgeType(),
		settings.RecordMaxSeconds(), settings.RecordMaxSilence())
	srv := &http.Server{Addr: settings.HTTPAddr(), Handler: api.Router()}
	go func() {
		httpLog.Infof("http server listening on %s", settings.HTTPAddr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpLog.Errorf("http server: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	coreLog.Info("performing a graceful shutdown...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		httpLog.Warnf("http shutdown: %v", err)
	}
	wg.Wait()
	closeLogging()
}
