package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/urfave/cli/v3"

	"github.com/quiltcore/unisearch/pkg/api"
	"github.com/quiltcore/unisearch/pkg/config"
	"github.com/quiltcore/unisearch/pkg/log"
	"github.com/quiltcore/unisearch/pkg/search"
)

// ServeCommand creates the serve command
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the search API server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address (overrides config)",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return runServe(ctx, c.String("config"), c.String("addr"))
		},
	}
}

func runServe(ctx context.Context, configPath, addrOverride string) error {
	logger := log.For("serve")

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	rt, cleanup, err := buildService(ctx, cfg)
	if err != nil {
		return err
	}

	// The active service is swapped atomically on config reload; the
	// listener and in-flight requests keep whatever they already hold.
	var current atomic.Pointer[runtime]
	current.Store(rt)
	currentCleanup := cleanup

	server := api.NewServer(func() *search.Service {
		return current.Load().service
	}, rt.slog)

	addr := cfg.Server.Addr
	if addrOverride != "" {
		addr = addrOverride
	}

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("listening on %s", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	// Nil channels block forever in the select below, so a failed
	// watcher just disables automatic reload.
	var watchEvents chan fsnotify.Event
	var watchErrors chan error
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warnf("creating config watcher: %v", err)
	} else {
		watchEvents = watcher.Events
		watchErrors = watcher.Errors
		defer func() {
			if err := watcher.Close(); err != nil {
				logger.Warnf("closing config watcher: %v", err)
			}
		}()
		if err := watcher.Add(configPath); err != nil {
			logger.Warnf("watching config file %s: %v", configPath, err)
		} else {
			logger.Infof("watching config file for changes: %s", configPath)
		}
	}

	reload := func() {
		newCfg, err := config.LoadConfig(configPath)
		if err != nil {
			logger.Errorf("reload: loading config: %v", err)
			return
		}
		newRT, newCleanup, err := buildService(ctx, newCfg)
		if err != nil {
			logger.Errorf("reload: building service: %v", err)
			return
		}
		current.Store(newRT)
		currentCleanup()
		currentCleanup = newCleanup
		logger.Infof("configuration reloaded, backends: %v", newRT.service.BackendIDs())
	}

	shutdown := func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		currentCleanup()
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return shutdown()
		case err := <-errCh:
			currentCleanup()
			return err
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGHUP:
				logger.Infof("received SIGHUP, reloading configuration")
				reload()
			default:
				logger.Infof("shutting down")
				return shutdown()
			}
		case event, ok := <-watchEvents:
			if !ok {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
				event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
				// Editors often replace the file atomically; re-add the
				// path and give the write a moment to finish.
				if event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
					time.Sleep(200 * time.Millisecond)
					if _, err := os.Stat(configPath); os.IsNotExist(err) {
						logger.Warnf("config file removed, keeping previous configuration")
						continue
					}
					if err := watcher.Add(configPath); err != nil {
						logger.Warnf("re-adding config file to watcher: %v", err)
					}
				} else {
					time.Sleep(100 * time.Millisecond)
				}
				logger.Infof("config file changed (%s), reloading", event.Op)
				reload()
			}
		case err, ok := <-watchErrors:
			if ok && err != nil {
				logger.Warnf("config watcher error: %v", err)
			}
		}
	}
}
