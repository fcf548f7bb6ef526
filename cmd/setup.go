package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/quiltcore/unisearch/pkg/backend"
	"github.com/quiltcore/unisearch/pkg/backend/elastic"
	"github.com/quiltcore/unisearch/pkg/backend/graphql"
	"github.com/quiltcore/unisearch/pkg/backend/objectstore"
	"github.com/quiltcore/unisearch/pkg/config"
	"github.com/quiltcore/unisearch/pkg/dispatch"
	"github.com/quiltcore/unisearch/pkg/log"
	"github.com/quiltcore/unisearch/pkg/search"
	"github.com/quiltcore/unisearch/pkg/searchlog"
)

// runtime bundles everything one loaded configuration produces.
type runtime struct {
	service *search.Service
	slog    *searchlog.Log
}

// buildService assembles the backend registry, dispatcher and
// orchestrator from configuration. Backends left unconfigured are simply
// not registered; the routing table degrades accordingly. The returned
// cleanup closes the diagnostics log.
func buildService(ctx context.Context, cfg *config.Config) (*runtime, func(), error) {
	logger := log.For("setup")
	registry := backend.NewRegistry()
	timeouts := make(map[string]time.Duration)

	if cfg.Catalog.Endpoint != "" {
		gb, err := graphql.New(graphql.Config{
			Endpoint:          cfg.Catalog.Endpoint,
			Token:             cfg.Catalog.ResolveToken(),
			PackagesOperation: cfg.Catalog.PackagesOperation,
			ObjectsOperation:  cfg.Catalog.ObjectsOperation,
			LatestOnly:        cfg.Catalog.LatestOnly,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("configuring catalog backend: %w", err)
		}
		if err := registry.Register(gb); err != nil {
			return nil, nil, err
		}
		timeouts[gb.ID()] = cfg.Catalog.Timeout.Duration
	}

	if len(cfg.Elasticsearch.Addresses) > 0 {
		eb, err := elastic.New(elastic.Config{
			Addresses:       cfg.Elasticsearch.Addresses,
			Index:           cfg.Elasticsearch.Index,
			Token:           cfg.Catalog.ResolveToken(),
			MaxResultWindow: cfg.Elasticsearch.MaxResultWindow,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("configuring elasticsearch backend: %w", err)
		}
		if err := registry.Register(eb); err != nil {
			return nil, nil, err
		}
		timeouts[eb.ID()] = cfg.Elasticsearch.Timeout.Duration
	}

	if cfg.ObjectStore.Enabled {
		ob, err := objectstore.New(ctx, objectstore.Config{
			Region:   cfg.ObjectStore.Region,
			MaxPages: cfg.ObjectStore.MaxPages,
			PageSize: cfg.ObjectStore.PageSize,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("configuring object store backend: %w", err)
		}
		if err := registry.Register(ob); err != nil {
			return nil, nil, err
		}
		timeouts[ob.ID()] = cfg.ObjectStore.Timeout.Duration
	}

	dispatcher := dispatch.NewDispatcher(registry, dispatch.Config{
		DefaultBuckets:     cfg.DefaultBuckets,
		MaxFallbackBuckets: cfg.MaxFallbackBuckets,
		Timeouts:           timeouts,
	})

	opts := search.Options{Token: cfg.Catalog.ResolveToken()}
	rt := &runtime{}
	cleanup := func() {}
	if cfg.SearchLog != "" {
		slog, err := searchlog.Open(cfg.SearchLog)
		if err != nil {
			// Diagnostics are optional; a broken log must not stop the
			// service.
			logger.Warnf("opening search log %s: %v", cfg.SearchLog, err)
		} else {
			opts.Recorder = slog
			rt.slog = slog
			cleanup = func() {
				if err := slog.Close(); err != nil {
					logger.Warnf("closing search log: %v", err)
				}
			}
		}
	}

	logger.Infof("configured backends: %v", registry.IDs())
	rt.service = search.NewService(registry, dispatcher, opts)
	return rt, cleanup, nil
}
