package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/nordtext/annod/internal/config"
	"github.com/nordtext/annod/internal/observability"
	"github.com/nordtext/annod/pkg/job"
	"github.com/nordtext/annod/pkg/reconciler"
	"github.com/nordtext/annod/pkg/remote"
	"github.com/nordtext/annod/pkg/storage"
	"github.com/nordtext/annod/pkg/storage/local"
	"github.com/nordtext/annod/pkg/storage/s3"
)

// stack bundles the wired coordinator collaborators.
type stack struct {
	cfg        *config.Config
	cache      job.Cache
	store      *job.Store
	queue      *job.Queue
	backend    storage.Backend
	paths      storage.Paths
	machine    *job.Machine
	catalog    *job.Catalog
	reconciler *reconciler.Reconciler
	redis      *job.RedisCache
}

// close releases held connections.
func (s *stack) close() {
	if s.redis != nil {
		_ = s.redis.Close()
	}
}

// cacheChecker adapts the job cache to a health probe.
type cacheChecker struct {
	cache job.Cache
}

func (c cacheChecker) CheckHealth(ctx context.Context) error {
	_, err := c.cache.Get(ctx, "health")
	if errors.Is(err, job.ErrCacheMiss) {
		return nil
	}
	return err
}

// buildStack wires the full coordinator from configuration.
func buildStack(ctx context.Context, cfg *config.Config) (*stack, error) {
	log := observability.Logger

	var cache job.Cache
	var redisCache *job.RedisCache
	if cfg.Redis.Addr != "" {
		rc, err := job.NewRedisCache(ctx, job.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		cache = rc
		redisCache = rc
	} else {
		log.Warn("no redis address configured, using the in-process job cache")
		cache = job.NewMemoryCache()
	}

	var backend storage.Backend
	var paths storage.Paths
	switch cfg.Storage.Backend {
	case "local":
		b, err := local.New(local.Config{
			Root:         cfg.Storage.Root,
			LocalResults: cfg.Storage.LocalResults,
		})
		if err != nil {
			return nil, fmt.Errorf("create local storage backend: %w", err)
		}
		backend = b
	case "s3":
		b, err := s3.New(ctx, s3.Config{
			Bucket:          cfg.Storage.Bucket,
			Region:          cfg.Storage.Region,
			Endpoint:        cfg.Storage.Endpoint,
			Profile:         cfg.Storage.Profile,
			AccessKeyID:     cfg.Storage.AccessKeyID,
			SecretAccessKey: cfg.Storage.SecretAccessKey,
			ForcePathStyle:  cfg.Storage.ForcePathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("create s3 storage backend: %w", err)
		}
		backend = b
		paths.Root = cfg.Storage.Root
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}

	ssh, err := remote.NewSSH(remote.SSHConfig{
		User:    cfg.Sparv.User,
		Host:    cfg.Sparv.Host,
		KeyFile: cfg.Sparv.SSHKey,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("configure ssh: %w", err)
	}

	store := job.NewStore(cache, cfg.Queue.Dir, log)
	queue := job.NewQueue(cache, store, cfg.Queue.Dir, log)
	if err := queue.Init(ctx); err != nil {
		return nil, fmt.Errorf("recover job queue: %w", err)
	}

	jobCfg := job.Config{
		Command:          cfg.Sparv.Command,
		RunArgs:          cfg.Sparv.RunArgs,
		InstallArgs:      cfg.Sparv.InstallArgs,
		Environ:          cfg.Sparv.Environ,
		DefaultExports:   cfg.Sparv.DefaultExports,
		DefaultInstalls:  cfg.Sparv.DefaultInstalls,
		NohupFile:        cfg.Sparv.NohupFile,
		RunScript:        cfg.Sparv.RunScript,
		RemoteCorporaDir: cfg.Sparv.RemoteCorporaDir,
		StagingDir:       cfg.Queue.StagingDir,
		Paths:            paths,
	}
	machine := job.NewMachine(store, queue, backend, ssh, ssh, jobCfg, log)
	catalog := job.NewCatalog(ssh, jobCfg)

	rec := reconciler.New(machine, queue, reconciler.Config{
		Workers:   cfg.Sparv.Workers,
		Interval:  cfg.Queue.CheckFrequency,
		ProbeRate: cfg.Queue.ProbeRate,
	}, log)

	return &stack{
		cfg:        cfg,
		cache:      cache,
		store:      store,
		queue:      queue,
		backend:    backend,
		paths:      paths,
		machine:    machine,
		catalog:    catalog,
		reconciler: rec,
		redis:      redisCache,
	}, nil
}
