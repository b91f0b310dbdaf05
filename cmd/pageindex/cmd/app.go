package cmd

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dgallion1/pageindex/internal/answer"
	"github.com/dgallion1/pageindex/internal/builder"
	"github.com/dgallion1/pageindex/internal/config"
	"github.com/dgallion1/pageindex/internal/directory"
	"github.com/dgallion1/pageindex/internal/errs"
	"github.com/dgallion1/pageindex/internal/llm"
	"github.com/dgallion1/pageindex/internal/pipeline"
	"github.com/dgallion1/pageindex/internal/retrieval"
	"github.com/dgallion1/pageindex/internal/search"
	"github.com/dgallion1/pageindex/internal/selector"
	"github.com/dgallion1/pageindex/internal/treestore"
)

// app holds the components shared by the commands. caller, indexer's
// builder and engine are nil when the command does not talk to a model.
type app struct {
	cfg     config.Config
	log     *slog.Logger
	caller  *llm.Caller
	store   treestore.Store
	dir     *directory.Index
	indexer *pipeline.Indexer
	engine  *retrieval.Engine
	closers []func() error
}

// newApp wires storage and, when withLLM is set, the model-backed
// components. bopts overrides the configured builder options when non-nil.
func newApp(ctx context.Context, c config.Config, log *slog.Logger, withLLM bool, bopts *builder.Options) (*app, error) {
	validate := c.ValidateStorage
	if withLLM {
		validate = c.Validate
	}
	if err := validate(); err != nil {
		return nil, err
	}

	a := &app{cfg: c, log: log}
	base, err := openStore(ctx, c)
	if err != nil {
		return nil, err
	}
	cache, err := a.openCache(ctx)
	if err != nil {
		return nil, err
	}
	a.store = base
	if cache != nil {
		a.store = treestore.NewCachedStore(base, cache, log)
	}

	a.dir, err = directory.Load(c.Paths.DirectoryIndex)
	if err != nil {
		return nil, err
	}

	var b *builder.Builder
	if withLLM {
		client, err := llm.NewClient(c.LLMOptions())
		if err != nil {
			return nil, err
		}
		a.caller = llm.NewCaller(client, c.RetryPolicy(),
			llm.WithLimiter(llm.NewLimiter(c.LLM.RequestsPerSecond, c.LLM.Burst)),
			llm.WithLogger(log),
		)
		opts := c.BuilderOptions()
		if bopts != nil {
			opts = *bopts
		}
		b = builder.New(a.caller, opts, log)
		a.engine = retrieval.New(
			selector.New(a.caller, a.dir, log),
			search.New(a.caller, a.store, c.SearchOptions(), log),
			answer.New(a.caller, c.Retrieval.MaxContextTokens, log),
			c.Retrieval.MaxDocumentsPerQuery,
			log,
		)
	}
	a.indexer = pipeline.NewIndexer(b, a.store, a.dir, log)
	return a, nil
}

func openStore(ctx context.Context, c config.Config) (treestore.Store, error) {
	switch c.Storage.Backend {
	case "s3":
		return treestore.NewS3Store(ctx, treestore.S3Options{
			Endpoint:        c.Storage.Endpoint,
			Bucket:          c.Storage.Bucket,
			Prefix:          c.Storage.Prefix,
			AccessKeyID:     c.Storage.AccessKeyID,
			SecretAccessKey: c.Storage.SecretAccessKey,
			UseSSL:          c.Storage.UseSSL,
		})
	default:
		return treestore.NewFileStore(c.Paths.TreesDir)
	}
}

// openCache returns the in-process LRU, fronting Redis when configured.
func (a *app) openCache(ctx context.Context) (treestore.Cache, error) {
	c := a.cfg.Cache
	if c.Backend == "none" {
		return nil, nil
	}
	lru := treestore.NewLRU(a.cfg.Retrieval.CacheSize, c.TTL)
	if c.Backend != "redis" {
		return lru, nil
	}
	rc, err := treestore.NewRedisCache(ctx, treestore.RedisOptions{
		Addr:     c.RedisAddr,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
		TTL:      c.TTL,
	}, a.log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, rc.Close)
	return treestore.Tiered{lru, rc}, nil
}

func (a *app) Close() {
	for _, fn := range a.closers {
		if err := fn(); err != nil {
			a.log.Warn("close", "error", err)
		}
	}
}

// friendly replaces err with its user-facing hint. The raw error is
// logged at debug level.
func friendly(err error) error {
	slog.Debug("command failed", "error", err)
	return errors.New(errs.UserMessage(err))
}
