package cli

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/rpaops/orcsync/internal/archive"
	"github.com/rpaops/orcsync/internal/clock"
	"github.com/rpaops/orcsync/internal/config"
	"github.com/rpaops/orcsync/internal/etl"
	"github.com/rpaops/orcsync/internal/store"
	"github.com/rpaops/orcsync/internal/uipath"
	"github.com/rpaops/orcsync/pkg/database"
	"github.com/rpaops/orcsync/pkg/logger"
	"github.com/rpaops/orcsync/pkg/models"
)

type runtime struct {
	cfg         *config.Config
	db          *sql.DB
	dialect     store.Dialect
	client      *uipath.Client
	checkpoints *store.CheckpointStore
	loader      *store.Loader
	archive     etl.PageArchiver
	mongoClient *mongo.Client
}

func newRuntime() (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := logger.Init(cfg.LogLevel); err != nil {
		return nil, err
	}

	db, err := database.ConnectSQL(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return nil, err
	}
	dialect, err := store.DialectFor(cfg.DBDriver)
	if err != nil {
		db.Close()
		return nil, err
	}

	clk := clock.System{}
	rt := &runtime{
		cfg:         cfg,
		db:          db,
		dialect:     dialect,
		checkpoints: store.NewCheckpointStore(db, dialect, clk, cfg.StaleAfter, cfg.HistoryWindow),
		loader:      store.NewLoader(db, dialect, clk),
		client: uipath.New(uipath.Config{
			BaseURL:        cfg.BaseURL,
			ClientID:       cfg.ClientID,
			ClientSecret:   cfg.ClientSecret,
			Org:            cfg.Org,
			Tenant:         cfg.Tenant,
			Scope:          cfg.Scope,
			Timeout:        cfg.HTTPTimeout,
			RetryAttempts:  cfg.RetryAttempts,
			RetryBaseDelay: cfg.RetryBaseDelay,
			RetryMaxDelay:  cfg.RetryMaxDelay,
		}, clk),
	}

	if cfg.ArchiveURI != "" {
		mc, err := database.ConnectMongo(cfg.ArchiveURI)
		if err != nil {
			db.Close()
			return nil, err
		}
		rt.mongoClient = mc
		rt.archive = archive.NewMongo(mc, cfg.ArchiveDB)
	}

	return rt, nil
}

func (rt *runtime) Close() {
	if rt.db != nil {
		rt.db.Close()
	}
	if rt.mongoClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = rt.mongoClient.Disconnect(ctx)
	}
	logger.Sync()
}

func sourceName(flag string) (string, error) {
	switch flag {
	case "queue-items", store.TableQueueItems:
		return store.TableQueueItems, nil
	case "jobs":
		return store.TableJobs, nil
	default:
		return "", fmt.Errorf("unknown source %q (want queue-items or jobs)", flag)
	}
}

func runPipelines(ctx context.Context, opts *RunOptions) error {
	var sources []string
	if opts.Source == "all" {
		sources = []string{store.TableQueueItems, store.TableJobs}
	} else {
		name, err := sourceName(opts.Source)
		if err != nil {
			return err
		}
		sources = []string{name}
	}

	var from, to time.Time
	var err error
	if opts.From != "" {
		if from, err = time.Parse(time.RFC3339, opts.From); err != nil {
			return fmt.Errorf("invalid --from: %w", err)
		}
	}
	if opts.To != "" {
		if to, err = time.Parse(time.RFC3339, opts.To); err != nil {
			return fmt.Errorf("invalid --to: %w", err)
		}
	}

	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := store.EnsureSchema(ctx, rt.db, rt.dialect); err != nil {
		return err
	}
	if err := rt.client.Authenticate(ctx); err != nil {
		return err
	}

	var failed bool
	for _, source := range sources {
		summary, err := rt.pipelineFor(source, opts, from, to).Run(ctx)
		printSummary(summary)
		if err != nil {
			failed = true
			logger.Errorf("%s run failed: %v", source, err)
		}
	}
	if failed {
		return fmt.Errorf("one or more pipeline runs failed")
	}
	return nil
}

func (rt *runtime) pipelineFor(source string, opts *RunOptions, from, to time.Time) *etl.Pipeline {
	var extractor etl.Extractor
	var transformer etl.Transformer

	if source == store.TableQueueItems {
		extractor = uipath.NewQueueItemExtractor(rt.client)
		transformer = &etl.QueueItemTransformer{SourceSystem: rt.cfg.SourceSystem, SLA: rt.cfg.SLA}
	} else {
		extractor = uipath.NewJobExtractor(rt.client)
		transformer = &etl.JobTransformer{SourceSystem: rt.cfg.SourceSystem, SLA: rt.cfg.SLA}
	}

	pageSize := rt.cfg.PageSize
	if opts.PageSize > 0 {
		pageSize = opts.PageSize
	}

	return &etl.Pipeline{
		Source:      source,
		Extractor:   extractor,
		Transformer: transformer,
		Loader:      rt.loader,
		Checkpoints: rt.checkpoints,
		Archive:     rt.archive,
		Clock:       clock.System{},
		PageSize:    pageSize,
		StorageRetry: etl.RetryPolicy{
			Attempts:  rt.cfg.RetryAttempts,
			BaseDelay: rt.cfg.RetryBaseDelay,
			MaxDelay:  rt.cfg.RetryMaxDelay,
		},
		WindowFrom: from,
		WindowTo:   to,
		DryRun:     opts.DryRun,
	}
}

func printSummary(s models.RunSummary) {
	fmt.Printf("%s: status=%s fetched=%d loaded=%d failed=%d window=[%s, %s] duration=%s\n",
		s.Source, s.Status, s.RecordsFetched, s.RecordsLoaded, s.RecordsFailed,
		s.WindowFrom.Format(time.RFC3339), s.WindowTo.Format(time.RFC3339), s.Duration.Round(time.Millisecond))
	if s.Error != "" {
		fmt.Printf("%s: error: %s\n", s.Source, s.Error)
	}
}
