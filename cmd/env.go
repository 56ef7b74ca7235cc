package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intake-service/internal/intake"
	"github.com/sells-group/intake-service/internal/model"
	"github.com/sells-group/intake-service/internal/registry"
	"github.com/sells-group/intake-service/internal/resilience"
	"github.com/sells-group/intake-service/internal/store"
	"github.com/sells-group/intake-service/internal/webhook"
	anthropicpkg "github.com/sells-group/intake-service/pkg/anthropic"
	"github.com/sells-group/intake-service/pkg/crawler"
	"github.com/sells-group/intake-service/pkg/notion"
)

// intakeEnv holds the initialized store, clients, schema, and intake
// orchestrator shared by the run/resume/serve commands.
type intakeEnv struct {
	Store   store.Store
	Intake  *intake.Intake
	Fields  *model.FieldRegistry
	Webhook *webhook.Dispatcher
}

// Close releases resources held by the environment.
func (e *intakeEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "intake.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// loadSchema resolves the tenant field registry from the configured
// source.
func loadSchema(ctx context.Context) (*model.FieldRegistry, error) {
	switch cfg.Schema.Source {
	case "notion":
		if cfg.Notion.Token == "" || cfg.Notion.SchemaDB == "" {
			return nil, eris.New("notion schema source requires INTAKE_NOTION_TOKEN and INTAKE_NOTION_SCHEMA_DB")
		}
		client := notion.NewClient(cfg.Notion.Token)
		return registry.LoadNotionSchema(ctx, client, cfg.Notion.SchemaDB)
	case "file":
		return registry.LoadSchemaFile(cfg.Schema.Path)
	default:
		return nil, eris.Errorf("unsupported schema source: %s", cfg.Schema.Source)
	}
}

// initEnv sets up the store, clients, and schema, and builds the intake
// orchestrator. Callers should defer env.Close().
func initEnv(ctx context.Context) (*intakeEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	fields, err := loadSchema(ctx)
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "load schema")
	}
	zap.L().Info("schema loaded", zap.Int("fields", len(fields.Fields)))

	crawlClient := crawler.NewLocal(crawler.Config{
		MaxPages:    cfg.Crawl.MaxPages,
		MaxDepth:    cfg.Crawl.MaxDepth,
		RequestsPer: float64(cfg.Crawl.RequestsPer),
		ExcludePath: cfg.Crawl.ExcludePaths,
	})
	anthropicClient := anthropicpkg.NewClient(cfg.Anthropic.Key)
	dispatcher := webhook.NewDispatcher(cfg.Webhook.Endpoint, cfg.Webhook.Secret, resilience.DefaultRetryConfig())

	in := intake.New(cfg, st, crawlClient, anthropicClient, fields, dispatcher)

	return &intakeEnv{
		Store:   st,
		Intake:  in,
		Fields:  fields,
		Webhook: dispatcher,
	}, nil
}
