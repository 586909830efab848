package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"

	modelx "github.com/tanpawarit/Xelora-Customer-Journey-Agent/agent/model"
	orchestratorx "github.com/tanpawarit/Xelora-Customer-Journey-Agent/agent/orchestrator"
	promptx "github.com/tanpawarit/Xelora-Customer-Journey-Agent/agent/prompt"
	retrievalx "github.com/tanpawarit/Xelora-Customer-Journey-Agent/agent/retrieval"
	statex "github.com/tanpawarit/Xelora-Customer-Journey-Agent/agent/state"
	toolx "github.com/tanpawarit/Xelora-Customer-Journey-Agent/agent/tool"
	gatewayx "github.com/tanpawarit/Xelora-Customer-Journey-Agent/gateway"
	configx "github.com/tanpawarit/Xelora-Customer-Journey-Agent/pkg/config"
	_ "github.com/tanpawarit/Xelora-Customer-Journey-Agent/pkg/logger/autoload"
	openrouterx "github.com/tanpawarit/Xelora-Customer-Journey-Agent/pkg/openrouter"
)

type AppConfig struct {
	Company   string `envconfig:"COMPANY" split_words:"true" default:"Xelora"`
	Assistant string `envconfig:"ASSISTANT" split_words:"true" default:"Nong Xelora"`

	// StoreDriver selects the session checkpoint backend: sqlite, postgres,
	// upstash or memory. Business rows always live in SQLite.
	StoreDriver string `envconfig:"STORE_DRIVER" split_words:"true" default:"sqlite"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appCfg := configx.MustNew[AppConfig]("APP")
	modelCfg := configx.MustNew[modelx.Config]("OPENROUTER")
	if err := modelCfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid model config")
	}

	sqliteCfg := configx.MustNew[statex.SQLiteConfig]("SQLITE")
	sqliteStore, err := statex.NewSQLiteStore(*sqliteCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("open sqlite store")
	}
	defer sqliteStore.Close()

	store, err := selectStore(ctx, appCfg.StoreDriver, sqliteStore)
	if err != nil {
		log.Fatal().Err(err).Str("driver", appCfg.StoreDriver).Msg("initialize session store")
	}

	backend, err := toolx.NewSQLiteBackend(sqliteStore.DB())
	if err != nil {
		log.Fatal().Err(err).Msg("initialize business backend")
	}
	directory, err := toolx.LoadDirectory()
	if err != nil {
		log.Fatal().Err(err).Msg("load specialist roster")
	}

	sdkClient := openrouterx.NewClient(modelCfg.OpenRouterFor(modelx.RoleProposer))
	if sdkClient == nil {
		log.Fatal().Msg("initialize embeddings client")
	}
	embedder, err := retrievalx.NewOpenAIEmbedder(sdkClient, modelCfg.EmbeddingModel)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize embedder")
	}
	index, err := retrievalx.BuildDefaultIndex(ctx, embedder)
	if err != nil {
		log.Fatal().Err(err).Msg("build retrieval index")
	}

	prompts := promptx.LoadPromptSet(appCfg.Company, appCfg.Assistant)

	summarizerCfg := modelCfg.OpenRouterFor(modelx.RoleSummarizer)
	summarizer, err := modelx.NewSummarizer(ctx, &summarizerCfg, prompts.Summarizer)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize summarizer")
	}

	registry := toolx.NewRegistry(backend, directory, index, summarizer)

	proposerCfg := modelCfg.OpenRouterFor(modelx.RoleProposer)
	proposer, err := modelx.NewProposer(ctx, &proposerCfg, prompts.Journey, registry.Descriptors())
	if err != nil {
		log.Fatal().Err(err).Msg("initialize proposer")
	}

	gatewayCfg := configx.MustNew[gatewayx.Config]("GATEWAY")
	server := gatewayx.New(nil, *gatewayCfg)

	orch, err := orchestratorx.New(
		store,
		proposer,
		registry.Guard(),
		registry,
		orchestratorx.Config{},
		orchestratorx.WithEventSink(server.Events()),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize orchestrator")
	}
	server.Bind(orch)

	log.Info().Str("addr", gatewayCfg.Addr).Str("store", appCfg.StoreDriver).Msg("journey agent listening")
	if err := server.ListenAndServe(ctx); err != nil {
		log.Fatal().Err(err).Msg("gateway stopped")
	}
}

func selectStore(ctx context.Context, driver string, sqliteStore *statex.SQLiteStore) (statex.Store, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite":
		return sqliteStore, nil
	case "postgres":
		pgCfg := configx.MustNew[statex.PostgresConfig]("POSTGRES")
		return statex.NewPostgresStore(ctx, *pgCfg)
	case "upstash":
		redisCfg := configx.MustNew[statex.UpstashRedisConfig]("UPSTASH_REDIS")
		return statex.NewUpstashRedisStore(*redisCfg)
	case "memory":
		return statex.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
