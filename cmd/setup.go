package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fyerfyer/aven-ingest/config"
	"github.com/fyerfyer/aven-ingest/internal/cache"
	"github.com/fyerfyer/aven-ingest/internal/database"
	"github.com/fyerfyer/aven-ingest/internal/document"
	"github.com/fyerfyer/aven-ingest/internal/embedding"
	"github.com/fyerfyer/aven-ingest/internal/logging"
	"github.com/fyerfyer/aven-ingest/internal/repository"
	"github.com/fyerfyer/aven-ingest/internal/services"
	"github.com/fyerfyer/aven-ingest/internal/vectordb"
	"github.com/fyerfyer/aven-ingest/pkg/storage"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// app 命令共享的组件
type app struct {
	cfg      *config.Config
	logger   *logrus.Logger
	storage  storage.Storage
	client   embedding.Client // 未配置API密钥时为nil
	store    *vectordb.Store
	manifest repository.ManifestRepository // 未启用清单时为nil
	pipeline *services.Pipeline
	runID    string // 流水线和写入清单共用的运行ID
	closers  []func() error
}

// newApp 按配置组装全部组件
func newApp(cfg *config.Config) (*app, error) {
	logger, err := setupLogger(cfg.Log)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, runID: uuid.New().String()}

	a.storage, err = setupStorage(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	a.client, err = a.setupEmbedding()
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize embedding client: %w", err)
	}

	a.store, err = a.setupVectorStore()
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize vector store: %w", err)
	}

	// store模式下流水线不调用嵌入模型
	var engine *embedding.Engine
	if cfg.Embed.Mode == string(services.ModeClient) {
		if a.client == nil {
			a.Close()
			return nil, fmt.Errorf("embedding client is required for %s mode", cfg.Embed.Mode)
		}
		engine = setupEngine(cfg.Embed, a.client, logger)
	}

	a.pipeline = services.NewPipeline(a.storage, engine, a.store,
		services.WithPreprocessor(setupPreprocessor(cfg, logger)),
		services.WithArtifacts(services.Artifacts{
			Input:      cfg.Input.Path,
			Processed:  cfg.Output.Processed,
			Embeddings: cfg.Output.Embeddings,
			Summary:    cfg.Output.Summary,
		}),
		services.WithUpsertBatchSize(cfg.VectorDB.BatchSize),
		services.WithVerifyQuery(cfg.App.VerifyQuery, cfg.App.VerifyK),
		services.WithRunID(a.runID),
		services.WithLogger(logger),
	)

	return a, nil
}

// Close 按创建的逆序释放资源
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.WithError(err).Warn("Failed to release resource")
		}
	}
	a.closers = nil
}

// setupLogger 设置日志系统
func setupLogger(cfg config.LogConfig) (*logrus.Logger, error) {
	lc := logging.DefaultConfig()
	lc.Level = cfg.Level
	lc.Format = cfg.Format
	lc.File = cfg.File
	if cfg.MaxSizeMB > 0 {
		lc.MaxSizeMB = cfg.MaxSizeMB
	}
	if cfg.MaxBackups > 0 {
		lc.MaxBackups = cfg.MaxBackups
	}
	return logging.New(lc)
}

// setupStorage 设置产物存储
func setupStorage(cfg config.StorageConfig) (storage.Storage, error) {
	return storage.New(storage.Config{
		Type: cfg.Type,
		Local: storage.LocalConfig{
			Path: cfg.Path,
		},
		Minio: storage.MinioConfig{
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			UseSSL:    cfg.UseSSL,
			Bucket:    cfg.Bucket,
			Prefix:    cfg.Prefix,
		},
	})
}

// setupEmbedding 设置嵌入模型客户端，启用缓存时包装缓存层
// 没有API密钥时返回nil
func (a *app) setupEmbedding() (embedding.Client, error) {
	cfg := a.cfg.Embed
	if cfg.APIKey == "" {
		return nil, nil
	}

	opts := []embedding.Option{
		embedding.WithAPIKey(cfg.APIKey),
		embedding.WithMaxRetries(cfg.MaxRetries),
		embedding.WithDimensions(cfg.Dimensions),
		embedding.WithTaskType(cfg.TaskType),
		embedding.WithQueryTaskType(cfg.QueryTaskType),
	}
	if cfg.Model != "" {
		opts = append(opts, embedding.WithModel(cfg.Model))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, embedding.WithBaseURL(cfg.Endpoint))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, embedding.WithTimeout(cfg.Timeout))
	}

	client, err := embedding.NewClient(cfg.Provider, opts...)
	if err != nil {
		return nil, err
	}

	if !cfg.Cache.Enable {
		return client, nil
	}

	c, err := cache.NewCache(cache.Config{
		Type:          cfg.Cache.Type,
		Prefix:        cfg.Cache.Prefix,
		RedisAddr:     cfg.Cache.Address,
		RedisPassword: cfg.Cache.Password,
		RedisDB:       cfg.Cache.DB,
		DefaultTTL:    cfg.Cache.TTL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding cache: %w", err)
	}
	a.closers = append(a.closers, c.Close)

	a.logger.WithFields(logrus.Fields{
		"type": cfg.Cache.Type,
		"ttl":  cfg.Cache.TTL.String(),
	}).Info("Embedding cache enabled")

	return embedding.NewCachedClient(client, c, cfg.Cache.TTL, a.logger), nil
}

// setupEngine 设置批量嵌入引擎
func setupEngine(cfg config.EmbedConfig, client embedding.Client, logger *logrus.Logger) *embedding.Engine {
	return embedding.NewEngine(client,
		embedding.WithEngineBatchSize(cfg.BatchSize),
		embedding.WithMaxWorkers(cfg.MaxWorkers),
		embedding.WithBatchPacer(embedding.NewIntervalLimiter(cfg.BatchInterval)),
		embedding.WithRetryPacer(embedding.NewIntervalLimiter(cfg.RetryInterval)),
		embedding.WithRateLimitBackoff(cfg.RateLimitBackoff),
		embedding.WithEngineLogger(logger),
	)
}

// setupVectorStore 设置向量库和写入清单
func (a *app) setupVectorStore() (*vectordb.Store, error) {
	cfg := a.cfg.VectorDB

	vc := vectordb.Config{
		Type:         cfg.Type,
		Collection:   cfg.Collection,
		Endpoint:     cfg.Endpoint,
		APIKey:       cfg.APIKey,
		Tenant:       cfg.Tenant,
		Database:     cfg.Database,
		DSN:          cfg.DSN,
		Dimension:    cfg.Dimension,
		DistanceType: vectordb.DistanceType(cfg.Distance),
		Timeout:      cfg.Timeout,
		Logger:       a.logger,
	}
	// 接口值为nil时不能直接赋值给Embedder
	if a.client != nil {
		vc.Embedder = a.client
	}

	repo, err := vectordb.NewRepository(vc)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, repo.Close)

	opts := []vectordb.StoreOption{vectordb.WithRunID(a.runID), vectordb.WithStoreLogger(a.logger)}
	if a.cfg.Manifest.Enable {
		if err := database.Setup(&database.Config{
			Type:         a.cfg.Manifest.Type,
			DSN:          a.cfg.Manifest.DSN,
			MaxOpenConns: database.DefaultConfig().MaxOpenConns,
			MaxIdleConns: database.DefaultConfig().MaxIdleConns,
			MaxLifetime:  database.DefaultConfig().MaxLifetime,
		}, a.logger); err != nil {
			return nil, fmt.Errorf("failed to initialize manifest database: %w", err)
		}
		a.closers = append(a.closers, database.Close)
		a.manifest = repository.NewManifestRepository()
		opts = append(opts, vectordb.WithManifest(a.manifest))
	}

	store := vectordb.NewStore(repo, opts...)

	a.logger.WithFields(logrus.Fields{
		"type":       cfg.Type,
		"collection": repo.Name(),
		"manifest":   a.cfg.Manifest.Enable,
	}).Info("Vector store ready")

	return store, nil
}

// setupPreprocessor 设置预处理器
func setupPreprocessor(cfg *config.Config, logger *logrus.Logger) *document.Preprocessor {
	dc := cfg.Document

	filter := document.NewContentFilter(document.FilterOptions{
		RootDomain:         cfg.App.RootDomain,
		SentinelPhrases:    dc.SentinelPhrases,
		BlockedURLPatterns: dc.BlockedURLPatterns,
		DocumentExtensions: dc.DocumentExtensions,
	})

	splitter := document.NewTextSplitter(document.SplitterConfig{
		Mode:    document.SplitMode(dc.ChunkMode),
		MaxSize: dc.ChunkSize,
		Overlap: dc.ChunkOverlap,
		MinSize: dc.MinChunkSize,
	})

	return document.NewPreprocessor(
		document.WithFilter(filter),
		document.WithSplitter(splitter),
		document.WithMinWords(dc.MinWords),
		document.WithLogger(logger),
	)
}

// loadConfig 加载并校验配置，命令行日志级别优先
func loadConfig(path, logLevel string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// withApp 组装组件并执行fn，结束后释放资源
// 传给fn的上下文在收到中断信号时取消
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(configPath, logLevel)
	if err != nil {
		return err
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}
