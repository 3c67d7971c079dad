package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 应用程序配置结构体
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Input    InputConfig    `mapstructure:"input"`
	Output   OutputConfig   `mapstructure:"output"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Document DocumentConfig `mapstructure:"document"`
	Embed    EmbedConfig    `mapstructure:"embed"`
	VectorDB VectorDBConfig `mapstructure:"vectordb"`
	Manifest ManifestConfig `mapstructure:"manifest"`
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
}

// AppConfig 应用配置
type AppConfig struct {
	RootDomain  string `mapstructure:"root_domain" validate:"required"` // 目标站点根域名
	VerifyQuery string `mapstructure:"verify_query"`                    // 加载后的测试查询
	VerifyK     int    `mapstructure:"verify_k" validate:"gte=1"`       // 测试查询结果数
}

// InputConfig 输入配置
type InputConfig struct {
	Path string `mapstructure:"path" validate:"required"` // 爬虫输出文件在存储中的键
}

// OutputConfig 产物配置
type OutputConfig struct {
	Processed  string `mapstructure:"processed" validate:"required"`  // 预处理结果
	Embeddings string `mapstructure:"embeddings" validate:"required"` // 向量文件
	Summary    string `mapstructure:"summary" validate:"required"`    // 向量统计
}

// StorageConfig 存储配置
type StorageConfig struct {
	Type      string `mapstructure:"type" validate:"oneof=local minio"` // 存储类型：local 或 minio
	Path      string `mapstructure:"path"`                              // 本地存储路径
	Bucket    string `mapstructure:"bucket"`                            // MinIO桶名称
	Endpoint  string `mapstructure:"endpoint"`                          // MinIO端点
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"` // 是否使用SSL
	Prefix    string `mapstructure:"prefix"`  // 对象键前缀
}

// DocumentConfig 文档处理配置
type DocumentConfig struct {
	ChunkMode          string   `mapstructure:"chunk_mode" validate:"oneof=single window"` // 分块模式
	ChunkSize          int      `mapstructure:"chunk_size" validate:"gte=1"`               // 分块最大字符数
	ChunkOverlap       int      `mapstructure:"chunk_overlap" validate:"gte=0"`            // 分块重叠大小
	MinChunkSize       int      `mapstructure:"min_chunk_size" validate:"gte=0"`           // 末尾分块最小字符数
	MinWords           int      `mapstructure:"min_words" validate:"gte=0"`                // 页面最少单词数
	SentinelPhrases    []string `mapstructure:"sentinel_phrases"`                          // 抓取被干扰的提示语
	BlockedURLPatterns []string `mapstructure:"blocked_url_patterns"`                      // 排除的url片段
	DocumentExtensions []string `mapstructure:"document_extensions"`                       // 允许无标题的文档扩展名
}

// EmbedConfig 向量嵌入模型配置
type EmbedConfig struct {
	Provider         string        `mapstructure:"provider" validate:"oneof=gemini openai"` // 提供商
	Model            string        `mapstructure:"model"`                                   // 模型名称
	APIKey           string        `mapstructure:"api_key"`                                 // API密钥
	Endpoint         string        `mapstructure:"endpoint"`                                // API端点
	Mode             string        `mapstructure:"mode" validate:"oneof=client store"`      // 向量计算方式
	BatchSize        int           `mapstructure:"batch_size" validate:"gte=1"`             // 批处理大小
	Dimensions       int           `mapstructure:"dimensions" validate:"gte=0"`             // 向量维度，0表示模型默认
	TaskType         string        `mapstructure:"task_type"`                               // Gemini入库任务类型
	QueryTaskType    string        `mapstructure:"query_task_type"`                         // Gemini查询任务类型
	BatchInterval    time.Duration `mapstructure:"batch_interval"`                          // 批次间隔
	RetryInterval    time.Duration `mapstructure:"retry_interval"`                          // 单条重试间隔
	RateLimitBackoff time.Duration `mapstructure:"rate_limit_backoff"`                      // 限流后的退避时间
	MaxWorkers       int           `mapstructure:"max_workers" validate:"gte=1"`            // 并行批次数
	MaxRetries       int           `mapstructure:"max_retries" validate:"gte=0"`            // 客户端重试次数
	Timeout          time.Duration `mapstructure:"timeout"`                                 // 请求超时
	Cache            CacheConfig   `mapstructure:"cache"`                                   // 向量缓存
}

// CacheConfig 缓存配置
type CacheConfig struct {
	Enable   bool          `mapstructure:"enable"`                             // 是否启用缓存
	Type     string        `mapstructure:"type" validate:"oneof=memory redis"` // 缓存类型：memory 或 redis
	Address  string        `mapstructure:"address"`                            // Redis地址
	Password string        `mapstructure:"password"`                           // Redis密码
	DB       int           `mapstructure:"db"`                                 // Redis数据库
	Prefix   string        `mapstructure:"prefix"`                             // 键前缀
	TTL      time.Duration `mapstructure:"ttl"`                                // 缓存TTL
}

// VectorDBConfig 向量数据库配置
type VectorDBConfig struct {
	Type          string        `mapstructure:"type" validate:"oneof=memory chroma pgvector"` // 向量数据库类型
	Collection    string        `mapstructure:"collection" validate:"required"`               // 集合名称
	BatchSize     int           `mapstructure:"batch_size" validate:"gte=1"`                  // 写入批量大小
	Endpoint      string        `mapstructure:"endpoint"`                                     // Chroma服务地址
	APIKey        string        `mapstructure:"api_key"`                                      // Chroma访问令牌
	Tenant        string        `mapstructure:"tenant"`                                       // Chroma租户
	Database      string        `mapstructure:"database"`                                     // Chroma数据库
	InsecureLocal bool          `mapstructure:"insecure_local"`                               // 允许无令牌连接本地Chroma
	DSN           string        `mapstructure:"dsn"`                                          // pgvector连接串
	Distance      string        `mapstructure:"distance" validate:"oneof=cosine dot l2"`      // 距离度量方式
	Dimension     int           `mapstructure:"dimension" validate:"gte=0"`                   // 向量维度
	Timeout       time.Duration `mapstructure:"timeout"`                                      // 请求超时
}

// ManifestConfig 写入清单配置
type ManifestConfig struct {
	Enable bool   `mapstructure:"enable"`                                // 是否启用断点续传
	Type   string `mapstructure:"type" validate:"oneof=sqlite postgres"` // 数据库类型
	DSN    string `mapstructure:"dsn"`                                   // 数据源名称
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host string `mapstructure:"host"`                            // 服务器主机
	Port int    `mapstructure:"port" validate:"gte=1,lte=65535"` // 服务器端口
	Mode string `mapstructure:"mode" validate:"oneof=debug release test"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=trace debug info warn warning error"`
	Format     string `mapstructure:"format" validate:"oneof=json text"`
	File       string `mapstructure:"file"`                         // 日志文件，为空时只输出到标准输出
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"gte=0"` // 单个日志文件最大大小
	MaxBackups int    `mapstructure:"max_backups" validate:"gte=0"` // 保留的旧日志文件数
}

// ConfigError 配置校验错误
type ConfigError struct {
	Problems []string // 每项为 "字段: 原因"
}

func (e *ConfigError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

// Load 从.env、配置文件和环境变量加载配置
// path为空时在当前目录和config目录下查找config.yaml，找不到时使用默认值
func Load(path string) (*Config, error) {
	// .env不存在不是错误
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %v", err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %v", err)
			}
		}
	}

	// 支持环境变量覆盖，如 EMBED_BATCH_SIZE
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %v", err)
	}

	processEnvironmentVariables(&cfg)
	applyCredentials(&cfg)

	return &cfg, nil
}

// Default 返回只包含默认值的配置
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	// 默认值的类型都是确定的，解析不会失败
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Validate 校验配置，返回所有问题
func (c *Config) Validate() error {
	var problems []string

	validate := validator.New()
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})

	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		for _, fe := range fieldErrs {
			field := strings.TrimPrefix(fe.Namespace(), "Config.")
			if fe.Param() != "" {
				problems = append(problems, fmt.Sprintf("%s: must satisfy %s=%s", field, fe.Tag(), fe.Param()))
			} else {
				problems = append(problems, fmt.Sprintf("%s: %s", field, fe.Tag()))
			}
		}
	}

	// 依赖其他字段的规则
	if c.Embed.Mode == "client" && c.Embed.APIKey == "" {
		problems = append(problems, "embed.api_key: required for client embedding mode")
	}
	if c.Embed.Mode == "store" && c.VectorDB.Type == "chroma" && c.Embed.APIKey == "" {
		problems = append(problems, "embed.api_key: chroma needs an embedding client to compute vectors")
	}
	if c.VectorDB.Type == "chroma" && !c.VectorDB.InsecureLocal {
		if c.VectorDB.APIKey == "" {
			problems = append(problems, "vectordb.api_key: required for chroma unless insecure_local is set")
		}
		if c.VectorDB.Tenant == "" {
			problems = append(problems, "vectordb.tenant: required for chroma unless insecure_local is set")
		}
	}
	if c.VectorDB.Type == "pgvector" && c.VectorDB.DSN == "" {
		problems = append(problems, "vectordb.dsn: required for pgvector")
	}
	if c.Manifest.Enable && c.Manifest.DSN == "" {
		problems = append(problems, "manifest.dsn: required when manifest is enabled")
	}
	if c.Storage.Type == "minio" && (c.Storage.Endpoint == "" || c.Storage.Bucket == "") {
		problems = append(problems, "storage.endpoint, storage.bucket: required for minio")
	}
	if c.Embed.Cache.Enable && c.Embed.Cache.Type == "redis" && c.Embed.Cache.Address == "" {
		problems = append(problems, "embed.cache.address: required for redis cache")
	}
	if c.Document.ChunkMode == "window" && c.Document.ChunkOverlap >= c.Document.ChunkSize {
		problems = append(problems, "document.chunk_overlap: must be smaller than chunk_size")
	}

	if len(problems) > 0 {
		return &ConfigError{Problems: problems}
	}
	return nil
}

// processEnvironmentVariables 处理配置项中的${VAR}占位符
func processEnvironmentVariables(cfg *Config) {
	for _, field := range []*string{
		&cfg.Embed.APIKey,
		&cfg.Embed.Endpoint,
		&cfg.Embed.Cache.Password,
		&cfg.VectorDB.APIKey,
		&cfg.VectorDB.Endpoint,
		&cfg.VectorDB.DSN,
		&cfg.Manifest.DSN,
		&cfg.Storage.AccessKey,
		&cfg.Storage.SecretKey,
	} {
		*field = expandPlaceholder(*field)
	}
}

// expandPlaceholder 整个值为${VAR}时替换为环境变量的值
func expandPlaceholder(value string) string {
	if strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}") {
		return os.Getenv(value[2 : len(value)-1])
	}
	return value
}

// applyCredentials 从常用的环境变量中读取未配置的凭据
func applyCredentials(cfg *Config) {
	if cfg.Embed.APIKey == "" {
		switch cfg.Embed.Provider {
		case "gemini":
			cfg.Embed.APIKey = firstEnv("GOOGLE_API_KEY", "GEMINI_API_KEY")
		case "openai":
			cfg.Embed.APIKey = firstEnv("OPENAI_API_KEY")
		}
	}

	setIfEmpty(&cfg.VectorDB.APIKey, "CHROMA_API_KEY")
	setIfEmpty(&cfg.VectorDB.Tenant, "CHROMA_TENANT")
	setIfEmpty(&cfg.VectorDB.Database, "CHROMA_DATABASE")
	setIfEmpty(&cfg.VectorDB.DSN, "PGVECTOR_DSN")
	setIfEmpty(&cfg.Storage.AccessKey, "MINIO_ACCESS_KEY")
	setIfEmpty(&cfg.Storage.SecretKey, "MINIO_SECRET_KEY")

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Embed.Cache.Address = addr
	}
	setIfEmpty(&cfg.Embed.Cache.Password, "REDIS_PASSWORD")
}

func setIfEmpty(field *string, key string) {
	if *field == "" {
		*field = os.Getenv(key)
	}
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return ""
}

// setDefaults 设置配置的默认值
func setDefaults(v *viper.Viper) {
	// 应用默认配置
	v.SetDefault("app.root_domain", "aven.com")
	v.SetDefault("app.verify_query", "credit card fees")
	v.SetDefault("app.verify_k", 3)

	// 输入输出默认配置
	v.SetDefault("input.path", "firecrawl/documents_1.json")
	v.SetDefault("output.processed", "aven_processed_data.json")
	v.SetDefault("output.embeddings", "embeddings_output/aven_embeddings_data.json")
	v.SetDefault("output.summary", "embeddings_output/embeddings_summary.json")

	// 存储默认配置
	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.path", "./data")
	v.SetDefault("storage.bucket", "aven-ingest")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.access_key", "")
	v.SetDefault("storage.secret_key", "")
	v.SetDefault("storage.use_ssl", false)
	v.SetDefault("storage.prefix", "")

	// 文档处理默认配置
	v.SetDefault("document.chunk_mode", "single")
	v.SetDefault("document.chunk_size", 1000)
	v.SetDefault("document.chunk_overlap", 200)
	v.SetDefault("document.min_chunk_size", 100)
	v.SetDefault("document.min_words", 0)
	v.SetDefault("document.sentinel_phrases", []string{"network appears to interfere"})
	v.SetDefault("document.blocked_url_patterns", []string{"staging", "internal/crypto"})
	v.SetDefault("document.document_extensions", []string{".pdf"})

	// Embedding默认配置
	v.SetDefault("embed.provider", "gemini")
	v.SetDefault("embed.model", "models/embedding-001")
	v.SetDefault("embed.api_key", "")
	v.SetDefault("embed.endpoint", "")
	v.SetDefault("embed.mode", "client")
	v.SetDefault("embed.batch_size", 20)
	v.SetDefault("embed.dimensions", 0)
	v.SetDefault("embed.task_type", "RETRIEVAL_DOCUMENT")
	v.SetDefault("embed.query_task_type", "RETRIEVAL_QUERY")
	v.SetDefault("embed.batch_interval", "200ms")
	v.SetDefault("embed.retry_interval", "100ms")
	v.SetDefault("embed.rate_limit_backoff", "0s")
	v.SetDefault("embed.max_workers", 1)
	v.SetDefault("embed.max_retries", 2)
	v.SetDefault("embed.timeout", "30s")

	// 缓存默认配置
	v.SetDefault("embed.cache.enable", false)
	v.SetDefault("embed.cache.type", "memory")
	v.SetDefault("embed.cache.address", "localhost:6379")
	v.SetDefault("embed.cache.password", "")
	v.SetDefault("embed.cache.db", 0)
	v.SetDefault("embed.cache.prefix", "aven")
	v.SetDefault("embed.cache.ttl", "168h")

	// 向量数据库默认配置
	v.SetDefault("vectordb.type", "memory")
	v.SetDefault("vectordb.collection", "aven_financial_products")
	v.SetDefault("vectordb.batch_size", 10)
	v.SetDefault("vectordb.endpoint", "http://localhost:8000")
	v.SetDefault("vectordb.api_key", "")
	v.SetDefault("vectordb.tenant", "")
	v.SetDefault("vectordb.database", "")
	v.SetDefault("vectordb.insecure_local", false)
	v.SetDefault("vectordb.dsn", "")
	v.SetDefault("vectordb.distance", "cosine")
	v.SetDefault("vectordb.dimension", 0)
	v.SetDefault("vectordb.timeout", "30s")

	// 写入清单默认配置
	v.SetDefault("manifest.enable", false)
	v.SetDefault("manifest.type", "sqlite")
	v.SetDefault("manifest.dsn", "data/manifest.db")

	// 服务器默认配置
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")

	// 日志默认配置
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
}
