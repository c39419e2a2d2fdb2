// Package config 负责加载和校验应用程序的配置。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix 是覆盖配置项时使用的环境变量前缀，例如 RAGCHAT_LLM_API_KEY。
const EnvPrefix = "RAGCHAT"

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Tika          TikaConfig          `mapstructure:"tika"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	LLM           LLMConfig           `mapstructure:"llm"`
	RAG           RAGConfig           `mapstructure:"rag"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port        string `mapstructure:"port"`
	Mode        string `mapstructure:"mode"`
	MaxUploadMB int64  `mapstructure:"max_upload_mb"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig 控制可选的服务令牌校验。
type AuthConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Secret         string `mapstructure:"secret"`
	TokenTTLHours  int    `mapstructure:"token_ttl_hours"`
	AllowedSubject string `mapstructure:"allowed_subject"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Brokers      string `mapstructure:"brokers"`
	CleanupTopic string `mapstructure:"cleanup_topic"`
	GroupID      string `mapstructure:"group_id"`
}

// TikaConfig 存储 Tika 服务器相关的配置，为空时不启用 Tika 兜底解析。
type TikaConfig struct {
	ServerURL string `mapstructure:"server_url"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
	// InsecureSkipVerify 仅用于自签名证书的开发环境
	InsecureSkipVerify bool `mapstructure:"insecure_skip_verify"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
type EmbeddingConfig struct {
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Model      string              `mapstructure:"model"`
	Generation LLMGenerationConfig `mapstructure:"generation"`
	Prompt     LLMPromptConfig     `mapstructure:"prompt"`
}

// LLMGenerationConfig 配置生成相关参数（可选）。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// LLMPromptConfig 覆盖 RAG 两个阶段使用的系统提示词，留空则使用内置提示词。
// Answer 中的 {context} 会被替换为检索到的分块文本。
type LLMPromptConfig struct {
	Contextualize string `mapstructure:"contextualize"`
	Answer        string `mapstructure:"answer"`
}

// RAGConfig 存储切块、检索与向量化相关的可调参数。
type RAGConfig struct {
	TopK             int    `mapstructure:"top_k"`
	ChunkSize        int    `mapstructure:"chunk_size"`
	ChunkOverlap     int    `mapstructure:"chunk_overlap"`
	EmbedConcurrency int    `mapstructure:"embed_concurrency"`
	StagingDir       string `mapstructure:"staging_dir"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.max_upload_mb", 50)

	v.SetDefault("database.mysql.dsn", "")
	v.SetDefault("database.redis.addr", "127.0.0.1:6379")
	v.SetDefault("database.redis.password", "")
	v.SetDefault("database.redis.db", 0)

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.token_ttl_hours", 24*30)
	v.SetDefault("auth.allowed_subject", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output_path", "")

	v.SetDefault("kafka.brokers", "")
	v.SetDefault("kafka.cleanup_topic", "document-cleanup")
	v.SetDefault("kafka.group_id", "rag-chat-go-cleanup")

	v.SetDefault("tika.server_url", "")

	v.SetDefault("elasticsearch.addresses", "")
	v.SetDefault("elasticsearch.username", "")
	v.SetDefault("elasticsearch.password", "")
	v.SetDefault("elasticsearch.index_name", "pdf_chunks")
	v.SetDefault("elasticsearch.insecure_skip_verify", false)

	v.SetDefault("minio.endpoint", "")
	v.SetDefault("minio.access_key_id", "")
	v.SetDefault("minio.secret_access_key", "")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.bucket_name", "")

	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.base_url", "https://api.openai.com/v1")
	v.SetDefault("embedding.model", "text-embedding-ada-002")
	v.SetDefault("embedding.dimensions", 1536)

	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.generation.temperature", 0)
	v.SetDefault("llm.generation.top_p", 0)
	v.SetDefault("llm.generation.max_tokens", 0)
	v.SetDefault("llm.prompt.contextualize", "")
	v.SetDefault("llm.prompt.answer", "")

	v.SetDefault("rag.top_k", 5)
	v.SetDefault("rag.chunk_size", 500)
	v.SetDefault("rag.chunk_overlap", 50)
	v.SetDefault("rag.embed_concurrency", 4)
	v.SetDefault("rag.staging_dir", "pdf_store")
}

// Load 从指定路径读取 YAML 配置并叠加环境变量，然后执行校验。
// configPath 为空或文件不存在时仅使用默认值与环境变量。
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("读取配置文件失败: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 检查启动所需的凭证与参数，一次性列出全部缺失项。
func (c *Config) Validate() error {
	var missing []string
	require := func(key, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, key)
		}
	}

	require("database.mysql.dsn", c.Database.MySQL.DSN)
	require("database.redis.addr", c.Database.Redis.Addr)
	require("minio.endpoint", c.MinIO.Endpoint)
	require("minio.access_key_id", c.MinIO.AccessKeyID)
	require("minio.secret_access_key", c.MinIO.SecretAccessKey)
	require("minio.bucket_name", c.MinIO.BucketName)
	require("elasticsearch.addresses", c.Elasticsearch.Addresses)
	require("elasticsearch.index_name", c.Elasticsearch.IndexName)
	require("kafka.brokers", c.Kafka.Brokers)
	require("kafka.cleanup_topic", c.Kafka.CleanupTopic)
	require("embedding.api_key", c.Embedding.APIKey)
	require("embedding.base_url", c.Embedding.BaseURL)
	require("embedding.model", c.Embedding.Model)
	require("llm.api_key", c.LLM.APIKey)
	require("llm.base_url", c.LLM.BaseURL)
	require("llm.model", c.LLM.Model)
	if c.Auth.Enabled {
		require("auth.secret", c.Auth.Secret)
	}

	var problems []string
	if len(missing) > 0 {
		problems = append(problems, "缺少必要配置: "+strings.Join(missing, ", "))
	}
	if c.Embedding.Dimensions <= 0 {
		problems = append(problems, "embedding.dimensions 必须大于 0")
	}
	if c.RAG.TopK < 1 {
		problems = append(problems, "rag.top_k 必须大于等于 1")
	}
	if c.RAG.ChunkSize <= 0 || c.RAG.ChunkOverlap < 0 || c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		problems = append(problems, "rag.chunk_overlap 必须在 [0, chunk_size) 范围内")
	}
	if c.RAG.EmbedConcurrency < 1 {
		problems = append(problems, "rag.embed_concurrency 必须大于等于 1")
	}
	if c.RAG.StagingDir == "" {
		problems = append(problems, "rag.staging_dir 不能为空")
	}

	if len(problems) > 0 {
		return fmt.Errorf("配置校验失败: %s", strings.Join(problems, "; "))
	}
	return nil
}
