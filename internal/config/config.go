// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Chat          ChatConfig          `mapstructure:"chat"`
	Providers     ProvidersConfig     `mapstructure:"providers"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
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

// JWTConfig 存储 JWT 相关的配置。
type JWTConfig struct {
	Secret                 string `mapstructure:"secret"`
	AccessTokenExpireHours int    `mapstructure:"access_token_expire_hours"`
	RefreshTokenExpireDays int    `mapstructure:"refresh_token_expire_days"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// ChatConfig 存储聊天解析相关的配置。
type ChatConfig struct {
	SiteName            string  `mapstructure:"site_name"`
	SystemPrompt        string  `mapstructure:"system_prompt"`
	MaxMessageLength    int     `mapstructure:"max_message_length"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
	CacheTTLHours       int     `mapstructure:"cache_ttl_hours"`
	ContextTopK         int     `mapstructure:"context_top_k"`
}

// ProvidersConfig 存储所有 LLM 供应商的配置以及默认激活项。
type ProvidersConfig struct {
	Active string               `mapstructure:"active"`
	OpenAI OpenAIConfig         `mapstructure:"openai"`
	Claude ClaudeConfig         `mapstructure:"claude"`
	Gemini GeminiConfig         `mapstructure:"gemini"`
	Custom CustomProviderConfig `mapstructure:"custom"`
}

// OpenAIConfig 存储 OpenAI 的配置。
type OpenAIConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	Model       string  `mapstructure:"model"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

// ClaudeConfig 存储 Anthropic Claude 的配置。
type ClaudeConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	Model       string  `mapstructure:"model"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
	Version     string  `mapstructure:"version"`
}

// GeminiConfig 存储 Google Gemini 的配置。
type GeminiConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	Model       string  `mapstructure:"model"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

// CustomProviderConfig 存储用户自定义 HTTP API 的配置。
// AuthMethod 可选值: bearer / api_key_header / basic / custom_header。
// BodyFormat 可选值: openai / simple / template，template 模式下
// BodyTemplate 中的 {{message}} 与 {{system}} 占位符会被替换。
type CustomProviderConfig struct {
	Endpoint      string  `mapstructure:"endpoint"`
	APIKey        string  `mapstructure:"api_key"`
	AuthMethod    string  `mapstructure:"auth_method"`
	AuthHeader    string  `mapstructure:"auth_header"`
	Username      string  `mapstructure:"username"`
	Password      string  `mapstructure:"password"`
	BodyFormat    string  `mapstructure:"body_format"`
	BodyTemplate  string  `mapstructure:"body_template"`
	ResponseField string  `mapstructure:"response_field"`
	Model         string  `mapstructure:"model"`
	MaxTokens     int     `mapstructure:"max_tokens"`
	Temperature   float64 `mapstructure:"temperature"`
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("读取配置文件失败: %w", err))
	}

	if err := viper.Unmarshal(&Conf); err != nil {
		panic(fmt.Errorf("无法将配置解析到结构体中: %w", err))
	}

	applyDefaults()
}

// applyDefaults 为未配置的聊天参数填充默认值。
func applyDefaults() {
	if Conf.Chat.MaxMessageLength == 0 {
		Conf.Chat.MaxMessageLength = 1000
	}
	if Conf.Chat.SimilarityThreshold == 0 {
		Conf.Chat.SimilarityThreshold = 0.6
	}
	if Conf.Chat.CacheTTLHours == 0 {
		Conf.Chat.CacheTTLHours = 12
	}
	if Conf.Chat.ContextTopK == 0 {
		Conf.Chat.ContextTopK = 5
	}
	if Conf.Providers.Active == "" {
		Conf.Providers.Active = "openai"
	}
}
