package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dgallion1/pageindex/internal/builder"
	"github.com/dgallion1/pageindex/internal/errs"
	"github.com/dgallion1/pageindex/internal/llm"
	"github.com/dgallion1/pageindex/internal/search"
)

type Config struct {
	LLM       LLMConfig       `mapstructure:"llm"`
	Retry     RetryConfig     `mapstructure:"retry"`
	PageIndex PageIndexConfig `mapstructure:"pageindex"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Paths     PathsConfig     `mapstructure:"paths"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Server    ServerConfig    `mapstructure:"server"`
	MCP       MCPConfig       `mapstructure:"mcp"`
}

type LLMConfig struct {
	Provider          string        `mapstructure:"provider"`
	Model             string        `mapstructure:"model"`
	APIKey            string        `mapstructure:"api_key"`
	BaseURL           string        `mapstructure:"base_url"`
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxTokens         int           `mapstructure:"max_tokens"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
}

type RetryConfig struct {
	MaxRetries    int           `mapstructure:"max_retries"`
	InitialDelay  time.Duration `mapstructure:"initial_delay"`
	BackoffFactor float64       `mapstructure:"backoff_factor"`
}

// PageIndexConfig holds the tree building knobs. Key names match the
// option names users already know from existing config.yaml files.
type PageIndexConfig struct {
	TOCCheckPageNum       int  `mapstructure:"toc_check_page_num"`
	MaxPageNumEachNode    int  `mapstructure:"max_page_num_each_node"`
	MaxTokenNumEachNode   int  `mapstructure:"max_token_num_each_node"`
	IfAddNodeID           bool `mapstructure:"if_add_node_id"`
	IfAddNodeSummary      bool `mapstructure:"if_add_node_summary"`
	IfAddDocDescription   bool `mapstructure:"if_add_doc_description"`
	IfAddNodeText         bool `mapstructure:"if_add_node_text"`
	IfThinning            bool `mapstructure:"if_thinning"`
	SummaryTokenThreshold int  `mapstructure:"summary_token_threshold"`
	TOCSearchWindow       int  `mapstructure:"toc_search_window"`
	TOCMatchConcurrency   int  `mapstructure:"toc_match_concurrency"`
	SummaryConcurrency    int  `mapstructure:"summary_concurrency"`
	IndexConcurrency      int  `mapstructure:"index_concurrency"`
}

type RetrievalConfig struct {
	MaxDocumentsPerQuery  int `mapstructure:"max_documents_per_query"`
	MaxResultsPerDocument int `mapstructure:"max_results_per_document"`
	SearchBatchSize       int `mapstructure:"search_batch_size"`
	CacheSize             int `mapstructure:"cache_size"`
	MaxContextTokens      int `mapstructure:"max_context_tokens"`
}

type PathsConfig struct {
	TreesDir       string `mapstructure:"trees_dir"`
	DirectoryIndex string `mapstructure:"directory_index"`
}

type StorageConfig struct {
	Backend         string `mapstructure:"backend"`
	Endpoint        string `mapstructure:"endpoint"`
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
}

type CacheConfig struct {
	Backend       string        `mapstructure:"backend"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	TTL           time.Duration `mapstructure:"ttl"`
}

type ServerConfig struct {
	Addr           string        `mapstructure:"addr"`
	APIKey         string        `mapstructure:"api_key"`
	MaxUploadBytes int64         `mapstructure:"max_upload_bytes"`
	WorkerCount    int           `mapstructure:"worker_count"`
	MaxQueueSize   int           `mapstructure:"max_queue_size"`
	JobTTL         time.Duration `mapstructure:"job_ttl"`
}

type MCPConfig struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
}

func Defaults() Config {
	b := builder.DefaultOptions()
	r := llm.DefaultRetryPolicy()
	return Config{
		LLM: LLMConfig{
			Provider:  "openai",
			Model:     "gpt-4o-2024-11-20",
			Timeout:   2 * time.Minute,
			MaxTokens: 4096,
			Burst:     1,
		},
		Retry: RetryConfig{
			MaxRetries:    r.MaxRetries,
			InitialDelay:  r.InitialDelay,
			BackoffFactor: r.BackoffFactor,
		},
		PageIndex: PageIndexConfig{
			TOCCheckPageNum:       b.TOCCheckPages,
			MaxPageNumEachNode:    b.MaxPagesPerNode,
			MaxTokenNumEachNode:   b.MaxTokensPerNode,
			IfAddNodeID:           b.AddNodeID,
			IfAddNodeSummary:      b.AddNodeSummary,
			IfAddDocDescription:   b.AddDocDescription,
			IfAddNodeText:         b.AddNodeText,
			IfThinning:            b.Thinning,
			SummaryTokenThreshold: b.SummaryTokenThreshold,
			TOCSearchWindow:       b.TOCSearchWindow,
			TOCMatchConcurrency:   b.TOCMatchConcurrency,
			SummaryConcurrency:    b.SummaryConcurrency,
			IndexConcurrency:      4,
		},
		Retrieval: RetrievalConfig{
			MaxDocumentsPerQuery:  3,
			MaxResultsPerDocument: search.DefaultMaxResults,
			SearchBatchSize:       search.DefaultBatchSize,
			CacheSize:             64,
			MaxContextTokens:      100000,
		},
		Paths: PathsConfig{
			TreesDir:       "./trees",
			DirectoryIndex: "./directory.json",
		},
		Storage: StorageConfig{
			Backend: "file",
			Bucket:  "pageindex",
			Prefix:  "trees/",
		},
		Cache: CacheConfig{
			Backend: "memory",
			TTL:     24 * time.Hour,
		},
		Server: ServerConfig{
			Addr:           ":8080",
			MaxUploadBytes: 52428800,
			WorkerCount:    2,
			MaxQueueSize:   100,
			JobTTL:         time.Hour,
		},
		MCP: MCPConfig{
			Name:    "pageindex",
			Version: "0.1.0",
		},
	}
}

// Load reads the config file at path, or searches the default locations
// when path is empty, then applies PAGEINDEX_* environment overrides.
// A missing default file is not an error; a missing explicit one is.
func Load(path string) (Config, error) {
	cfg := Defaults()
	v := viper.New()
	setDefaults(v, "", reflect.ValueOf(cfg))

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("pageindex")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/pageindex")
	}
	v.SetEnvPrefix("PAGEINDEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return cfg, &errs.ConfigurationError{Field: "file", Msg: err.Error()}
		}
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, &errs.ConfigurationError{Msg: err.Error()}
	}
	expandEnv(reflect.ValueOf(&cfg).Elem())

	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = providerKey(cfg.LLM.Provider)
	}
	return cfg, nil
}

// setDefaults registers every leaf key so AutomaticEnv can override keys
// that are absent from the config file.
func setDefaults(v *viper.Viper, prefix string, rv reflect.Value) {
	rt := rv.Type()
	for i := range rt.NumField() {
		key := rt.Field(i).Tag.Get("mapstructure")
		if prefix != "" {
			key = prefix + "." + key
		}
		f := rv.Field(i)
		if f.Kind() == reflect.Struct {
			setDefaults(v, key, f)
			continue
		}
		v.SetDefault(key, f.Interface())
	}
}

// expandEnv replaces ${VAR} references in string values.
func expandEnv(rv reflect.Value) {
	for i := range rv.NumField() {
		f := rv.Field(i)
		switch f.Kind() {
		case reflect.Struct:
			expandEnv(f)
		case reflect.String:
			if s := f.String(); strings.Contains(s, "$") {
				f.SetString(os.ExpandEnv(s))
			}
		}
	}
}

func providerKey(provider string) string {
	switch strings.ToLower(provider) {
	case "anthropic", "claude":
		return os.Getenv("ANTHROPIC_API_KEY")
	default:
		return os.Getenv("OPENAI_API_KEY")
	}
}

// Validate checks the settings needed by every command that calls a model.
func (c Config) Validate() error {
	if c.LLM.APIKey == "" {
		return &errs.ConfigurationError{Field: "llm.api_key", Msg: "is required (set PAGEINDEX_LLM_API_KEY or the provider key)"}
	}
	switch strings.ToLower(c.LLM.Provider) {
	case "openai", "anthropic", "claude":
	default:
		return &errs.ConfigurationError{Field: "llm.provider", Msg: fmt.Sprintf("unknown provider %q", c.LLM.Provider)}
	}
	return c.ValidateStorage()
}

// ValidateStorage checks only the storage, cache and limit settings, which
// is all the commands that never call a model need.
func (c Config) ValidateStorage() error {
	switch c.Storage.Backend {
	case "file":
		if c.Paths.TreesDir == "" {
			return &errs.ConfigurationError{Field: "paths.trees_dir", Msg: "is required"}
		}
	case "s3":
		if c.Storage.Endpoint == "" || c.Storage.Bucket == "" {
			return &errs.ConfigurationError{Field: "storage", Msg: "s3 backend needs endpoint and bucket"}
		}
	default:
		return &errs.ConfigurationError{Field: "storage.backend", Msg: fmt.Sprintf("unknown backend %q", c.Storage.Backend)}
	}
	switch c.Cache.Backend {
	case "memory", "none":
	case "redis":
		if c.Cache.RedisAddr == "" {
			return &errs.ConfigurationError{Field: "cache.redis_addr", Msg: "is required for the redis backend"}
		}
	default:
		return &errs.ConfigurationError{Field: "cache.backend", Msg: fmt.Sprintf("unknown backend %q", c.Cache.Backend)}
	}
	if c.Paths.DirectoryIndex == "" {
		return &errs.ConfigurationError{Field: "paths.directory_index", Msg: "is required"}
	}

	positive := []struct {
		field string
		value int
	}{
		{"pageindex.max_page_num_each_node", c.PageIndex.MaxPageNumEachNode},
		{"pageindex.max_token_num_each_node", c.PageIndex.MaxTokenNumEachNode},
		{"retrieval.max_documents_per_query", c.Retrieval.MaxDocumentsPerQuery},
		{"retrieval.search_batch_size", c.Retrieval.SearchBatchSize},
		{"retry.max_retries", c.Retry.MaxRetries},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return &errs.ConfigurationError{Field: p.field, Msg: "must be positive"}
		}
	}
	return nil
}

func (c Config) LLMOptions() llm.Options {
	return llm.Options{
		Provider:  c.LLM.Provider,
		APIKey:    c.LLM.APIKey,
		Model:     c.LLM.Model,
		BaseURL:   c.LLM.BaseURL,
		Timeout:   c.LLM.Timeout,
		MaxTokens: c.LLM.MaxTokens,
	}
}

func (c Config) RetryPolicy() llm.RetryPolicy {
	return llm.RetryPolicy{
		MaxRetries:    c.Retry.MaxRetries,
		InitialDelay:  c.Retry.InitialDelay,
		BackoffFactor: c.Retry.BackoffFactor,
	}
}

func (c Config) BuilderOptions() builder.Options {
	p := c.PageIndex
	return builder.Options{
		TOCCheckPages:         p.TOCCheckPageNum,
		TOCSearchWindow:       p.TOCSearchWindow,
		TOCMatchConcurrency:   p.TOCMatchConcurrency,
		MaxPagesPerNode:       p.MaxPageNumEachNode,
		MaxTokensPerNode:      p.MaxTokenNumEachNode,
		AddNodeID:             p.IfAddNodeID,
		AddNodeSummary:        p.IfAddNodeSummary,
		AddDocDescription:     p.IfAddDocDescription,
		AddNodeText:           p.IfAddNodeText,
		Thinning:              p.IfThinning,
		SummaryTokenThreshold: p.SummaryTokenThreshold,
		SummaryConcurrency:    p.SummaryConcurrency,
	}
}

func (c Config) SearchOptions() search.Options {
	return search.Options{
		BatchSize:  c.Retrieval.SearchBatchSize,
		MaxResults: c.Retrieval.MaxResultsPerDocument,
	}
}
