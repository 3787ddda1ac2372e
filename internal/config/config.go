// Package config loads jirascope configuration from config.yaml and the
// environment. Tunables the design leaves open (similarity cutoff, classifier
// threshold, verification timeout) are explicit keys here with documented
// defaults, never hard-coded constants.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Defaults for the configuration surface.
const (
	DefaultTopK              = 10
	DefaultRetrieveTimeout   = 5 * time.Second
	DefaultVerifyTimeout     = 15 * time.Second
	DefaultVerifyConcurrency = 4
	DefaultIngestConcurrency = 8
	DefaultClassifierCutoff  = 0.5
	DefaultMaxToolRounds     = 10
	DefaultModel             = "claude-sonnet-4-5-20250514"
)

// Config is the full configuration surface.
type Config struct {
	Jira       Jira       `mapstructure:"jira"`
	Index      Index      `mapstructure:"index"`
	LLM        LLM        `mapstructure:"llm"`
	Retrieve   Retrieve   `mapstructure:"retrieve"`
	Classifier Classifier `mapstructure:"classifier"`
	Verify     Verify     `mapstructure:"verify"`
	Ingest     Ingest     `mapstructure:"ingest"`
	Cache      Cache      `mapstructure:"cache"`
}

// Jira configures the live tracker connection.
type Jira struct {
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
	APIToken string `mapstructure:"api_token"`
	Project  string `mapstructure:"project"`
}

// Index configures the external vector index.
type Index struct {
	// Backend selects the index implementation: "chroma" or "memory".
	Backend    string `mapstructure:"backend"`
	URL        string `mapstructure:"url"`
	Tenant     string `mapstructure:"tenant"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
	APIKey     string `mapstructure:"api_key"`
}

// LLM configures the completion service.
type LLM struct {
	APIKey        string `mapstructure:"api_key"`
	Model         string `mapstructure:"model"`
	MaxTokens     int    `mapstructure:"max_tokens"`
	MaxToolRounds int    `mapstructure:"max_tool_rounds"`
}

// Retrieve configures the query-time retriever.
type Retrieve struct {
	TopK    int           `mapstructure:"top_k"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Classifier configures the structural content classifier.
type Classifier struct {
	// Threshold is the confidence a tag's score must clear to attach.
	Threshold float64 `mapstructure:"threshold"`
	// RulesPath optionally points at a YAML vocabulary file overriding the
	// built-in epic/story term lists.
	RulesPath string `mapstructure:"rules_path"`
}

// Verify configures live verification.
type Verify struct {
	Timeout     time.Duration `mapstructure:"timeout"`
	Concurrency int           `mapstructure:"concurrency"`
}

// Ingest configures the batch ingestion pipeline.
type Ingest struct {
	Concurrency int    `mapstructure:"concurrency"`
	ArtifactDir string `mapstructure:"artifact_dir"`
}

// Cache configures the attachment cache.
type Cache struct {
	Dir string `mapstructure:"dir"`
}

// Load reads configuration from the given file (optional) plus JIRASCOPE_*
// environment variables, applying defaults for anything unset.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("JIRASCOPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".jirascope")
		v.AddConfigPath(".")
		// Missing config file is fine: env vars and defaults still apply.
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("index.backend", "chroma")
	v.SetDefault("index.collection", "jira_issues_rag")
	v.SetDefault("llm.model", DefaultModel)
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("llm.max_tool_rounds", DefaultMaxToolRounds)
	v.SetDefault("retrieve.top_k", DefaultTopK)
	v.SetDefault("retrieve.timeout", DefaultRetrieveTimeout)
	v.SetDefault("classifier.threshold", DefaultClassifierCutoff)
	v.SetDefault("verify.timeout", DefaultVerifyTimeout)
	v.SetDefault("verify.concurrency", DefaultVerifyConcurrency)
	v.SetDefault("ingest.concurrency", DefaultIngestConcurrency)
	v.SetDefault("cache.dir", ".jirascope/attachments")
	v.SetDefault("ingest.artifact_dir", ".jirascope/artifacts")
}

// Validate checks settings that have no usable zero value.
func (c *Config) Validate() []string {
	var issues []string
	if c.Retrieve.TopK <= 0 {
		issues = append(issues, fmt.Sprintf("retrieve.top_k: %d is invalid (must be positive)", c.Retrieve.TopK))
	}
	if c.Classifier.Threshold < 0 || c.Classifier.Threshold > 1 {
		issues = append(issues, fmt.Sprintf("classifier.threshold: %g is invalid (must be in [0,1])", c.Classifier.Threshold))
	}
	if c.Verify.Timeout <= 0 {
		issues = append(issues, "verify.timeout: must be positive")
	}
	if c.Retrieve.Timeout <= 0 {
		issues = append(issues, "retrieve.timeout: must be positive")
	}
	if c.Verify.Concurrency <= 0 {
		issues = append(issues, "verify.concurrency: must be positive")
	}
	if c.Ingest.Concurrency <= 0 {
		issues = append(issues, "ingest.concurrency: must be positive")
	}
	if c.Index.Backend != "chroma" && c.Index.Backend != "memory" {
		issues = append(issues, fmt.Sprintf("index.backend: %q is invalid (valid values: chroma, memory)", c.Index.Backend))
	}
	return issues
}
