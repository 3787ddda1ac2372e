package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Index.Backend != "chroma" {
		t.Errorf("index.backend = %q", cfg.Index.Backend)
	}
	if cfg.Retrieve.TopK != DefaultTopK {
		t.Errorf("retrieve.top_k = %d", cfg.Retrieve.TopK)
	}
	if cfg.Retrieve.Timeout != DefaultRetrieveTimeout {
		t.Errorf("retrieve.timeout = %v", cfg.Retrieve.Timeout)
	}
	if cfg.Classifier.Threshold != DefaultClassifierCutoff {
		t.Errorf("classifier.threshold = %g", cfg.Classifier.Threshold)
	}
	if cfg.Verify.Concurrency != DefaultVerifyConcurrency {
		t.Errorf("verify.concurrency = %d", cfg.Verify.Concurrency)
	}
	if cfg.LLM.Model != DefaultModel {
		t.Errorf("llm.model = %q", cfg.LLM.Model)
	}
	if cfg.LLM.MaxToolRounds != DefaultMaxToolRounds {
		t.Errorf("llm.max_tool_rounds = %d", cfg.LLM.MaxToolRounds)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
jira:
  url: https://example.atlassian.net
  project: SCRUM
index:
  backend: memory
retrieve:
  top_k: 25
  timeout: 10s
verify:
  timeout: 3s
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Jira.URL != "https://example.atlassian.net" || cfg.Jira.Project != "SCRUM" {
		t.Errorf("jira = %+v", cfg.Jira)
	}
	if cfg.Index.Backend != "memory" {
		t.Errorf("index.backend = %q", cfg.Index.Backend)
	}
	if cfg.Retrieve.TopK != 25 {
		t.Errorf("retrieve.top_k = %d", cfg.Retrieve.TopK)
	}
	if cfg.Retrieve.Timeout != 10*time.Second {
		t.Errorf("retrieve.timeout = %v", cfg.Retrieve.Timeout)
	}
	if cfg.Verify.Timeout != 3*time.Second {
		t.Errorf("verify.timeout = %v", cfg.Verify.Timeout)
	}
	// Untouched keys keep their defaults.
	if cfg.Verify.Concurrency != DefaultVerifyConcurrency {
		t.Errorf("verify.concurrency = %d", cfg.Verify.Concurrency)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("explicitly named missing file should fail")
	}
}

func TestValidate(t *testing.T) {
	valid, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if issues := valid.Validate(); len(issues) != 0 {
		t.Errorf("defaults should validate, got %v", issues)
	}

	bad := *valid
	bad.Retrieve.TopK = 0
	bad.Classifier.Threshold = 1.5
	bad.Verify.Timeout = 0
	bad.Index.Backend = "postgres"

	issues := bad.Validate()
	if len(issues) != 4 {
		t.Errorf("got %d issues, want 4: %v", len(issues), issues)
	}
}
