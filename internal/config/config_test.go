package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleYAML = `
database:
  mysql:
    dsn: "user:pass@tcp(127.0.0.1:3306)/chat?parseTime=true"
minio:
  endpoint: "127.0.0.1:9000"
  access_key_id: "minio"
  secret_access_key: "minio123"
  bucket_name: "chatbot"
elasticsearch:
  addresses: "http://127.0.0.1:9200"
kafka:
  brokers: "127.0.0.1:9092"
embedding:
  api_key: "sk-embed"
llm:
  api_key: "sk-llm"
rag:
  chunk_size: 800
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaultsAndFileValues(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RAG.ChunkSize != 800 {
		t.Fatalf("chunk size: want=800 got=%d", cfg.RAG.ChunkSize)
	}
	if cfg.RAG.ChunkOverlap != 50 {
		t.Fatalf("chunk overlap default: want=50 got=%d", cfg.RAG.ChunkOverlap)
	}
	if cfg.RAG.TopK != 5 {
		t.Fatalf("top k default: want=5 got=%d", cfg.RAG.TopK)
	}
	if cfg.LLM.Model != "gpt-4o-mini" {
		t.Fatalf("llm model default: want=gpt-4o-mini got=%q", cfg.LLM.Model)
	}
	if cfg.Elasticsearch.IndexName != "pdf_chunks" {
		t.Fatalf("index default: want=pdf_chunks got=%q", cfg.Elasticsearch.IndexName)
	}
	if cfg.Elasticsearch.InsecureSkipVerify {
		t.Fatalf("insecure_skip_verify must default to false")
	}
}

func TestLoadEnvironmentEnablesInsecureSkipVerify(t *testing.T) {
	t.Setenv("RAGCHAT_ELASTICSEARCH_INSECURE_SKIP_VERIFY", "true")
	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Elasticsearch.InsecureSkipVerify {
		t.Fatalf("insecure_skip_verify should follow the environment")
	}
}

func TestLoadEnvironmentOverridesFile(t *testing.T) {
	t.Setenv("RAGCHAT_LLM_MODEL", "gpt-4o")
	t.Setenv("RAGCHAT_RAG_TOP_K", "8")

	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.Model != "gpt-4o" {
		t.Fatalf("llm model: want=gpt-4o got=%q", cfg.LLM.Model)
	}
	if cfg.RAG.TopK != 8 {
		t.Fatalf("top k: want=8 got=%d", cfg.RAG.TopK)
	}
}

func TestLoadFailsFastOnMissingCredentials(t *testing.T) {
	_, err := Load(writeConfig(t, "server:\n  port: \"9000\"\n"))
	if err == nil {
		t.Fatalf("Load: expected error, got nil")
	}
	for _, key := range []string{"database.mysql.dsn", "minio.endpoint", "llm.api_key", "kafka.brokers"} {
		if !strings.Contains(err.Error(), key) {
			t.Fatalf("error should mention %s: got=%v", key, err)
		}
	}
}

func TestValidateRejectsOverlapNotSmallerThanSize(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.RAG.ChunkOverlap = cfg.RAG.ChunkSize
	if err := cfg.Validate(); err == nil {
		t.Fatalf("Validate: expected error for overlap >= size")
	}
}

func TestValidateRequiresSecretWhenAuthEnabled(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.Auth.Enabled = true
	cfg.Auth.Secret = ""
	err = cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "auth.secret") {
		t.Fatalf("Validate: want auth.secret error, got=%v", err)
	}
}
