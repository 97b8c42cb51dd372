package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "contentmill.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefault_Valid(t *testing.T) {
	c := Default()
	if err := c.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	if c.Batch.Concurrency != 3 || c.Batch.ProgressEvery != 10 || c.Batch.ChunkPause != 2*time.Second {
		t.Errorf("batch defaults = %+v", c.Batch)
	}
	if c.Ranking.TopN != 15 || c.Generation.Provider != "stub" || c.Store.Driver != "sqlite" {
		t.Errorf("defaults = %+v", c)
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
batch:
  concurrency: 5
  chunk_pause: 500ms
  mode: saturating
ranking:
  reorder: true
  top_n: 8
store:
  driver: memory
`)
	t.Setenv("CONTENTMILL_BATCH_CONCURRENCY", "7")

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.File != path {
		t.Errorf("File = %q", c.File)
	}
	if c.Batch.Concurrency != 7 {
		t.Errorf("concurrency = %d, want env override 7", c.Batch.Concurrency)
	}
	if c.Batch.ChunkPause != 500*time.Millisecond || c.Batch.Mode != "saturating" {
		t.Errorf("batch = %+v", c.Batch)
	}
	if !c.Ranking.Reorder || c.Ranking.TopN != 8 || c.Store.Driver != "memory" || c.Log.Level != "debug" {
		t.Errorf("config = %+v", c)
	}
	if c.Batch.ProgressEvery != 10 {
		t.Errorf("unset key lost its default: progress_every = %d", c.Batch.ProgressEvery)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing explicit config file")
	}
}

func TestLoad_Invalid(t *testing.T) {
	path := writeConfig(t, `
generation:
  provider: openai
batch:
  concurrency: 0
  mode: bursty
store:
  driver: postgres
  dsn: ""
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"generation.provider", "batch.concurrency", "batch.mode", "store.dsn"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestAPIKey(t *testing.T) {
	c := Default()
	t.Setenv("TEST_GEMINI_KEY", "from-env")
	c.Generation.APIKeyEnv = "TEST_GEMINI_KEY"
	if got := c.APIKey(); got != "from-env" {
		t.Errorf("APIKey = %q", got)
	}
	c.Generation.APIKey = "explicit"
	if got := c.APIKey(); got != "explicit" {
		t.Errorf("APIKey = %q", got)
	}
}
