package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	filename := filepath.Join(t.TempDir(), "offline-cache.yaml")
	if err := os.WriteFile(filename, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return filename
}

func TestLoadFile(t *testing.T) {
	filename := writeConfig(t, `
version: v2
origin: https://app.example/
manifest:
  - /
  - /index.html
  - https://cdn.example/lib.js
fetchTimeout: 5s
storage:
  provider: leveldb
`)
	cfg, err := Load(filename)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Version != "v2" || len(cfg.Manifest) != 3 {
		t.Fatalf("Config is %+v", cfg)
	}
	if u := cfg.OriginURL(); u.String() != "https://app.example" {
		t.Fatalf("Origin is %s", u.String())
	}
	if cfg.Port != 8080 || cfg.Storage.Path != "./data/leveldb" {
		t.Fatalf("Defaults not applied: %+v", cfg)
	}
	if cfg.FetchTimeoutDuration() != 5*time.Second {
		t.Fatalf("Fetch timeout is %s", cfg.FetchTimeoutDuration())
	}
}

func TestEnvOverridesFile(t *testing.T) {
	filename := writeConfig(t, "version: v1\norigin: https://app.example\n")
	t.Setenv("OFFLINE_CACHE_VERSION", "v3")
	t.Setenv("OFFLINE_CACHE_MANIFEST", "/a,/b")
	t.Setenv("OFFLINE_CACHE_STORAGE_PROVIDER", "memory")

	cfg, err := Load(filename)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Version != "v3" {
		t.Fatalf("Version is %s", cfg.Version)
	}
	if len(cfg.Manifest) != 2 || cfg.Manifest[1] != "/b" {
		t.Fatalf("Manifest is %v", cfg.Manifest)
	}
	if cfg.Storage.Provider != "memory" {
		t.Fatalf("Provider is %s", cfg.Storage.Provider)
	}
}

func TestValidation(t *testing.T) {
	for name, content := range map[string]string{
		"missing version":  "origin: https://app.example\n",
		"missing origin":   "version: v1\n",
		"relative origin":  "version: v1\norigin: /app\n",
		"unknown provider": "version: v1\norigin: https://app.example\nstorage:\n  provider: redis\n",
		"bad timeout":      "version: v1\norigin: https://app.example\nfetchTimeout: soon\n",
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, content)); err == nil {
				t.Fatal("Expected an error")
			}
		})
	}
}
