package statctl

import (
	"path/filepath"
	"testing"
)

func TestConfigRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := &Config{}
	setContext(cfg, Context{Name: "prod", Server: "https://stats.example.org", UserID: "u-1"}, true)
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if loaded.CurrentContext != "prod" {
		t.Fatalf("current context = %q", loaded.CurrentContext)
	}
	ctx, ok := loaded.Contexts["prod"]
	if !ok || ctx.Server != "https://stats.example.org" || ctx.UserID != "u-1" {
		t.Fatalf("context = %+v", ctx)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	t.Parallel()

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if len(cfg.Contexts) != 0 {
		t.Fatalf("expected empty config, got %+v", cfg)
	}
}

func TestWSEndpoint(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"https://stats.example.org": "wss://stats.example.org/ws",
		"http://localhost:8080/":    "ws://localhost:8080/ws",
		"ws://already.example.org":  "ws://already.example.org/ws",
	}
	for in, want := range cases {
		if got := wsEndpoint(in); got != want {
			t.Errorf("wsEndpoint(%q) = %q, want %q", in, got, want)
		}
	}
}
