package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tjfontaine/autonom-console/internal/pkg/config"
)

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestNewProviderRequiresPath(t *testing.T) {
	if _, err := NewProvider("", nil); err == nil {
		t.Error("NewProvider(\"\") succeeded")
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "polling:\n  session_interval: 2s\nstorage:\n  type: memory\n")

	p, err := NewProvider(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	cfg, err := p.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Polling.SessionInterval != 2*time.Second {
		t.Errorf("session_interval = %v", cfg.Polling.SessionInterval)
	}
	if p.Current() != cfg {
		t.Error("Current() does not return the loaded config")
	}
}

func TestWatchReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "polling:\n  session_interval: 2s\nstorage:\n  type: memory\n")

	p, err := NewProvider(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan *config.Config, 4)
	if err := p.Watch(ctx, func(cfg *config.Config) { changed <- cfg }); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	writeConfig(t, path, "polling:\n  session_interval: 7s\nstorage:\n  type: memory\n")

	deadline := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-changed:
			if cfg.Polling.SessionInterval == 7*time.Second {
				if p.Current().Polling.SessionInterval != 7*time.Second {
					t.Error("Current() not updated after reload")
				}
				return
			}
		case <-deadline:
			t.Fatal("no reload observed")
		}
	}
}

func TestWatchSkipsInvalidReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "storage:\n  type: memory\n")

	p, err := NewProvider(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan *config.Config, 4)
	if err := p.Watch(ctx, func(cfg *config.Config) { changed <- cfg }); err != nil {
		t.Fatal(err)
	}

	writeConfig(t, path, "storage:\n  type: postgres\n")

	select {
	case cfg := <-changed:
		t.Errorf("onChange called with invalid config %+v", cfg.Storage)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatchSkipsUnchangedContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "polling:\n  session_interval: 2s\nstorage:\n  type: memory\n"
	writeConfig(t, path, body)

	p, err := NewProvider(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	if _, err := p.Load(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan *config.Config, 4)
	if err := p.Watch(ctx, func(cfg *config.Config) { changed <- cfg }); err != nil {
		t.Fatal(err)
	}

	writeConfig(t, path, body)

	select {
	case <-changed:
		t.Error("onChange called for identical content")
	case <-time.After(400 * time.Millisecond):
	}
}

func TestWatchCoalescesBursts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "storage:\n  type: memory\n")

	p, err := NewProvider(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan *config.Config, 8)
	if err := p.Watch(ctx, func(cfg *config.Config) { changed <- cfg }); err != nil {
		t.Fatal(err)
	}

	for _, d := range []string{"3s", "4s", "5s"} {
		writeConfig(t, path, "polling:\n  session_interval: "+d+"\nstorage:\n  type: memory\n")
	}

	select {
	case cfg := <-changed:
		if cfg.Polling.SessionInterval != 5*time.Second {
			t.Errorf("session_interval = %v, want 5s", cfg.Polling.SessionInterval)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}
	select {
	case cfg := <-changed:
		t.Errorf("extra reload with %v", cfg.Polling.SessionInterval)
	case <-time.After(300 * time.Millisecond):
	}
}
