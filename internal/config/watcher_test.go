package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func watchedConfig(t *testing.T) (string, *Watcher, chan *Config) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "querygate.toml")
	writeConfigFile(t, path, `
[server]
data_dir = "`+dir+`"

[budget]
daily_limit = 10.0
`)
	if _, err := Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}

	w, err := Watch(path)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	t.Cleanup(func() { w.Close() })

	reloaded := make(chan *Config, 4)
	w.OnChange(func(old, next *Config) { reloaded <- next })
	return path, w, reloaded
}

func TestWatch_EmptyPathRejected(t *testing.T) {
	if _, err := Watch(""); err == nil {
		t.Fatal("expected an error for an empty path")
	}
}

func TestWatch_ReloadsOnFileChange(t *testing.T) {
	path, _, reloaded := watchedConfig(t)

	writeConfigFile(t, path, `
[server]
data_dir = "`+filepath.Dir(path)+`"

[budget]
daily_limit = 20.0
`)

	select {
	case next := <-reloaded:
		if next.Budget.DailyLimit != 20.0 {
			t.Errorf("DailyLimit in callback = %v, want 20.0", next.Budget.DailyLimit)
		}
		if got := Get().Budget.DailyLimit; got != 20.0 {
			t.Errorf("DailyLimit from Get() = %v, want 20.0", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("reload callback never fired")
	}
}

func TestWatch_InvalidUpdateKeepsActiveConfig(t *testing.T) {
	path, _, reloaded := watchedConfig(t)

	// Alert above emergency fails validation; the active config must
	// survive and the watcher must stay alive for the next good write.
	writeConfigFile(t, path, `
[server]
data_dir = "`+filepath.Dir(path)+`"

[budget]
daily_limit = 99.0
alert_threshold = 0.99
emergency_threshold = 0.95
`)
	time.Sleep(4 * reloadDebounce)
	if got := Get().Budget.DailyLimit; got != 10.0 {
		t.Errorf("DailyLimit after rejected reload = %v, want the original 10.0", got)
	}

	writeConfigFile(t, path, `
[server]
data_dir = "`+filepath.Dir(path)+`"

[budget]
daily_limit = 30.0
`)
	select {
	case next := <-reloaded:
		if next.Budget.DailyLimit != 30.0 {
			t.Errorf("DailyLimit after recovery = %v, want 30.0", next.Budget.DailyLimit)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("watcher did not recover after a rejected reload")
	}
}
