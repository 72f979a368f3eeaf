package profile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/matheus3301/remotememo/internal/config"
)

func TestDir(t *testing.T) {
	base := t.TempDir()
	t.Setenv(HomeEnv, base)

	got := Dir("main")
	want := filepath.Join(base, "profiles", "main")
	if got != want {
		t.Errorf("Dir(main) = %q, want %q", got, want)
	}
}

func TestPaths(t *testing.T) {
	t.Setenv(HomeEnv, t.TempDir())

	tests := map[string]string{
		SocketPath("test"): filepath.Join("profiles", "test", "control.sock"),
		LockPath("test"):   filepath.Join("profiles", "test", "LOCK"),
		DBPath("test"):     filepath.Join("profiles", "test", "memo.db"),
		LogPath("test"):    filepath.Join("profiles", "test", "logs", "memod.log"),
		ConfigPath("test"): filepath.Join("profiles", "test", "config.toml"),
	}
	for got, suffix := range tests {
		if !strings.HasSuffix(got, suffix) {
			t.Errorf("%q does not end with %q", got, suffix)
		}
	}
}

func TestEnsureDir(t *testing.T) {
	t.Setenv(HomeEnv, t.TempDir())

	if err := EnsureDir("kitchen"); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(LogDir("kitchen"))
	if err != nil {
		t.Fatalf("log dir not created: %v", err)
	}
	if !info.IsDir() {
		t.Error("log dir is not a directory")
	}
}

func TestResolve(t *testing.T) {
	t.Setenv(HomeEnv, t.TempDir())

	if got := Resolve(""); got != DefaultName {
		t.Errorf("Resolve() = %q, want %q", got, DefaultName)
	}
	if got := Resolve("flag"); got != "flag" {
		t.Errorf("Resolve(flag) = %q", got)
	}

	if err := config.SaveGlobal(GlobalConfigPath(), &config.Global{DefaultProfile: "bedroom"}); err != nil {
		t.Fatal(err)
	}
	if got := Resolve(""); got != "bedroom" {
		t.Errorf("Resolve() = %q, want bedroom from global config", got)
	}
}

func TestLoadConfigMissingUsesDefaults(t *testing.T) {
	t.Setenv(HomeEnv, t.TempDir())

	cfg, err := LoadConfig("fresh")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Sync.MaxFailures != 3 {
		t.Errorf("MaxFailures = %d, want default 3", cfg.Sync.MaxFailures)
	}
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid simple", "main", false},
		{"valid with numbers", "tablet2", false},
		{"valid with hyphen", "living-room", false},
		{"valid with underscore", "living_room", false},
		{"valid max length", strings.Repeat("a", 64), false},
		{"empty", "", true},
		{"uppercase", "Main", true},
		{"space", "my profile", true},
		{"dot", "my.profile", true},
		{"too long", strings.Repeat("a", 65), true},
		{"slash", "my/profile", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}
