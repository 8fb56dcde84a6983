package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestHomeRespectsEnvOverride(t *testing.T) {
	t.Setenv(EnvHome, "/tmp/mcpherd-test-home")

	if home := Home(); home != "/tmp/mcpherd-test-home" {
		t.Errorf("Home() = %s; want /tmp/mcpherd-test-home", home)
	}
}

func TestHomeDefaultsToUserHome(t *testing.T) {
	t.Setenv(EnvHome, "")

	userHome, _ := os.UserHomeDir()
	expected := filepath.Join(userHome, ".mcpherd")

	if home := Home(); home != expected {
		t.Errorf("Home() = %s; want %s", home, expected)
	}
}

func TestGetPaths(t *testing.T) {
	paths := GetPaths("/opt/mcpherd")

	if paths.Registry != "/opt/mcpherd/registry.json" {
		t.Errorf("Registry path incorrect: %s", paths.Registry)
	}
	if paths.Socket != "/opt/mcpherd/mcpherd.sock" {
		t.Errorf("Socket path incorrect: %s", paths.Socket)
	}
	if paths.Lock != "/opt/mcpherd/mcpherdd.lock" {
		t.Errorf("Lock path incorrect: %s", paths.Lock)
	}
	if !strings.HasPrefix(paths.ServersDir, paths.Home) {
		t.Errorf("ServersDir escapes home: %s", paths.ServersDir)
	}
}

func TestEnsureDirs(t *testing.T) {
	home := t.TempDir()

	paths, err := EnsureDirs(home)
	if err != nil {
		t.Fatalf("EnsureDirs failed: %v", err)
	}

	for _, dir := range []string{paths.ServersDir, paths.Logs, paths.TempDir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected directory %s: %v", dir, err)
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", dir)
		}
	}
}

func TestExpandPath(t *testing.T) {
	tests := []struct {
		input    string
		contains string
	}{
		{"~/test", "/test"},
		{"~", ""},
		{"/absolute/path", "/absolute/path"},
		{"", ""},
	}

	for _, tt := range tests {
		result := ExpandPath(tt.input)
		if tt.input == "~" {
			home, _ := os.UserHomeDir()
			if result != home {
				t.Errorf("ExpandPath(%q) = %q; want home directory", tt.input, result)
			}
		} else if tt.input != "" && !strings.Contains(result, tt.contains) {
			t.Errorf("ExpandPath(%q) = %q; should contain %q", tt.input, result, tt.contains)
		}
	}
}
