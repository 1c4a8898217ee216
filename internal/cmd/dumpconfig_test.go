package cmd

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"os"
)

func TestDumpConfigPrintsMergedTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[model]\ncycle = 9\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	rootCmd := NewRootCommand()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetArgs([]string{"dump-config", "--config", path})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("dump-config failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "cycle = 9") {
		t.Errorf("expected merged cycle value in output, got: %s", out)
	}
}

func TestDumpConfigRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[model]\ncycle = -1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	rootCmd := NewRootCommand()
	rootCmd.SetOut(new(bytes.Buffer))
	rootCmd.SetArgs([]string{"dump-config", "--config", path})

	if err := rootCmd.Execute(); err == nil {
		t.Fatal("expected an error for an invalid cycle value")
	}
}
