package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
)

func TestRunRequiresProgram(t *testing.T) {
	rootCmd.SetArgs([]string{"run", "--target", "app"})
	defer rootCmd.SetArgs(nil)

	if err := rootCmd.Execute(); err == nil {
		t.Fatal("expected usage error without a program")
	}
}

func TestRunRequiresTarget(t *testing.T) {
	t.Setenv("CALLTRACE_TARGET", "")
	viper.Set("target", "")
	out := filepath.Join(t.TempDir(), "calllog.log")

	rootCmd.SetArgs([]string{"run", "-o", out, "--", "true"})
	defer rootCmd.SetArgs(nil)

	if err := rootCmd.Execute(); err == nil {
		t.Fatal("expected error without a target module")
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Errorf("trace log was created before the configuration was verified")
	}
}
