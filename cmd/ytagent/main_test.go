package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the root command with fresh flag values and returns its
// combined output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	configPrint = false
	runInput = ""
	schedulesCount = 20
	logLevel = ""

	dir := t.TempDir()
	base := []string{
		"--config", filepath.Join(dir, "absent.toml"),
		"--env-file", filepath.Join(dir, ".env"),
	}

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append(base, args...))
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestCommandTree(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "run", "schedules", "quota", "config", "version"} {
		assert.True(t, names[want], "missing command %s", want)
	}

	cmd, _, err := rootCmd.Find([]string{"quota", "plan"})
	require.NoError(t, err)
	assert.Equal(t, "plan", cmd.Name())

	cmd, _, err = rootCmd.Find([]string{"config", "validate"})
	require.NoError(t, err)
	assert.NotNil(t, cmd.Flags().Lookup("print"))
}

func TestPersistentFlags(t *testing.T) {
	flags := rootCmd.PersistentFlags()

	tests := []struct {
		name      string
		shorthand string
		def       string
	}{
		{"config", "c", "./config.toml"},
		{"env-file", "", ".env"},
		{"log-level", "l", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := flags.Lookup(tt.name)
			require.NotNil(t, f)
			assert.Equal(t, tt.shorthand, f.Shorthand)
			assert.Equal(t, tt.def, f.DefValue)
		})
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "ytagent "+Version))
}

func TestConfigValidate(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		out, err := execute(t, "config", "validate")
		require.NoError(t, err)
		assert.Contains(t, out, "configuration is valid")
		assert.NotContains(t, out, "[workers]")
	})

	t.Run("print", func(t *testing.T) {
		out, err := execute(t, "config", "validate", "--print")
		require.NoError(t, err)
		assert.Contains(t, out, "[workers]")
	})

	t.Run("invalid file lists every error", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.toml")
		content := "[workers]\npool_size = 0\n\n[quota]\nwarn_ratio = 0.99\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		_, err := execute(t, "config", "validate", "--config", path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "workers.pool_size")
		assert.Contains(t, err.Error(), "quota ratios")
	})

	t.Run("log level override", func(t *testing.T) {
		_, err := execute(t, "config", "validate", "--log-level", "verbose")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "logging.level")
	})
}

func TestQuotaPlan(t *testing.T) {
	out, err := execute(t, "quota", "plan")
	require.NoError(t, err)

	assert.Contains(t, out, "trend_monitor")
	assert.Contains(t, out, "keyword_researcher")
	assert.Contains(t, out, "limit: 10000")
	assert.Contains(t, out, "reserve:")
}

func TestSchedules(t *testing.T) {
	out, err := execute(t, "schedules", "--count", "3")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "AT"))
	for _, line := range lines[1:] {
		assert.Contains(t, line, "JST")
	}
}

func TestRun_RejectsBadArguments(t *testing.T) {
	_, err := execute(t, "run", "video_editor")
	assert.ErrorContains(t, err, "video_editor")

	_, err = execute(t, "run", "trend_monitor", "--input", "[1,2]")
	assert.ErrorContains(t, err, "invalid --input")

	_, err = execute(t, "run")
	assert.Error(t, err)
}

func TestParseInput(t *testing.T) {
	in, err := parseInput("")
	require.NoError(t, err)
	assert.Empty(t, in)

	in, err = parseInput(`{"mode":"weekly","limit":5}`)
	require.NoError(t, err)
	assert.Equal(t, "weekly", in["mode"])
	assert.Equal(t, float64(5), in["limit"])

	_, err = parseInput("not json")
	assert.Error(t, err)
}
