package cmd

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	m "gooze.dev/pkg/schemata/internal/model"
)

func TestConfigConstants(t *testing.T) {
	assert.Equal(t, "schemata", configBaseName)
	assert.Equal(t, "schemata.yaml", configFileName)
	assert.Equal(t, ".", configFolderPath)
	assert.Equal(t, "SCHEMATA", envPrefix)
	assert.Equal(t, ".schemata-reports", defaultReportsDir)
	assert.Equal(t, int64(600), defaultBaselineTimeout)
	assert.Equal(t, 5, defaultMaxBuildErrors)
}

func TestConfigDefaults(t *testing.T) {
	assert.Equal(t, currentConfigVersion, viper.GetInt(configVersionKey))
	assert.Equal(t, "go", viper.GetString(testCommandKey))
	assert.Equal(t, []string{"test", "-count=1", "-vet=off", "./..."}, viper.GetStringSlice(testArgsKey))
	assert.False(t, viper.GetBool(coverageEnabledKey))
	assert.Equal(t, "info", viper.GetString(logLevelKey))
}

func TestResolveLogPath(t *testing.T) {
	assert.Equal(t, "flag.log", resolveLogPath("flag.log"))

	t.Setenv("SCHEMATA_LOG_FILENAME", "configured.log")
	assert.Equal(t, "configured.log", resolveLogPath(""))
	assert.Equal(t, "configured.log", resolveLogPath("  "))

	t.Setenv("SCHEMATA_LOG_FILENAME", " ")
	assert.Equal(t, defaultLogFilename, resolveLogPath(""))
}

func TestParseSlogLevel(t *testing.T) {
	tests := []struct {
		value string
		want  slog.Level
	}{
		{"", slog.LevelWarn},
		{"debug", slog.LevelDebug},
		{" INFO ", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"-4", slog.LevelDebug},
		{"loud", slog.LevelWarn},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			assert.Equal(t, tt.want, parseSlogLevel(tt.value, slog.LevelWarn))
		})
	}
}

func TestConfigureLogger(t *testing.T) {
	original := slog.Default()
	t.Cleanup(func() { slog.SetDefault(original) })

	logPath := filepath.Join(t.TempDir(), "run.log")

	configureLogger(logPath, true)
	slog.Debug("debug message", "key", "value")

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "debug message")
	assert.Contains(t, string(data), "key=value")

	quiet := filepath.Join(t.TempDir(), "quiet.log")

	configureLogger(quiet, false)
	slog.Debug("hidden")
	slog.Info("shown")

	data, err = os.ReadFile(quiet)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), "shown")
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"relational", "boolean", "logical"}, splitList([]string{"relational, boolean", "", "logical"}))
	assert.Nil(t, splitList(nil))
}

func TestParseMutationTypes(t *testing.T) {
	types, err := parseMutationTypes([]string{"Relational,boolean"})
	require.NoError(t, err)
	assert.Equal(t, []m.MutationType{m.MutationRelational, m.MutationBoolean}, types)

	_, err = parseMutationTypes([]string{"bitwise"})
	require.Error(t, err)
}

func TestCompilePatterns(t *testing.T) {
	patterns, err := compilePatterns([]string{`^Test`, "", `\.String$`, `a{1,3}`})
	require.NoError(t, err)
	require.Len(t, patterns, 3)
	assert.True(t, patterns[2].MatchString("aa"))

	_, err = compilePatterns([]string{"("})
	require.Error(t, err)
}

func TestLoadMarkers(t *testing.T) {
	markers, err := loadMarkers("")
	require.NoError(t, err)
	assert.NotEmpty(t, markers.Build)

	path := filepath.Join(t.TempDir(), "markers.yaml")
	require.NoError(t, os.WriteFile(path, []byte("build:\n  - 'cannot compile'\nfailure:\n  - '^NOPE'\n"), 0o600))

	markers, err = loadMarkers(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"cannot compile"}, markers.Build)
	assert.Equal(t, []string{"^NOPE"}, markers.Failure)
	assert.Empty(t, markers.Runtime)

	_, err = loadMarkers(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
