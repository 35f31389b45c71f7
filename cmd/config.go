package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"gooze.dev/pkg/schemata/internal/domain"
	m "gooze.dev/pkg/schemata/internal/model"
)

const (
	configVersionKey     = "version"
	currentConfigVersion = 1

	configBaseName   = "schemata"
	configFileName   = configBaseName + ".yaml"
	configFolderPath = "."

	outputFlagName      = "output"
	excludeFlagName     = "exclude"
	verboseFlagName     = "verbose"
	logFileFlagName     = "log-file"
	runParallelFlagName = "parallel"
	runShardFlagName    = "shard"

	mutationTimeoutFlagName   = "mutation-timeout"
	maxBuildErrorsFlagName    = "max-build-errors"
	typesFlagName             = "types"
	excludeFunctionsFlagName  = "exclude-functions"
	excludeCallsFlagName      = "exclude-calls"
	coverageFlagName          = "coverage"
	coverageThresholdFlagName = "coverage-threshold"
	markersFlagName           = "markers"
	resumeFlagName            = "resume"

	excludeConfigKey     = "paths.exclude"
	runParallelConfigKey = "run.parallel"
	mutationTimeoutKey   = "run.mutation_timeout"
	baselineTimeoutKey   = "run.baseline_timeout"
	maxBuildErrorsKey    = "run.max_build_errors"
	testCommandKey       = "run.test_command"
	testArgsKey          = "run.test_args"
	mutationTypesKey     = "mutation.types"
	excludeFunctionsKey  = "mutation.exclude_functions"
	excludeCallsKey      = "mutation.exclude_calls"
	coverageEnabledKey   = "coverage.enabled"
	coverageThresholdKey = "coverage.threshold"
	markersFileKey       = "markers.file"
	resumeKey            = "run.resume"

	defaultReportsDir        = ".schemata-reports"
	defaultRunParallel       = 1
	defaultMutationTimeout   = 0
	defaultBaselineTimeout   = int64(domain.DefaultBaselineTimeout / time.Second)
	defaultMaxBuildErrors    = domain.DefaultMaxBuildErrors
	defaultTestCommand       = "go"
	defaultCoverageEnabled   = false
	defaultCoverageThreshold = 0.0
	defaultMarkersFile       = ""
	defaultResume            = false

	envPrefix = "SCHEMATA"

	logFilenameKey   = "log.filename"
	logLevelKey      = "log.level"
	logVerboseKey    = "log.verbose"
	logMaxSizeKey    = "log.max_size"
	logMaxBackupsKey = "log.max_backups"
	logMaxAgeKey     = "log.max_age"
	logCompressKey   = "log.compress"

	defaultLogFilename   = ".schemata.log"
	defaultLogLevel      = "info"
	defaultLogVerbose    = false
	defaultLogMaxSize    = 10
	defaultLogMaxBackups = 3
	defaultLogMaxAge     = 28
	defaultLogCompress   = true
)

var globalLogger *slog.Logger

func init() {
	viper.SetConfigName(configBaseName)
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configFolderPath)
	viper.SetConfigFile(filepath.Join(configFolderPath, configFileName))
	viper.AutomaticEnv()
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	setConfigDefaults()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			return
		}

		fmt.Fprintf(os.Stderr, "failed to read %s: %v\n", configFileName, err)
	}
}

func setConfigDefaults() {
	viper.SetDefault(configVersionKey, currentConfigVersion)
	viper.SetDefault(outputFlagName, defaultReportsDir)
	viper.SetDefault(excludeConfigKey, []string{})

	viper.SetDefault(runParallelConfigKey, defaultRunParallel)
	viper.SetDefault(mutationTimeoutKey, defaultMutationTimeout)
	viper.SetDefault(baselineTimeoutKey, defaultBaselineTimeout)
	viper.SetDefault(maxBuildErrorsKey, defaultMaxBuildErrors)
	viper.SetDefault(resumeKey, defaultResume)
	viper.SetDefault(testCommandKey, defaultTestCommand)
	viper.SetDefault(testArgsKey, domain.DefaultTestArgs)

	viper.SetDefault(mutationTypesKey, []string{})
	viper.SetDefault(excludeFunctionsKey, []string{})
	viper.SetDefault(excludeCallsKey, []string{})

	viper.SetDefault(coverageEnabledKey, defaultCoverageEnabled)
	viper.SetDefault(coverageThresholdKey, defaultCoverageThreshold)
	viper.SetDefault(markersFileKey, defaultMarkersFile)

	// Logging defaults (used by config/env and as fallbacks for flags).
	viper.SetDefault(logFilenameKey, defaultLogFilename)
	viper.SetDefault(logLevelKey, defaultLogLevel)
	viper.SetDefault(logVerboseKey, defaultLogVerbose)
	viper.SetDefault(logMaxSizeKey, defaultLogMaxSize)
	viper.SetDefault(logMaxBackupsKey, defaultLogMaxBackups)
	viper.SetDefault(logMaxAgeKey, defaultLogMaxAge)
	viper.SetDefault(logCompressKey, defaultLogCompress)
}

func parseSlogLevel(value string, defaultLevel slog.Level) slog.Level {
	level := strings.ToLower(strings.TrimSpace(value))
	if level == "" {
		return defaultLevel
	}

	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}

	// Allow numeric slog levels as well (e.g. -4 for debug).
	if n, err := strconv.Atoi(level); err == nil {
		return slog.Level(n)
	}

	return defaultLevel
}

// configureLogger configures the global slog logger.
//
// By default it logs at the configured level; if verbose is true it logs at Debug.
func configureLogger(logPath string, verbose bool) {
	logPath = resolveLogPath(logPath)

	var logLevel slog.Level
	if verbose {
		logLevel = slog.LevelDebug
	} else {
		logLevel = parseSlogLevel(viper.GetString(logLevelKey), slog.LevelInfo)
	}

	logWriter := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    viper.GetInt(logMaxSizeKey),
		MaxBackups: viper.GetInt(logMaxBackupsKey),
		MaxAge:     viper.GetInt(logMaxAgeKey),
		Compress:   viper.GetBool(logCompressKey),
	}

	handler := slog.NewTextHandler(logWriter, &slog.HandlerOptions{
		AddSource: true,
		Level:     logLevel,
	})

	globalLogger = slog.New(handler)
	slog.SetDefault(globalLogger)
}

// resolveLogPath picks the flag value, then the configured file name, then
// the default.
func resolveLogPath(logPath string) string {
	if strings.TrimSpace(logPath) == "" {
		logPath = viper.GetString(logFilenameKey)
	}

	if strings.TrimSpace(logPath) == "" {
		logPath = defaultLogFilename
	}

	return logPath
}

// discoverOptionsFromConfig builds discovery options from the merged
// config, env and flag values.
func discoverOptionsFromConfig() (domain.DiscoverOptions, error) {
	types, err := parseMutationTypes(viper.GetStringSlice(mutationTypesKey))
	if err != nil {
		return domain.DiscoverOptions{}, err
	}

	functions, err := compilePatterns(viper.GetStringSlice(excludeFunctionsKey))
	if err != nil {
		return domain.DiscoverOptions{}, fmt.Errorf("invalid %s: %w", excludeFunctionsKey, err)
	}

	return domain.DiscoverOptions{
		Types:   types,
		Threads: max(viper.GetInt(runParallelConfigKey), 1),
		Visitor: domain.VisitorOptions{
			ExcludePaths:     viper.GetStringSlice(excludeConfigKey),
			ExcludeFunctions: functions,
			ExcludeCalls:     splitList(viper.GetStringSlice(excludeCallsKey)),
		},
	}, nil
}

// schedulerOptionsFromConfig builds scheduler options from the merged
// config, env and flag values.
func schedulerOptionsFromConfig() (domain.SchedulerOptions, error) {
	markers, err := loadMarkers(viper.GetString(markersFileKey))
	if err != nil {
		return domain.SchedulerOptions{}, err
	}

	return domain.SchedulerOptions{
		GoBin:           viper.GetString(testCommandKey),
		TestArgs:        viper.GetStringSlice(testArgsKey),
		Timeout:         time.Duration(viper.GetInt64(mutationTimeoutKey)) * time.Second,
		BaselineTimeout: time.Duration(viper.GetInt64(baselineTimeoutKey)) * time.Second,
		MaxBuildErrors:  viper.GetInt(maxBuildErrorsKey),
		Parallel:        max(viper.GetInt(runParallelConfigKey), 1),
		Markers:         markers,
	}, nil
}

func parseMutationTypes(names []string) ([]m.MutationType, error) {
	var types []m.MutationType

	for _, name := range splitList(names) {
		t, ok := m.ParseMutationType(name)
		if !ok {
			return nil, fmt.Errorf("unsupported mutation type: %s", name)
		}

		types = append(types, t)
	}

	return types, nil
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	var out []*regexp.Regexp

	for _, p := range patterns {
		if strings.TrimSpace(p) == "" {
			continue
		}

		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}

		out = append(out, re)
	}

	return out, nil
}

// loadMarkers reads a marker file, or returns the built-in set when path is empty.
func loadMarkers(path string) (domain.Markers, error) {
	if strings.TrimSpace(path) == "" {
		return domain.DefaultMarkers(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Markers{}, fmt.Errorf("failed to read markers file: %w", err)
	}

	return domain.ParseMarkers(data)
}

// splitList accepts both repeated values and comma separated ones, as env
// variables only carry a single string.
func splitList(values []string) []string {
	var out []string

	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}

	return out
}
