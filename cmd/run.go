package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gooze.dev/pkg/schemata/internal/domain"
	m "gooze.dev/pkg/schemata/internal/model"
)

const journalDirName = "journal"

var runParallelFlag int
var runShardFlag string
var mutationTimeoutFlag int64
var maxBuildErrorsFlag int
var typesFlag []string
var excludeFunctionsFlag []string
var excludeCallsFlag []string
var coverageFlag bool
var coverageThresholdFlag float64
var markersFlag string
var resumeFlag bool

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [paths...]",
		Short: "Run mutation testing",
		Long:  runLongDescription,
		RunE: func(cmd *cobra.Command, args []string) error {
			shardIndex, totalShards := parseShardFlag(runShardFlag)
			reportsPath := m.Path(viper.GetString(outputFlagName))

			discover, err := discoverOptionsFromConfig()
			if err != nil {
				return err
			}

			scheduler, err := schedulerOptionsFromConfig()
			if err != nil {
				return fmt.Errorf("invalid run configuration: %w", err)
			}

			scheduler.Exclude = workingCopyExclusions(string(reportsPath), resolveLogPath(logFileFlag))

			return workflow.Test(cmd.Context(), domain.TestArgs{
				EstimateArgs: domain.EstimateArgs{
					Paths:    parsePaths(args),
					Discover: discover,
				},
				Reports:           reportsPath,
				JournalDir:        filepath.Join(string(reportsPath), journalDirName),
				Scheduler:         scheduler,
				ShardIndex:        shardIndex,
				ShardCount:        totalShards,
				Coverage:          viper.GetBool(coverageEnabledKey),
				CoverageThreshold: viper.GetFloat64(coverageThresholdKey),
				Resume:            viper.GetBool(resumeKey),
			})
		},
	}

	configureRunFlags(cmd)

	return cmd
}

func init() {
	rootCmd.AddCommand(newRunCmd())
}

func configureRunFlags(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&runParallelFlag, runParallelFlagName, "p", viper.GetInt(runParallelConfigKey), "number of parallel workers for mutation testing")
	bindFlagToConfig(cmd.Flags().Lookup(runParallelFlagName), runParallelConfigKey)

	cmd.Flags().StringVarP(&runShardFlag, runShardFlagName, "s", "", "shard index and total shard count in the format INDEX/TOTAL (e.g., 0/3)")

	cmd.Flags().Int64Var(&mutationTimeoutFlag, mutationTimeoutFlagName, viper.GetInt64(mutationTimeoutKey), "timeout in seconds for one mutant run (0 derives it from the baseline run)")
	bindFlagToConfig(cmd.Flags().Lookup(mutationTimeoutFlagName), mutationTimeoutKey)

	cmd.Flags().IntVar(&maxBuildErrorsFlag, maxBuildErrorsFlagName, viper.GetInt(maxBuildErrorsKey), "consecutive mutant build errors that abort the run")
	bindFlagToConfig(cmd.Flags().Lookup(maxBuildErrorsFlagName), maxBuildErrorsKey)

	cmd.Flags().StringSliceVarP(&typesFlag, typesFlagName, "t", viper.GetStringSlice(mutationTypesKey), "mutation operators to apply (default: all)")
	bindFlagToConfig(cmd.Flags().Lookup(typesFlagName), mutationTypesKey)

	cmd.Flags().StringArrayVar(&excludeFunctionsFlag, excludeFunctionsFlagName, viper.GetStringSlice(excludeFunctionsKey), "skip functions whose qualified name matches regex (can be repeated)")
	bindFlagToConfig(cmd.Flags().Lookup(excludeFunctionsFlagName), excludeFunctionsKey)

	cmd.Flags().StringSliceVar(&excludeCallsFlag, excludeCallsFlagName, viper.GetStringSlice(excludeCallsKey), "never remove calls to these functions (e.g. log.Printf)")
	bindFlagToConfig(cmd.Flags().Lookup(excludeCallsFlagName), excludeCallsKey)

	cmd.Flags().BoolVar(&coverageFlag, coverageFlagName, viper.GetBool(coverageEnabledKey), "skip mutants in code no test executes")
	bindFlagToConfig(cmd.Flags().Lookup(coverageFlagName), coverageEnabledKey)

	cmd.Flags().Float64Var(&coverageThresholdFlag, coverageThresholdFlagName, viper.GetFloat64(coverageThresholdKey), "skip files whose statement coverage percent is below this value")
	bindFlagToConfig(cmd.Flags().Lookup(coverageThresholdFlagName), coverageThresholdKey)

	cmd.Flags().StringVar(&markersFlag, markersFlagName, viper.GetString(markersFileKey), "YAML file with output patterns that classify test runs")
	bindFlagToConfig(cmd.Flags().Lookup(markersFlagName), markersFileKey)

	cmd.Flags().BoolVar(&resumeFlag, resumeFlagName, viper.GetBool(resumeKey), "reuse outcomes of an interrupted run for unchanged files")
	bindFlagToConfig(cmd.Flags().Lookup(resumeFlagName), resumeKey)
}

// workingCopyExclusions returns the report and log locations as absolute
// paths, so runs never copy their own output into working copies.
func workingCopyExclusions(paths ...string) []m.Path {
	var out []m.Path

	for _, p := range paths {
		if p == "" {
			continue
		}

		abs, err := filepath.Abs(p)
		if err != nil {
			continue
		}

		out = append(out, m.Path(abs))
	}

	return out
}

func parseShardFlag(shard string) (int, int) {
	if shard == "" {
		return 0, 1
	}

	var index, total int

	_, err := fmt.Sscanf(shard, "%d/%d", &index, &total)
	if err != nil || total <= 0 || index < 0 || index >= total {
		return 0, 1
	}

	return index, total
}
