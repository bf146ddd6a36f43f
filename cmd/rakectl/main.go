package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	rakeTargetsPath   string
	rakeDataPath      string
	rakeIDColumn      string
	rakeVariables     []string
	rakeTolerance     float64
	rakeMaxIterations int
	rakeTrimCap       float64
	rakeTrimFloor     float64
	rakeDecimals      int
	rakeOutPath       string

	fetchURL     string
	fetchToken   string
	fetchVars    []string
	fetchOutPath string

	rootCmd = &cobra.Command{
		Use:   "rakectl",
		Short: "Rake survey weights from the command line",
		Long: `rakectl adjusts survey respondent weights until the weighted sample
matches population targets, and reports how well each variable matched.`,
	}

	rakeCmd = &cobra.Command{
		Use:   "rake",
		Short: "Rake a respondent CSV against a targets file",
		Run:   runRake, // Defined in cmd_rake.go
	}

	targetsCmd = &cobra.Command{
		Use:   "targets",
		Short: "Manage population target files",
	}
	targetsFetchCmd = &cobra.Command{
		Use:   "fetch",
		Short: "Fetch marginals from a census service and write a targets file",
		Run:   runTargetsFetch, // Defined in cmd_targets.go
	}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(rakeCmd)
	rakeCmd.Flags().StringVar(&rakeTargetsPath, "targets", "", "path to the targets YAML file")
	rakeCmd.Flags().StringVar(&rakeDataPath, "data", "", "path to the respondent CSV (gzip detected by .gz suffix)")
	rakeCmd.Flags().StringVar(&rakeIDColumn, "id-col", "id", "name of the respondent id column")
	rakeCmd.Flags().StringSliceVar(&rakeVariables, "vars", nil, "rake only these variables (default: all in the targets file)")
	rakeCmd.Flags().Float64Var(&rakeTolerance, "tolerance", 0.0005, "convergence tolerance on weighted proportions")
	rakeCmd.Flags().IntVar(&rakeMaxIterations, "max-iterations", 50, "maximum raking passes (0 measures without adjusting)")
	rakeCmd.Flags().Float64Var(&rakeTrimCap, "trim-cap", 0, "cap weights at this multiple of the mean (0 disables)")
	rakeCmd.Flags().Float64Var(&rakeTrimFloor, "trim-floor", 0, "floor weights at this multiple of the mean (0 disables)")
	rakeCmd.Flags().IntVar(&rakeDecimals, "decimals", 4, "rounding precision for the match column")
	rakeCmd.Flags().StringVar(&rakeOutPath, "out", "", "write final weights to this CSV path")

	rootCmd.AddCommand(targetsCmd)
	targetsCmd.AddCommand(targetsFetchCmd)
	targetsFetchCmd.Flags().StringVar(&fetchURL, "url", os.Getenv("RAKER_CENSUS_URL"), "census service base URL")
	targetsFetchCmd.Flags().StringVar(&fetchToken, "token", os.Getenv("RAKER_CENSUS_TOKEN"), "census service bearer token")
	targetsFetchCmd.Flags().StringSliceVar(&fetchVars, "vars", nil, "variables to fetch (default: all published)")
	targetsFetchCmd.Flags().StringVar(&fetchOutPath, "out", "targets.yaml", "output path ('-' for stdout)")
}

// fail prints a one-line error and exits with the validation error code.
func fail(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "rakectl: "+format+"\n", args...)
	os.Exit(1)
}
