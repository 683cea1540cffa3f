package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ferryipc/ferry/cmd/demo"
	"github.com/ferryipc/ferry/cmd/perf"
	"github.com/ferryipc/ferry/cmd/util"
)

const (
	Version = "0.3.1"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "ferry",
		Short: "zero-copy request-response messaging",
		Long: fmt.Sprintf(`ferry (v%s)

A request-response messaging library built on loaned shared payload
buffers: clients stream requests to connected servers, servers stream
correlated responses back, nothing is copied on the hot path.`, Version),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			util.InitConfig()
			util.InitLoggers(viper.GetString("log-level"))
		},
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of ferry",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("ferry v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(demo.DemoCmd)
	RootCmd.AddCommand(perf.PerfCmd)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "log-level"
	RootCmd.PersistentFlags().String(key, "info", util.WrapString("log level to use (debug, info, warn, error)"))
	_ = viper.BindPFlag(key, RootCmd.PersistentFlags().Lookup(key))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
