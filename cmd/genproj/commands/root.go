package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "genproj",
		Short: "Regenerate Unreal Engine IDE project files",
		Long: `genproj locates the Unreal Engine root and the .uproject descriptor of a
project checkout and runs UnrealBuildTool to regenerate IDE project files.

The engine root is the directory containing Engine/Source/UE5Editor.Target.cs
(or UE4Editor.Target.cs). It is looked up next to the project, through the
EngineAssociation of the .uproject file and in the launcher's Install.ini.

Build tool output is streamed to the log. Failures are shown in a framed
error message and recorded in the invocation history.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newGenerateCommand())
	rootCmd.AddCommand(newResolveCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newWatchCommand())

	return rootCmd
}
