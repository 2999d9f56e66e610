package commands

import (
	"github.com/spf13/cobra"
)

func newGenerateCommand() *cobra.Command {
	flags := &projectFlags{}

	cmd := &cobra.Command{
		Use:   "generate [project-dir...]",
		Short: "Regenerate IDE project files",
		Long: `Regenerate IDE project files for a project.

The project directories are scanned for a .uproject descriptor and an engine
root; together they must form exactly one module. With --root the scanner is
bypassed and the given paths are the module's content roots.

The build tool is run with -projectfiles, -project=<descriptor>, -game and
-rocket (installed engines) or -engine (source builds). Nothing is spawned
unless both the engine root and the descriptor were found.`,
		Example: `  # Regenerate the project in the current directory
  genproj generate

  # Use explicit content roots
  genproj generate --root /work/UE5 --root /work/MyGame/MyGame.uproject

  # Source build of the engine, run through mono
  genproj generate ~/MyGame --engine-flavor source --launcher mono`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, args, flags)
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			return a.generator.Run(cmd.Context())
		},
	}

	flags.register(cmd)
	return cmd
}
