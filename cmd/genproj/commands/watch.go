package commands

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/twistedbytes/genproj/pkg/watch"
)

func newWatchCommand() *cobra.Command {
	var (
		flags       = &projectFlags{}
		metricsAddr string
		initial     bool
	)

	cmd := &cobra.Command{
		Use:   "watch [project-dir...]",
		Short: "Regenerate project files when descriptors change",
		Long: `Watch project directories and regenerate IDE project files whenever a
.uproject, *.Build.cs or *.Target.cs file is created, changed or removed.

Changes are debounced (watch.debounce, 500ms by default). Build output
directories such as Binaries, Intermediate and Saved are not watched.
A change arriving while the build tool is still running is dropped.`,
		Example: `  # Watch the current project
  genproj watch

  # Regenerate once on start and expose prometheus metrics
  genproj watch ~/MyGame --initial --metrics-addr :9464`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, args, flags)
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			dirs := a.projectDirs
			if len(flags.roots) > 0 {
				dirs = watchDirsForRoots(flags.roots)
			}

			a.notifier.OnRefresh(func(ctx context.Context) error {
				a.logger.Info("Project files regenerated, waiting for changes")
				return nil
			})

			w, err := watch.New(dirs, a.generator.Run, watch.Options{
				Debounce: a.cfg.Watch.Debounce,
				Ignore:   a.cfg.Watch.Ignore,
				Logger:   a.logger,
				Metrics:  a.tel.Metrics,
			})
			if err != nil {
				return err
			}

			g, ctx := errgroup.WithContext(cmd.Context())
			if metricsAddr != "" {
				g.Go(func() error {
					a.logger.WithField("addr", metricsAddr).Info("Serving metrics")
					return a.tel.Metrics.Serve(ctx, metricsAddr)
				})
			}
			g.Go(func() error {
				return w.Run(ctx)
			})

			if initial {
				// A failure is already reported and must not stop watching.
				_ = a.generator.Run(ctx)
			}

			return g.Wait()
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address while watching")
	cmd.Flags().BoolVar(&initial, "initial", false, "regenerate once before waiting for changes")

	return cmd
}

// watchDirsForRoots picks the directories to watch for explicit content
// roots: the directories holding .uproject descriptors, or every root when
// none names a descriptor. Engine roots are too large to watch.
func watchDirsForRoots(roots []string) []string {
	seen := make(map[string]bool)
	var dirs []string
	for _, root := range roots {
		if !strings.HasSuffix(root, ".uproject") {
			continue
		}
		dir := filepath.Dir(root)
		if !seen[dir] {
			seen[dir] = true
			dirs = append(dirs, dir)
		}
	}
	if len(dirs) == 0 {
		return roots
	}
	return dirs
}
