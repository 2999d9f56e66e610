package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/twistedbytes/genproj/pkg/engine"
)

// resolveReport is the output of the resolve command.
type resolveReport struct {
	Module            string   `json:"module"`
	ContentRoots      []string `json:"content_roots"`
	EngineRoot        string   `json:"engine_root,omitempty"`
	ProjectDescriptor string   `json:"project_descriptor,omitempty"`
	Flavor            string   `json:"flavor"`
	Command           []string `json:"command,omitempty"`
	Error             string   `json:"error,omitempty"`
	Kind              string   `json:"kind,omitempty"`
}

func newResolveCommand() *cobra.Command {
	flags := &projectFlags{}

	cmd := &cobra.Command{
		Use:   "resolve [project-dir...]",
		Short: "Show the resolved engine root, descriptor and build command",
		Long: `Resolve a project without running the build tool.

Prints the module's content roots, the engine root and project descriptor
found among them, and the exact build tool command generate would run.`,
		Example: `  # Show what generate would run
  genproj resolve ~/MyGame

  # Machine-readable output
  genproj resolve ~/MyGame --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.noHistory = true
			a, err := newApp(cmd, args, flags)
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			report, resolveErr := resolveProject(cmd, a)
			if err := writeReport(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			return resolveErr
		},
	}

	flags.register(cmd)
	return cmd
}

// resolveProject mirrors the resolution steps of Generator.Run.
func resolveProject(cmd *cobra.Command, a *app) (*resolveReport, error) {
	ctx := cmd.Context()
	report := &resolveReport{Flavor: a.cfg.Engine.Flavor}

	fail := func(err error) (*resolveReport, error) {
		report.Error = err.Error()
		report.Kind = string(engine.KindOf(err))
		return report, err
	}

	modules, err := a.provider.Modules(ctx)
	if err != nil {
		return fail(&engine.GenerationError{Kind: engine.KindModuleTopology, Message: "failed to read project model", Err: err})
	}
	if len(modules) != 1 {
		return fail(&engine.GenerationError{
			Kind:    engine.KindModuleTopology,
			Message: fmt.Sprintf("expected exactly one module, found %d", len(modules)),
		})
	}
	report.Module = modules[0].Name
	report.ContentRoots = modules[0].ContentRoots

	res, err := engine.Resolve(modules[0].ContentRoots)
	if err != nil {
		return fail(err)
	}
	report.EngineRoot = res.EngineRoot
	report.ProjectDescriptor = res.ProjectDescriptor

	flavor := engine.EngineFlavor(a.cfg.Engine.Flavor)
	var extra []string
	if a.argsHook != nil {
		extra, err = a.argsHook(ctx, res, flavor)
		if err != nil {
			return fail(&engine.GenerationError{Kind: engine.KindHookFailed, Message: "extra arguments script failed", Err: err})
		}
	}

	build := engine.BuildCommandFor(res, flavor, extra...)
	report.Command = append(append([]string(nil), a.cfg.Runner.Launcher...), build.Argv()...)
	return report, nil
}

func writeReport(w io.Writer, r *resolveReport) error {
	if jsonOutput {
		return writeJSON(w, r)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Module:      %s\n", r.Module)
	for i, root := range r.ContentRoots {
		label := ""
		if i == 0 {
			label = "Roots:"
		}
		fmt.Fprintf(&b, "%-12s %s\n", label, root)
	}
	if r.EngineRoot != "" {
		fmt.Fprintf(&b, "Engine root: %s\n", r.EngineRoot)
	}
	if r.ProjectDescriptor != "" {
		fmt.Fprintf(&b, "Project:     %s\n", r.ProjectDescriptor)
	}
	fmt.Fprintf(&b, "Flavor:      %s\n", r.Flavor)
	if len(r.Command) > 0 {
		fmt.Fprintf(&b, "Command:     %s\n", strings.Join(r.Command, " "))
	}
	if r.Error != "" {
		fmt.Fprintf(&b, "Error:       %s\n", r.Error)
	}

	_, err := io.WriteString(w, b.String())
	return err
}
