package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/twistedbytes/genproj/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var (
		limit       int
		project     string
		failedOnly  bool
		pruneBefore time.Duration
		id          string
		events      bool
		eventType   string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent project file generations",
		Long: `List invocations recorded in the history database, newest first.

Each entry shows when the build tool ran, how long it took, the project
descriptor and the outcome: ok, or the failure kind with the exit code.

--id shows one invocation with its full command. --events lists the
refresh requests and error dialogs published during generations.`,
		Example: `  # Last 20 invocations
  genproj history

  # Only failures of one project
  genproj history --project ~/MyGame/MyGame.uproject --failed

  # One invocation in detail
  genproj history --id 3f0c1a52-7d5e-4d8b-9a51-0c2f6e8b9d10

  # Error dialogs shown so far
  genproj history --events --type dialog.error

  # Forget invocations older than 30 days
  genproj history --prune 720h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, nil, nil)
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			if a.store == nil {
				return fmt.Errorf("invocation history is disabled or unavailable (%s)", a.cfg.History.Path)
			}
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if pruneBefore > 0 {
				n, err := a.store.PruneInvocations(ctx, time.Now().Add(-pruneBefore))
				if err != nil {
					return err
				}
				a.logger.WithField("deleted", n).Info("Pruned invocation history")
			}

			if id != "" {
				inv, err := a.store.GetInvocation(ctx, id)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(out, inv)
				}
				return writeInvocation(out, inv)
			}

			if events {
				var typ *string
				if eventType != "" {
					typ = &eventType
				}
				list, err := a.store.ListEvents(ctx, typ, limit, 0)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(out, list)
				}
				return writeEvents(out, list)
			}

			filter := stores.InvocationFilter{Limit: limit}
			if project != "" {
				abs, err := filepath.Abs(project)
				if err != nil {
					return err
				}
				filter.ProjectDescriptor = abs
			}

			invocations, err := a.store.ListInvocations(ctx, filter)
			if err != nil {
				return err
			}
			if failedOnly {
				kept := invocations[:0]
				for _, inv := range invocations {
					if !inv.Succeeded() {
						kept = append(kept, inv)
					}
				}
				invocations = kept
			}

			stats, err := a.store.Stats(ctx)
			if err != nil {
				return err
			}

			if jsonOutput {
				return writeJSON(out, map[string]interface{}{
					"invocations": invocations,
					"stats":       stats,
				})
			}

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTARTED\tDURATION\tPROJECT\tRESULT")
			for _, inv := range invocations {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					inv.ID,
					inv.StartedAt.Local().Format(time.DateTime),
					inv.Duration.Round(time.Millisecond),
					inv.ProjectDescriptor,
					describeResult(inv),
				)
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			fmt.Fprintf(out, "\n%d invocations, %d succeeded\n", stats.Total, stats.Succeeded)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of entries to show (0 for all)")
	cmd.Flags().StringVar(&project, "project", "", "only show invocations of this .uproject")
	cmd.Flags().BoolVar(&failedOnly, "failed", false, "only show failed invocations")
	cmd.Flags().DurationVar(&pruneBefore, "prune", 0, "delete invocations older than this before listing")
	cmd.Flags().StringVar(&id, "id", "", "show one invocation in detail")
	cmd.Flags().BoolVar(&events, "events", false, "list published events instead of invocations")
	cmd.Flags().StringVar(&eventType, "type", "", "only list events of this type (with --events)")
	cmd.MarkFlagsMutuallyExclusive("id", "events")

	return cmd
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeInvocation(w io.Writer, inv *stores.Invocation) error {
	tw := tabwriter.NewWriter(w, 0, 0, 1, ' ', 0)
	fmt.Fprintf(tw, "ID:\t%s\n", inv.ID)
	fmt.Fprintf(tw, "Started:\t%s\n", inv.StartedAt.Local().Format(time.DateTime))
	fmt.Fprintf(tw, "Duration:\t%s\n", inv.Duration.Round(time.Millisecond))
	fmt.Fprintf(tw, "Engine root:\t%s\n", inv.EngineRoot)
	fmt.Fprintf(tw, "Project:\t%s\n", inv.ProjectDescriptor)
	fmt.Fprintf(tw, "Result:\t%s\n", describeResult(inv))
	if inv.Error != nil {
		fmt.Fprintf(tw, "Error:\t%s\n", *inv.Error)
	}
	fmt.Fprintf(tw, "Output:\t%d stdout, %d stderr lines\n", inv.StdoutLines, inv.StderrLines)
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(inv.Command) > 0 {
		fmt.Fprintln(w, "Command:")
		for _, arg := range inv.Command {
			fmt.Fprintf(w, "  %s\n", arg)
		}
	}
	return nil
}

func writeEvents(w io.Writer, events []*stores.Event) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tLEVEL\tTYPE\tMESSAGE")
	for _, e := range events {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			e.Timestamp.Local().Format(time.DateTime),
			e.Level,
			e.Type,
			e.Message,
		)
	}
	return tw.Flush()
}

func describeResult(inv *stores.Invocation) string {
	if inv.Succeeded() {
		return "ok"
	}

	var b strings.Builder
	b.WriteString(inv.Kind)
	if inv.ExitCode != nil {
		fmt.Fprintf(&b, " (exit %d)", *inv.ExitCode)
	}
	return b.String()
}
