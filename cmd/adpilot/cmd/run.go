package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/adpilot/internal/core"
	"github.com/hugo-lorenzo-mato/adpilot/internal/events"
	"github.com/hugo-lorenzo-mato/adpilot/internal/report"
)

var runCmd = &cobra.Command{
	Use:   "run [instruction]",
	Short: "Run a campaign workflow to completion",
	Long: `Submit an instruction and wait for the workflow to reach a terminal status.

The first interrupt asks the workflow to stop after its current phase; a
second interrupt aborts in-flight tool calls.

Examples:
  adpilot run "How are my Meta campaigns doing this week?"
  adpilot run --platform google --max-iterations 8 "Pause underperforming ad groups"
  echo "Compare CPA across platforms" | adpilot run -`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

var (
	runPlatforms  []string
	runCampaigns  []string
	runMaxIter    int
	runMaxRetries int
	runOutput     string
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringSliceVar(&runPlatforms, "platform", nil, "restrict to platforms (meta, google, tiktok, linkedin)")
	runCmd.Flags().StringSliceVar(&runCampaigns, "campaign", nil, "restrict to campaign IDs")
	runCmd.Flags().IntVar(&runMaxIter, "max-iterations", 0, "override the phase execution ceiling")
	runCmd.Flags().IntVar(&runMaxRetries, "max-retries", 0, "override the per-phase retry ceiling")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "markdown", "output format (markdown, json)")
}

// readInstruction takes the instruction from args, or from stdin for "-"
// or no argument.
func readInstruction(args []string, stdin io.Reader) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		return args[0], nil
	}
	data, err := readAllLimited(stdin, core.MaxInstructionLength+1)
	if err != nil {
		return "", fmt.Errorf("reading instruction from stdin: %w", err)
	}
	return string(data), nil
}

func runOptions() core.Options {
	return core.Options{
		Platforms:              runPlatforms,
		CampaignIDs:            runCampaigns,
		MaxIterations:          runMaxIter,
		MaxRetriesPerOperation: runMaxRetries,
	}
}

func runRun(_ *cobra.Command, args []string) error {
	if runOutput != "markdown" && runOutput != "json" {
		return fmt.Errorf("unknown output format %q", runOutput)
	}
	instruction, err := readInstruction(args, os.Stdin)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer closeCancel()
		_ = app.Close(closeCtx)
	}()

	if !quiet {
		progress := app.Events.Subscribe(events.TypeIntentClassified, events.TypePhaseCompleted, events.TypeWorkflowFinished)
		defer app.Events.Unsubscribe(progress)
		go func() {
			for e := range progress {
				if line := formatProgress(e); line != "" {
					fmt.Fprintln(os.Stderr, line)
				}
			}
		}()
	}

	id, err := app.Service.StartWorkflow(ctx, instruction, runOptions())
	if err != nil {
		return err
	}
	if !quiet {
		fmt.Fprintf(os.Stderr, "Workflow %s started\n", id)
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "Stopping after the current phase (interrupt again to abort)...")
		_ = app.Service.Cancel(id)
		<-sigCh
		cancel()
	}()

	rep, err := app.Service.Wait(ctx, id)
	if err != nil {
		return err
	}
	if rep == nil {
		return fmt.Errorf("workflow %s produced no report", id)
	}

	if err := printReport(rep, runOutput); err != nil {
		return err
	}
	if !quiet {
		fmt.Fprintf(os.Stderr, "Report written to %s\n", app.Reports.Path(id))
	}
	if rep.Status == core.WorkflowStatusFailed {
		return fmt.Errorf("workflow %s failed", id)
	}
	return nil
}

// formatProgress renders one progress event as a status line.
func formatProgress(e events.Event) string {
	switch ev := e.(type) {
	case events.IntentClassifiedEvent:
		return fmt.Sprintf("  intent %s (%.2f): %s", ev.Intent, ev.Confidence, strings.Join(ev.Sequence, " -> "))
	case events.PhaseCompletedEvent:
		line := fmt.Sprintf("  %-9s attempt %d %s in %s", ev.Phase, ev.Attempt, ev.Outcome, ev.Duration.Round(time.Millisecond))
		if ev.Detail != "" {
			line += ": " + ev.Detail
		}
		return line
	case events.WorkflowFinishedEvent:
		line := fmt.Sprintf("  finished %s after %d iterations, %d tool calls", ev.Status, ev.Iterations, ev.ToolCalls)
		if ev.StopReason != "" {
			line += " (" + ev.StopReason + ")"
		}
		return line
	}
	return ""
}

func printReport(rep *core.FinalReport, format string) error {
	if format == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}
	fmt.Println(strings.TrimRight(report.Render(rep), "\n"))
	return nil
}
