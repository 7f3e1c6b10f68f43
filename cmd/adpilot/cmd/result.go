package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/adpilot/internal/core"
	"github.com/hugo-lorenzo-mato/adpilot/internal/report"
)

var resultCmd = &cobra.Command{
	Use:   "result <workflow-id>",
	Short: "Show the final report of a finished workflow",
	Args:  cobra.ExactArgs(1),
	RunE:  runResult,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored workflows, newest first",
	RunE:  runList,
}

var (
	resultOutput string
	resultRender bool
	listLimit    int
)

func init() {
	rootCmd.AddCommand(resultCmd)
	rootCmd.AddCommand(listCmd)

	resultCmd.Flags().StringVarP(&resultOutput, "output", "o", "markdown", "output format (markdown, json)")
	resultCmd.Flags().BoolVar(&resultRender, "render", false, "render markdown for the terminal")
	listCmd.Flags().IntVarP(&listLimit, "limit", "n", 20, "maximum workflows to show (0 for all)")
}

func runResult(_ *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	app, err := newStoreApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close(ctx) }()

	id := core.WorkflowID(args[0])
	rep, err := app.Store.LoadReport(ctx, id)
	if err != nil {
		if core.IsCategory(err, core.ErrCatNotFound) {
			if wc, lerr := app.Store.Load(ctx, id); lerr == nil && !wc.Status.IsTerminal() {
				return fmt.Errorf("workflow %s is still %s", id, wc.Status)
			}
		}
		return err
	}

	if resultOutput == "json" {
		return printReport(rep, "json")
	}

	md := report.Render(rep)
	if resultRender || stdoutIsTerminal() {
		rendered, rerr := renderMarkdown(md)
		if rerr == nil {
			fmt.Print(rendered)
			return nil
		}
		app.Logger.Debug("markdown rendering failed", "error", rerr)
	}
	fmt.Print(md)
	return nil
}

func renderMarkdown(md string) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return "", err
	}
	return r.Render(md)
}

func runList(_ *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	app, err := newStoreApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close(ctx) }()

	summaries, err := app.Store.List(ctx, listLimit)
	if err != nil {
		return err
	}
	if len(summaries) == 0 {
		if !quiet {
			fmt.Fprintln(os.Stderr, "No workflows found.")
		}
		return nil
	}
	return writeSummaries(os.Stdout, summaries)
}

func writeSummaries(w io.Writer, summaries []core.WorkflowSummary) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tUPDATED\tINSTRUCTION")
	for _, s := range summaries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.ID, s.Status, s.UpdatedAt.Local().Format(time.DateTime), truncate(s.Instruction, 60))
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("writing workflow list: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
