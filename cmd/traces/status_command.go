package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"traceapi/internal/api"
	"traceapi/internal/client"
	"traceapi/internal/store"
)

// generationStateOrder lists states in lifecycle order for the status table.
var generationStateOrder = []store.GenerationState{
	store.GenerationCreated,
	store.GenerationValidating,
	store.GenerationMerging,
	store.GenerationFinalizing,
	store.GenerationComplete,
	store.GenerationFailed,
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon, readiness check, and generation status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(cl *client.Client) error {
				status, err := cl.Status(cmd.Context())
				if err != nil {
					return err
				}
				return writeOutput(cmd, ctx.outputFormat(), status, func() error {
					out := cmd.OutOrStdout()
					renderDaemonStatus(out, status, isTerminal(out))
					return nil
				})
			})
		},
	}
}

func renderDaemonStatus(out io.Writer, status *api.DaemonStatus, colorize bool) {
	for _, line := range renderSectionHeader("Daemon", colorize) {
		fmt.Fprintln(out, line)
	}
	runKind := statusError
	if status.Running {
		runKind = statusOK
	}
	fmt.Fprintln(out, renderStatusLine("Running", runKind, yesNo(status.Running), colorize))
	if status.PID > 0 {
		fmt.Fprintln(out, renderStatusLine("PID", statusInfo, strconv.Itoa(status.PID), colorize))
	}
	fmt.Fprintln(out, renderStatusLine("Database", statusInfo, status.DatabasePath, colorize))
	fmt.Fprintln(out, renderStatusLine("Storage", statusInfo, status.StorageDir, colorize))
	fmt.Fprintln(out, renderStatusLine("Lock", statusInfo, status.LockFilePath, colorize))
	fmt.Fprintln(out)

	for _, line := range renderSectionHeader("Checks", colorize) {
		fmt.Fprintln(out, line)
	}
	if len(status.Checks) == 0 {
		fmt.Fprintln(out, "  No checks reported")
	}
	for _, check := range status.Checks {
		kind := statusOK
		if !check.Passed {
			kind = statusError
		}
		fmt.Fprintln(out, renderStatusLine(check.Name, kind, check.Detail, colorize))
	}
	fmt.Fprintln(out)

	gen := status.Generation
	for _, line := range renderSectionHeader("Generation", colorize) {
		fmt.Fprintln(out, line)
	}
	workerKind := statusWarn
	if gen.Running {
		workerKind = statusOK
	}
	fmt.Fprintln(out, renderStatusLine("Workers", workerKind, fmt.Sprintf("%d (active %d)", gen.Workers, gen.Active), colorize))
	fmt.Fprintln(out, renderStatusLine("Queue", statusInfo, fmt.Sprintf("%d/%d", gen.Queued, gen.QueueCapacity), colorize))
	if gen.LastError != "" {
		fmt.Fprintln(out, renderStatusLine("Last error", statusError, gen.LastError, colorize))
	}
	if last := gen.LastGeneration; last != nil {
		fmt.Fprintln(out, renderStatusLine("Last generation", generationStateKind(last.State),
			fmt.Sprintf("mix %d %s", last.MixID, displayState(last.State)), colorize))
	}
	fmt.Fprintln(out)

	rows := generationStatsRows(gen.Stats)
	if len(rows) == 0 {
		fmt.Fprintln(out, "No generations recorded")
		return
	}
	fmt.Fprint(out, renderTable([]string{"State", "Count"}, rows, []columnAlignment{alignLeft, alignRight}, colorize))
}

func generationStatsRows(stats map[string]int) [][]string {
	rows := make([][]string, 0, len(stats))
	seen := make(map[string]bool, len(stats))
	for _, state := range generationStateOrder {
		key := string(state)
		seen[key] = true
		if count := stats[key]; count > 0 {
			rows = append(rows, []string{displayState(key), strconv.Itoa(count)})
		}
	}
	var extra []string
	for state, count := range stats {
		if !seen[state] && count > 0 {
			extra = append(extra, state)
		}
	}
	sort.Strings(extra)
	for _, state := range extra {
		rows = append(rows, []string{displayState(state), strconv.Itoa(stats[state])})
	}
	return rows
}
