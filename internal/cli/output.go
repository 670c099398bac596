package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/aretw0/neonflow/pkg/domain"
	"github.com/aretw0/neonflow/pkg/ports"
)

// PrintResult writes a run summary followed by its final output.
func PrintResult(w io.Writer, res *domain.RunResult) {
	if res == nil {
		return
	}
	steps := 0
	if res.State != nil {
		steps = res.State.Steps
	}
	printSystemMessage(w, "[%s] %s after %d steps (run %s)", res.Workflow, res.Status, steps, res.RunID)
	if res.Err != nil {
		printSystemMessage(w, "error: %v", res.Err)
	}
	if res.FinalOutput != "" {
		fmt.Fprintln(w, res.FinalOutput)
	}
}

// PrintRuns lists the archived runs as a table.
func PrintRuns(ctx context.Context, w io.Writer, store ports.RunStore) error {
	ids, err := store.List(ctx)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Fprintln(w, "No runs archived.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tWORKFLOW\tSTATUS\tFINISHED")
	for _, id := range ids {
		rec, err := store.Load(ctx, id)
		if err != nil {
			fmt.Fprintf(tw, "%s\t?\t%v\t\n", id, err)
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", rec.RunID, rec.Workflow, rec.Status, rec.FinishedAt.Format("2006-01-02 15:04:05"))
	}
	return tw.Flush()
}
