package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/vrsandeep/mvidarr-go/internal/models"
)

var (
	okFormat      = color.New(color.FgGreen).SprintFunc()
	warningFormat = color.New(color.FgHiYellow).SprintFunc()
	errorFormat   = color.New(color.FgHiRed).SprintFunc()
	mutedFormat   = color.New(color.FgHiBlack).SprintFunc()
	activeFormat  = color.New(color.FgCyan).SprintFunc()
)

func statusFormat(s models.OperationStatus) string {
	switch s {
	case models.StatusCompleted:
		return okFormat(string(s))
	case models.StatusFailed:
		return errorFormat(string(s))
	case models.StatusCancelled:
		return warningFormat(string(s))
	case models.StatusRunning:
		return activeFormat(string(s))
	default:
		return mutedFormat(string(s))
	}
}

func printOperationTable(w io.Writer, ops []*models.Operation) {
	if len(ops) == 0 {
		fmt.Fprintln(w, mutedFormat("no operations"))
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tSTATUS\tPROGRESS\tCREATED\tNAME")
	for _, op := range ops {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s/%s\t%s\t%s\n",
			op.ID, op.Type, statusFormat(op.Status),
			humanize.Comma(int64(op.ProcessedItems)), humanize.Comma(int64(op.TotalItems)),
			humanize.Time(op.CreatedAt), op.Name)
	}
	tw.Flush()
}

func printOperationView(w io.Writer, view *models.OperationView) {
	op := view.Operation
	fmt.Fprintf(w, "Operation %s\n", op.ID)
	fmt.Fprintf(w, "  Name:       %s\n", op.Name)
	fmt.Fprintf(w, "  Type:       %s\n", op.Type)
	fmt.Fprintf(w, "  Status:     %s\n", statusFormat(op.Status))
	fmt.Fprintf(w, "  Progress:   %s of %s (%.1f%%)\n",
		humanize.Comma(int64(op.ProcessedItems)), humanize.Comma(int64(op.TotalItems)), view.ProgressPercent)
	fmt.Fprintf(w, "  Succeeded:  %s\n", humanize.Comma(int64(op.SuccessfulItems)))
	fmt.Fprintf(w, "  Failed:     %s\n", humanize.Comma(int64(op.FailedItems)))
	fmt.Fprintf(w, "  Created:    %s\n", humanize.Time(op.CreatedAt))
	if op.CompletedAt != nil {
		fmt.Fprintf(w, "  Finished:   %s\n", humanize.Time(*op.CompletedAt))
	}
	if op.Progress.Message != "" {
		fmt.Fprintf(w, "  Message:    %s\n", op.Progress.Message)
	}
	switch {
	case op.UndoOf != nil:
		fmt.Fprintf(w, "  Undo of:    %s\n", *op.UndoOf)
	case op.UndoOperationID != nil:
		fmt.Fprintf(w, "  Undone by:  %s\n", *op.UndoOperationID)
	case op.IsUndoable:
		fmt.Fprintf(w, "  Undoable:   %s\n", okFormat("yes"))
	}

	if view.ErrorCount == 0 {
		return
	}
	fmt.Fprintf(w, "\nErrors (%s of %s):\n", humanize.Comma(int64(len(view.Errors))), humanize.Comma(int64(view.ErrorCount)))
	for _, e := range view.Errors {
		item := "operation"
		if e.ItemID != nil {
			item = fmt.Sprintf("item %d", *e.ItemID)
		}
		fmt.Fprintf(w, "  %s %s\n", errorFormat(item+":"), e.Message)
	}
}

// writeYAML renders v through its JSON form so the keys match the HTTP API.
func writeYAML(w io.Writer, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(generic)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeOutput(w io.Writer, format string, v any, human func()) error {
	switch strings.ToLower(format) {
	case "", "text":
		human()
		return nil
	case "yaml", "yml":
		return writeYAML(w, v)
	case "json":
		return writeJSON(w, v)
	default:
		return fmt.Errorf("unknown output format %q (want text, yaml or json)", format)
	}
}
