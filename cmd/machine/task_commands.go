package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"machine/internal/api"
	"machine/internal/ingress"
	"machine/internal/machine"
	"machine/internal/tasks"
)

const tableTimeFormat = "2006-01-02 15:04:05"

func newTaskCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newTasksCommand(ctx),
		newProduceCommand(ctx),
		newCancelCommand(ctx),
		newClearCommand(ctx),
	}
}

func newTasksCommand(ctx *commandContext) *cobra.Command {
	var statusFlags []string
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List pieces recorded in the task database",
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses, err := parseStatusFlags(statusFlags)
			if err != nil {
				return err
			}
			var items []*tasks.Task
			if err := ctx.withStore(func(store *tasks.Store) error {
				items, err = store.List(cmd.Context(), statuses...)
				return err
			}); err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, api.TaskListResponse{Tasks: api.FromTasks(items)})
			}
			out := cmd.OutOrStdout()
			if len(items) == 0 {
				fmt.Fprintln(out, "No tasks")
				return nil
			}
			fmt.Fprintln(out, taskTable(items))
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&statusFlags, "status", "s", nil, "Filter by status (queued, working, done, failed, cancelled); repeatable")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func parseStatusFlags(values []string) ([]tasks.Status, error) {
	statuses := make([]tasks.Status, 0, len(values))
	for _, value := range values {
		status, ok := tasks.ParseStatus(value)
		if !ok {
			return nil, fmt.Errorf("unknown status %q", value)
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

func taskTable(items []*tasks.Task) string {
	rows := make([][]string, 0, len(items))
	for _, task := range items {
		rows = append(rows, []string{
			task.ID,
			task.Type,
			task.RequesterID,
			humanStatus(string(task.Status)),
			formatLocal(&task.QueuedAt),
			formatLocal(task.FinishedAt),
			task.ErrorMessage,
		})
	}
	return renderTable([]column{
		{title: "Piece"},
		{title: "Type"},
		{title: "Requester"},
		{title: "Status"},
		{title: "Queued"},
		{title: "Finished"},
		{title: "Error"},
	}, rows)
}

func formatLocal(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.Local().Format(tableTimeFormat)
}

func newProduceCommand(ctx *commandContext) *cobra.Command {
	var (
		requester  string
		quantity   int
		pieceID    string
		pieceType  string
		jsonOutput bool
	)
	cmd := &cobra.Command{
		Use:   "produce",
		Short: "Ask the running daemon to manufacture pieces",
		Example: "  machine produce --requester order-7 --quantity 3\n" +
			"  machine produce --piece 42",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(pieceID) == "" && strings.TrimSpace(requester) == "" {
				return fmt.Errorf("either --piece or --requester is required")
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			result, err := client.Produce(cmd.Context(), ingress.ProduceRequest{
				PieceID:     ingress.Identifier(strings.TrimSpace(pieceID)),
				PieceType:   strings.TrimSpace(pieceType),
				RequesterID: ingress.Identifier(strings.TrimSpace(requester)),
				Quantity:    quantity,
			})
			if err != nil {
				return wrapClientError(err)
			}
			if jsonOutput {
				return writeJSON(cmd, result)
			}
			renderProduceResult(cmd.OutOrStdout(), result)
			return nil
		},
	}
	cmd.Flags().StringVarP(&requester, "requester", "r", "", "Requester id; pieces are named <requester>-1..N")
	cmd.Flags().IntVarP(&quantity, "quantity", "n", 0, "Number of pieces to request with --requester")
	cmd.Flags().StringVarP(&pieceID, "piece", "p", "", "Explicit piece id for a single piece")
	cmd.Flags().StringVarP(&pieceType, "type", "t", "", "Piece type (defaults to the daemon's machine type)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func renderProduceResult(out io.Writer, result ingress.ProduceResult) {
	fmt.Fprintf(out, "Requested %d piece(s): %d created, %d enqueued\n", len(result.Pieces), result.Created, result.Enqueued)
	if len(result.Pieces) == 0 {
		return
	}
	rows := make([][]string, 0, len(result.Pieces))
	for _, piece := range result.Pieces {
		rows = append(rows, []string{
			piece.ID,
			piece.Type,
			humanStatus(string(piece.Status)),
			strconv.FormatBool(piece.Created),
		})
	}
	fmt.Fprintln(out, renderTable([]column{{title: "Piece"}, {title: "Type"}, {title: "Status"}, {title: "New"}}, rows))
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "cancel <piece-id>",
		Short: "Cancel a queued piece",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			id := strings.TrimSpace(args[0])
			resp, err := client.Cancel(cmd.Context(), id)
			if err != nil {
				return wrapClientError(err)
			}
			if jsonOutput {
				return writeJSON(cmd, resp)
			}
			out := cmd.OutOrStdout()
			switch {
			case resp.Cancelled:
				fmt.Fprintf(out, "Piece %s cancelled\n", id)
			case resp.Reason == machine.ReasonWorking:
				fmt.Fprintf(out, "Piece %s is being manufactured and will run to completion\n", id)
			case resp.Reason == machine.ReasonTerminal && resp.Task != nil:
				fmt.Fprintf(out, "Piece %s already finished (%s)\n", id, humanStatus(resp.Task.Status))
			case resp.Reason == machine.ReasonNotFound:
				return fmt.Errorf("piece %s not found", id)
			default:
				fmt.Fprintf(out, "Piece %s not cancelled (%s)\n", id, resp.Reason)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove finished, failed, and cancelled pieces from the task database",
		RunE: func(cmd *cobra.Command, args []string) error {
			var removed int64
			if err := ctx.withStore(func(store *tasks.Store) error {
				var err error
				removed, err = store.ClearTerminal(cmd.Context())
				return err
			}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d terminal task(s)\n", removed)
			return nil
		},
	}
}
