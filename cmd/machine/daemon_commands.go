package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"machine/internal/api"
	"machine/internal/config"
	"machine/internal/daemonctl"
	"machine/internal/daemonrun"
	"machine/internal/tasks"
)

const (
	startTimeout = 10 * time.Second
	stopGrace    = 5 * time.Second
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var opts daemonrun.Options
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the machine daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, opts)
		},
	}
	cmd.Flags().StringVar(&opts.LogLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&opts.Development, "development", false, "Enable development logging (source locations)")
	return cmd
}

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	var logLevel string
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the machine daemon in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			client, err := ctx.client()
			if err != nil {
				return err
			}
			if _, err := client.Health(cmd.Context()); err == nil {
				fmt.Fprintln(out, "Daemon already running")
				return nil
			}
			locked, err := daemonctl.Locked(ctx.configValue())
			if err != nil {
				return err
			}
			if locked {
				return fmt.Errorf("daemon holds %s but its API at %s is not answering", ctx.configValue().LockPath(), client.BaseURL())
			}

			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("resolve executable: %w", err)
			}
			fmt.Fprintln(out, "Daemon not running, launching...")
			if err := daemonctl.Launch(exe, daemonctl.LaunchOptions{ConfigPath: ctx.configPath(), LogLevel: logLevel}); err != nil {
				return err
			}
			if err := daemonctl.WaitForClient(cmd.Context(), client, startTimeout); err != nil {
				return fmt.Errorf("%w (see %s)", err, ctx.configValue().LogPath())
			}
			fmt.Fprintf(out, "Daemon started (%s)\n", client.BaseURL())
			return nil
		},
	}
	startCmd.Flags().StringVar(&logLevel, "log-level", "", "Override logging.level for the launched daemon")

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the machine daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			result, err := daemonctl.Stop(ctx.configValue(), stopGrace)
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(out, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if result.ForcedKill {
				fmt.Fprintf(out, "Daemon (pid %d) did not exit within %s and was killed\n", result.PID, stopGrace)
				return nil
			}
			fmt.Fprintf(out, "Daemon (pid %d) stopped\n", result.PID)
			return nil
		},
	}

	var jsonOutput bool
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, worker, and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			view, err := collectStatus(cmd.Context(), ctx)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, view)
			}
			out := cmd.OutOrStdout()
			renderStatus(out, ctx.configValue(), view, shouldColorize(out))
			return nil
		},
	}
	statusCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return []*cobra.Command{startCmd, stopCmd, statusCmd}
}

// statusView is what "machine status" shows, with or without a daemon.
type statusView struct {
	Running bool                `json:"running"`
	APIURL  string              `json:"api_url,omitempty"`
	Worker  *api.StatusResponse `json:"worker,omitempty"`
	Health  *api.HealthResponse `json:"health,omitempty"`
	Tasks   tasks.HealthSummary `json:"tasks"`
	Problem string              `json:"problem,omitempty"`
}

func collectStatus(cmdCtx context.Context, ctx *commandContext) (statusView, error) {
	var view statusView
	err := ctx.withStore(func(store *tasks.Store) error {
		summary, err := store.Health(cmdCtx)
		view.Tasks = summary
		return err
	})
	if err != nil {
		return view, err
	}

	client, err := ctx.client()
	if err != nil {
		view.Problem = err.Error()
		return view, nil
	}
	view.APIURL = client.BaseURL()

	health, err := client.Health(cmdCtx)
	if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
		return view, nil
	}
	view.Running = true
	view.Health = &health
	if err != nil {
		view.Problem = err.Error()
	}

	status, err := client.Status(cmdCtx)
	if err != nil {
		view.Problem = err.Error()
		return view, nil
	}
	view.Worker = &status
	return view, nil
}

func renderStatus(out io.Writer, cfg *config.Config, view statusView, colorize bool) {
	for _, line := range renderSectionHeader(machineLabel(cfg), colorize) {
		fmt.Fprintln(out, line)
	}
	for _, line := range daemonLines(view, colorize) {
		fmt.Fprintln(out, line)
	}

	fmt.Fprintln(out)
	for _, line := range renderSectionHeader("Tasks", colorize) {
		fmt.Fprintln(out, line)
	}
	for _, line := range taskCountLines(view.Tasks, colorize) {
		fmt.Fprintln(out, line)
	}

	if view.Worker != nil && len(view.Worker.Queue) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, queueTable(view.Worker.Queue))
	}
}

func machineLabel(cfg *config.Config) string {
	if cfg == nil || cfg.Machine.Type == "" {
		return "Machine (untyped)"
	}
	return "Machine " + cfg.Machine.Type
}

func daemonLines(view statusView, colorize bool) []string {
	if !view.Running {
		detail := "Not running"
		if view.Problem != "" {
			detail = view.Problem
		}
		return []string{renderStatusLine("Daemon", statusError, detail, colorize)}
	}

	lines := []string{renderStatusLine("Daemon", statusOK, "Running ("+view.APIURL+")", colorize)}
	if h := view.Health; h != nil {
		lines = append(lines,
			renderStatusLine("Database", healthKind(h.Database), h.Database, colorize),
			renderStatusLine("Broker", healthKind(h.Broker), h.Broker, colorize),
		)
		keyKind, keyText := statusWarn, "Not loaded"
		if h.PublicKeyLoaded {
			keyKind, keyText = statusOK, "Loaded"
		}
		lines = append(lines, renderStatusLine("Public key", keyKind, keyText, colorize))
	}
	if view.Problem != "" {
		lines = append(lines, renderStatusLine("API", statusError, view.Problem, colorize))
	}

	w := view.Worker
	if w == nil {
		return lines
	}
	worker := humanStatus(w.Status)
	if w.WorkingPiece != nil {
		worker += " on " + pieceLabel(*w.WorkingPiece)
	}
	lines = append(lines,
		renderStatusLine("Worker", statusInfo, worker, colorize),
		renderStatusLine("Queue", statusInfo, strconv.Itoa(w.QueueSize)+" waiting", colorize),
		renderStatusLine("Processed", statusInfo, strconv.Itoa(w.Processed), colorize),
	)
	if w.LastPiece != nil {
		status, _ := tasks.ParseStatus(w.LastPiece.Status)
		lines = append(lines, renderStatusLine("Last piece", taskStatusKind(status),
			fmt.Sprintf("%s %s", pieceLabel(api.PieceRef{PieceID: w.LastPiece.PieceID, PieceType: w.LastPiece.PieceType}), humanStatus(w.LastPiece.Status)), colorize))
	}
	if w.LastError != "" {
		lines = append(lines, renderStatusLine("Last error", statusError, w.LastError, colorize))
	}
	return lines
}

func taskCountLines(summary tasks.HealthSummary, colorize bool) []string {
	counts := []struct {
		status tasks.Status
		count  int
	}{
		{tasks.StatusQueued, summary.Queued},
		{tasks.StatusWorking, summary.Working},
		{tasks.StatusDone, summary.Done},
		{tasks.StatusFailed, summary.Failed},
		{tasks.StatusCancelled, summary.Cancelled},
	}
	lines := make([]string, 0, len(counts)+1)
	for _, c := range counts {
		kind := statusInfo
		if c.count > 0 {
			kind = taskStatusKind(c.status)
		}
		lines = append(lines, renderStatusLine(humanStatus(string(c.status)), kind, strconv.Itoa(c.count), colorize))
	}
	lines = append(lines, renderStatusLine("Total", statusInfo, strconv.Itoa(summary.Total), colorize))
	return lines
}

func queueTable(queue []api.PieceRef) string {
	rows := make([][]string, 0, len(queue))
	for i, ref := range queue {
		rows = append(rows, []string{strconv.Itoa(i + 1), ref.PieceID, ref.PieceType})
	}
	return renderTable([]column{{title: "#", right: true}, {title: "Piece"}, {title: "Type"}}, rows)
}

func pieceLabel(ref api.PieceRef) string {
	if ref.PieceType == "" {
		return ref.PieceID
	}
	return ref.PieceType + "/" + ref.PieceID
}

func healthKind(value string) statusKind {
	if value == "ok" {
		return statusOK
	}
	return statusError
}
