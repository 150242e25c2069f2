package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fyrsmithlabs/reasond/internal/provider"
	"github.com/fyrsmithlabs/reasond/internal/task"
	"github.com/spf13/cobra"
)

type runOptions struct {
	channel string
	timeout time.Duration
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run <description>",
		Short: "Process one task in the foreground",
		Long: `Process a single task to completion without starting the worker pool
or the HTTP API. Messages the agent speaks are printed as they are sent.

Examples:
  # Ask a question
  reasond run "what time is it in Tokyo?"

  # Bound the whole task
  reasond run --timeout 2m "summarize the incident notes"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runOnce(ctx, cmd.OutOrStdout(), strings.Join(args, " "), opts)
		},
	}
	cmd.Flags().StringVar(&opts.channel, "channel", "", "channel the task belongs to (default runtime.default_channel)")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 5*time.Minute, "maximum time for the whole task")
	return cmd
}

func runOnce(ctx context.Context, out io.Writer, description string, opts *runOptions) error {
	cfg, logger, err := loadConfig("warn")
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, logger, appOptions{Remote: true})
	if err != nil {
		return fmt.Errorf("failed to initialize runtime: %w", err)
	}
	defer func() { _ = a.Close(context.Background()) }()

	var mu sync.Mutex
	a.loopback.OnDeliver(func(msg provider.OutboundMessage) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(out, "[%s] %s\n", msg.Channel, msg.Content)
	})

	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	channel := opts.channel
	if channel == "" {
		channel = cfg.Runtime.DefaultChannel
	}
	t, err := a.runtime.Submit(ctx, description, channel)
	if err != nil {
		return err
	}
	final, err := a.runtime.Drive(ctx, t.ID)
	if err != nil {
		return fmt.Errorf("task %s: %w", t.ID, err)
	}
	return reportTask(out, final)
}

// reportTask prints the closing line of a task. A failed task is an error.
func reportTask(out io.Writer, t *task.Task) error {
	line := fmt.Sprintf("task %s %s after %d round(s)", t.ID, t.Status, t.RoundCount)
	if t.Reason != "" {
		line += ": " + t.Reason
	}
	fmt.Fprintln(out, line)
	if t.Status == task.StatusFailed {
		return fmt.Errorf("task failed: %s", t.Reason)
	}
	return nil
}
