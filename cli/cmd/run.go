package cmd

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/crucible/adapter"
	"github.com/pithecene-io/crucible/casebook"
	"github.com/pithecene-io/crucible/completion"
	"github.com/pithecene-io/crucible/engine"
	"github.com/pithecene-io/crucible/hub"
	"github.com/pithecene-io/crucible/iox"
	"github.com/pithecene-io/crucible/log"
	"github.com/pithecene-io/crucible/metrics"
	"github.com/pithecene-io/crucible/store"
	"github.com/pithecene-io/crucible/types"
	"github.com/pithecene-io/crucible/worker"
)

// Exit codes for `run`.
const (
	exitSuccess  = 0
	exitPipeline = 1
	exitInternal = 2
	exitConflict = 3
)

// RunCommand returns the run command, the only command that executes work.
func RunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Execute one pipeline run for a project request",
		Flags: []cli.Flag{
			ConfigFlag,
			QuietFlag,
			&cli.StringFlag{
				Name:     "project",
				Usage:    "Project ID",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "request",
				Usage: "Request text (use --request-file for long requests)",
			},
			&cli.StringFlag{
				Name:  "request-file",
				Usage: "Path to a file holding the request text",
			},
			&cli.BoolFlag{
				Name:  "hold-approval",
				Usage: "Prompt before approving the project document (default: auto-approve)",
			},
			&cli.BoolFlag{
				Name:  "stream",
				Usage: "Forward the live event stream to the configured adapter",
			},
		},
		Action: runAction,
	}
}

func runAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), exitInternal)
	}
	requestText, err := resolveRequest(c)
	if err != nil {
		return cli.Exit(err.Error(), exitInternal)
	}
	quiet := c.Bool("quiet")
	projectID := c.String("project")

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return cli.Exit(fmt.Sprintf("open store: %v", err), exitInternal)
	}
	defer iox.DiscardClose(st)

	collector := metrics.NewCollector()
	h := hub.New(hub.Config{
		RingSize:            cfg.Hub.RingSize,
		SubscriberQueue:     cfg.Hub.SubscriberQueue,
		HeartbeatInterval:   cfg.Hub.HeartbeatInterval.Duration,
		MaxMissedHeartbeats: cfg.Hub.MaxMissedHeartbeats,
	}, collector)
	defer h.Close()

	cmdClient, err := completion.NewCommand(cfg.Completion.Command, cfg.Completion.Args...)
	if err != nil {
		return cli.Exit(fmt.Sprintf("completion client: %v", err), exitInternal)
	}
	client := completion.NewRetrying(cmdClient, completion.RetryConfig{
		MaxAttempts: cfg.Completion.MaxAttempts,
		BaseBackoff: cfg.Completion.BaseBackoff.Duration,
		OnRetry:     func(int, error) { collector.IncCompletionRetry() },
	})

	downstream, err := buildAdapter(cfg.Adapter)
	if err != nil {
		return cli.Exit(fmt.Sprintf("adapter: %v", err), exitInternal)
	}
	if downstream != nil {
		defer iox.DiscardClose(downstream)
	}

	eng := engine.New(*cfg, engine.Options{
		Workers:   worker.NewSet(client),
		Store:     st,
		Casebook:  casebook.New(st),
		Hub:       h,
		Adapter:   downstream,
		Collector: collector,
	})
	defer eng.Close()

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sub := h.Subscribe("cli", projectID, nil)
	defer h.Unsubscribe(sub)

	run, err := eng.CreateRun(ctx, projectID, types.Request{Text: requestText})
	switch {
	case errors.Is(err, types.ErrConflict):
		return cli.Exit(fmt.Sprintf("project %s already has an active run", projectID), exitConflict)
	case err != nil:
		return cli.Exit(fmt.Sprintf("create run: %v", err), exitInternal)
	}

	sugar := log.NewLogger(run.ID, projectID).Sugar()
	if !quiet {
		sugar.Infof("run %s created for project %s", run.ID, projectID)
	}

	var forward adapter.EventPublisher
	if c.Bool("stream") && downstream != nil {
		forward, _ = downstream.(adapter.EventPublisher)
	}
	out := json.NewEncoder(c.App.Writer)

	aborting := false
	ctxDone := ctx.Done()
	for {
		select {
		case <-ctxDone:
			// Abort once, then keep draining until the terminal event.
			ctxDone = nil
			aborting = true
			stop()
			_ = eng.Abort(c.Context, run.ID)
		case e, ok := <-sub.Events():
			if !ok {
				return cli.Exit("event stream closed unexpectedly", exitInternal)
			}
			sub.Ack()
			if e.Kind == types.EventHeartbeat {
				continue
			}
			if !quiet {
				if err := out.Encode(e); err != nil {
					sugar.Warnf("encode event: %v", err)
				}
			}
			if forward != nil {
				if err := forward.PublishEvent(ctx, e); err != nil {
					sugar.Warnf("forward event: %v", err)
				}
			}
			if e.Kind == types.EventDocReady && !aborting {
				if err := approveDocument(c, eng, run.ID, e); err != nil {
					aborting = true
					_ = eng.Abort(c.Context, run.ID)
				}
			}
			if e.Kind.IsTerminal() {
				return finishRun(c, eng, run.ID)
			}
		}
	}
}

// approveDocument releases the approval gate, prompting interactively
// when --hold-approval is set.
func approveDocument(c *cli.Context, eng *engine.Engine, runID string, e types.EventEnvelope) error {
	if c.Bool("hold-approval") {
		if doc, ok := e.Payload["document"].(string); ok {
			fmt.Fprintf(c.App.ErrWriter, "--- project document ---\n%s\n---\n", doc)
		}
		fmt.Fprint(c.App.ErrWriter, "approve document? [y/N]: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil || !strings.HasPrefix(strings.ToLower(strings.TrimSpace(line)), "y") {
			return errors.New("document rejected")
		}
	}
	return eng.Approve(c.Context, runID)
}

// finishRun renders the terminal summary and maps the outcome to the
// command's exit code.
func finishRun(c *cli.Context, eng *engine.Engine, runID string) error {
	snap, err := eng.Snapshot(c.Context, runID)
	if err != nil {
		return cli.Exit(fmt.Sprintf("final snapshot: %v", err), exitInternal)
	}

	summary := map[string]any{
		"run_id":     snap.ID,
		"project_id": snap.ProjectID,
		"status":     string(snap.Status),
		"reason":     snap.Reason,
		"iterations": snap.Iteration,
		"versions":   len(snap.Versions),
	}
	if best := snap.Best(); best != nil && best.Score != nil {
		summary["score"] = *best.Score
	}
	if err := json.NewEncoder(c.App.Writer).Encode(summary); err != nil {
		return cli.Exit(fmt.Sprintf("encode summary: %v", err), exitInternal)
	}

	if snap.Status == types.RunSucceeded {
		return nil
	}
	return cli.Exit("", exitPipeline)
}

// resolveRequest reads the request text from flags.
func resolveRequest(c *cli.Context) (string, error) {
	text := c.String("request")
	file := c.String("request-file")
	switch {
	case text != "" && file != "":
		return "", errors.New("--request and --request-file are mutually exclusive")
	case text != "":
		return text, nil
	case file != "":
		body, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read request file: %w", err)
		}
		return strings.TrimSpace(string(body)), nil
	default:
		return "", errors.New("one of --request or --request-file is required")
	}
}
