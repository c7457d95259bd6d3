package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"bulkgrab/pkg/checkpoint"
	"bulkgrab/pkg/config"
	"bulkgrab/pkg/downloader"
	"bulkgrab/pkg/logger"
	"bulkgrab/pkg/metrics"
	"bulkgrab/pkg/orchestrator"
	"bulkgrab/pkg/sources/httpfile"
	"bulkgrab/pkg/storage"
	"bulkgrab/pkg/task"
	"bulkgrab/pkg/ui"
)

var (
	fetchSource      string
	fetchFile        string
	fetchPriority    int
	fetchWorkers     int
	fetchMaxRetries  int
	fetchOutput      string
	fetchSession     string
	fetchResume      bool
	fetchMetricsAddr string
	fetchNotify      bool
	fetchSubfolder   string
	fetchRPM         int
	fetchSpacing     time.Duration
	fetchTimeout     time.Duration
	fetchMetadata    bool
)

// fetchCmd represents the fetch command
var fetchCmd = &cobra.Command{
	Use:   "fetch [url...]",
	Short: "Download one or more targets",
	Long: `Download targets given on the command line or listed in a file.

A URL list has one URL per line; blank lines and lines starting with # are
ignored. With --session the progress is checkpointed, and --resume skips
targets that completed in an earlier run of the same session.`,
	Example: `  bulkgrab fetch https://example.com/a.jpg https://example.com/b.jpg
  bulkgrab fetch --file urls.txt --workers 5 --priority 1
  bulkgrab fetch --file urls.txt --resume`,
	RunE: runFetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)

	fetchCmd.Flags().StringVarP(&fetchSource, "source", "s", httpfile.SourceName, "source the targets belong to")
	fetchCmd.Flags().StringVarP(&fetchFile, "file", "f", "", "read targets from a URL list")
	fetchCmd.Flags().IntVarP(&fetchPriority, "priority", "p", 0, "priority for these targets, lower runs first (default from config)")
	fetchCmd.Flags().IntVarP(&fetchWorkers, "workers", "w", 0, "number of concurrent workers (default from config)")
	fetchCmd.Flags().IntVar(&fetchMaxRetries, "max-retries", 0, "retries per target after the first attempt (default from config)")
	fetchCmd.Flags().StringVarP(&fetchOutput, "output", "o", "", "output directory (default from config)")
	fetchCmd.Flags().StringVar(&fetchSession, "session", "", "checkpoint session name (defaults to the list file name)")
	fetchCmd.Flags().BoolVar(&fetchResume, "resume", false, "skip targets completed in an earlier run of the session")
	fetchCmd.Flags().StringVar(&fetchMetricsAddr, "metrics-addr", "", "serve /metrics and /status on this address while running")
	fetchCmd.Flags().BoolVar(&fetchNotify, "notify", false, "send a desktop notification when the batch finishes")
	fetchCmd.Flags().IntVar(&fetchRPM, "requests-per-minute", 0, "default request budget per source (default from config)")
	fetchCmd.Flags().DurationVar(&fetchSpacing, "min-spacing", 0, "default minimum gap between requests to one source")
	fetchCmd.Flags().DurationVar(&fetchTimeout, "timeout", 0, "HTTP timeout per download")
	fetchCmd.Flags().BoolVar(&fetchMetadata, "metadata", false, "write a .meta.json sidecar next to each file")
	fetchCmd.Flags().StringVar(&fetchSubfolder, "subfolder", "", "store files in this subfolder of the source directory")
}

func fetchFlags(cmd *cobra.Command) map[string]interface{} {
	flags := make(map[string]interface{})
	if cmd.Flags().Changed("workers") {
		flags["workers"] = fetchWorkers
	}
	if cmd.Flags().Changed("max-retries") {
		flags["max-retries"] = fetchMaxRetries
	}
	if cmd.Flags().Changed("priority") {
		flags["priority"] = fetchPriority
	}
	if fetchRPM > 0 {
		flags["requests-per-minute"] = fetchRPM
	}
	if cmd.Flags().Changed("min-spacing") {
		flags["min-spacing"] = fetchSpacing
	}
	if fetchTimeout > 0 {
		flags["timeout"] = fetchTimeout
	}
	if fetchOutput != "" {
		flags["output"] = fetchOutput
	}
	return flags
}

func runFetch(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && fetchFile == "" {
		return errors.New("nothing to fetch: pass URLs or --file")
	}
	if fetchResume && fetchSession == "" && fetchFile == "" {
		return errors.New("--resume needs --session or --file")
	}

	cfg, err := loadConfig(fetchFlags(cmd))
	if err != nil {
		return err
	}
	log := logger.GetLogger().WithField("command", "fetch")

	store, err := storage.NewStore(cfg.Output.BaseDirectory, cfg.Output.OrganizeBySource)
	if err != nil {
		return err
	}

	var opts []orchestrator.Option
	opts = append(opts, orchestrator.WithLogger(log))
	var collector *metrics.Collector
	if fetchMetricsAddr != "" {
		collector = metrics.NewCollector()
		opts = append(opts, orchestrator.WithRecorder(collector))
	}

	orch := orchestrator.New(orchestrator.ConfigFrom(cfg), opts...)
	generic := httpfile.New(store, httpfile.Config{
		Source:       fetchSource,
		Timeout:      cfg.HTTP.Timeout,
		UserAgent:    cfg.HTTP.UserAgent,
		SkipExisting: cfg.Output.SkipExisting,
		SaveMetadata: cfg.Output.SaveMetadata || fetchMetadata,
	})
	if err := orch.Register(fetchSource, generic); err != nil {
		return err
	}

	targets, err := collectTargets(args, generic)
	if err != nil {
		return err
	}

	session := sessionName()
	var (
		cpMgr *checkpoint.Manager
		cp    *checkpoint.Checkpoint
	)
	if session != "" {
		cpMgr, cp, targets, err = openSession(session, targets)
		if err != nil {
			return err
		}
	}
	if len(targets) == 0 {
		ui.PrintSuccess("Nothing left to download")
		return nil
	}

	downloadOpts := downloader.Options{}
	if fetchSubfolder != "" {
		downloadOpts[httpfile.OptionSubfolder] = fetchSubfolder
	}

	submitOpts := []orchestrator.SubmitOption{orchestrator.WithPriority(cfg.Scheduler.DefaultPriority)}
	if cp != nil {
		submitOpts = append(submitOpts, orchestrator.WithCompletion(checkpointRecorder(cpMgr, cp, log)))
		if err := cpMgr.RecordSubmitted(cp, len(targets)); err != nil {
			log.WarnWithFields("Failed to update checkpoint", map[string]interface{}{"error": err.Error()})
		}
	}
	ids := orch.SubmitBulk(targets, fetchSource, downloadOpts, submitOpts...)

	ui.PrintInfo("Targets", fmt.Sprintf("%d", len(ids)))
	ui.PrintInfo("Workers", fmt.Sprintf("%d", cfg.Scheduler.Workers))
	ui.PrintInfo("Output", store.Dir(fetchSource))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	runErr := run(ctx, orch, collector, cfg, len(ids), log)

	interrupted := errors.Is(runErr, context.Canceled)
	left := 0
	if interrupted {
		left = orch.CancelAll()
	}

	progress := progressOf(orch.QueueStatus(), len(ids))
	ui.Summary(ui.Out, progress, time.Since(start))
	if fetchNotify {
		ui.NewNotifier().BatchFinished(progress)
	}

	if interrupted {
		ui.PrintWarning("Interrupted", fmt.Sprintf("%d targets left for --resume", left))
		return nil
	}
	if runErr != nil {
		return runErr
	}

	if cpMgr != nil && progress.Failed == 0 {
		if err := cpMgr.Delete(); err != nil {
			log.WarnWithFields("Failed to remove finished checkpoint", map[string]interface{}{"error": err.Error()})
		}
	}
	if progress.Failed > 0 {
		return fmt.Errorf("%d of %d downloads failed", progress.Failed, len(ids))
	}
	return nil
}

// run drives the orchestrator, the status line and the optional status server
func run(ctx context.Context, orch *orchestrator.Orchestrator, collector *metrics.Collector, cfg *config.Config, total int, log logger.Logger) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)

	if collector != nil {
		collector.Watch(orch)
		server := metrics.NewServer(fetchMetricsAddr, metrics.NewRouter(collector, orch, log), log)
		g.Go(func() error {
			return server.Run(gctx)
		})
	}

	if !quiet {
		status := ui.NewStatusLine(os.Stdout)
		g.Go(func() error {
			ticker := time.NewTicker(500 * time.Millisecond)
			defer ticker.Stop()
			defer status.Done()
			for {
				status.Update(progressOf(orch.QueueStatus(), total))
				select {
				case <-gctx.Done():
					status.Update(progressOf(orch.QueueStatus(), total))
					return nil
				case <-ticker.C:
				}
			}
		})
	}

	g.Go(func() error {
		// Stop the server and status line once the queue drains
		defer cancel()
		return orch.Run(gctx, cfg.Scheduler.Workers)
	})

	return g.Wait()
}

func collectTargets(args []string, expander downloader.Expander) ([]string, error) {
	targets := make([]string, 0, len(args))
	for _, arg := range args {
		arg = strings.TrimSpace(arg)
		if arg != "" {
			targets = append(targets, arg)
		}
	}

	if fetchFile != "" {
		listed, err := expander.Expand(fetchFile, nil)
		if err != nil {
			return nil, err
		}
		targets = append(targets, listed...)
	}
	return targets, nil
}

func sessionName() string {
	if fetchSession != "" {
		return fetchSession
	}
	if fetchFile != "" {
		return strings.TrimSuffix(filepath.Base(fetchFile), filepath.Ext(fetchFile))
	}
	return ""
}

// openSession loads or starts a checkpoint and drops targets already done
func openSession(session string, targets []string) (*checkpoint.Manager, *checkpoint.Checkpoint, []string, error) {
	mgr, err := checkpoint.NewManager(session)
	if err != nil {
		return nil, nil, nil, err
	}

	if !fetchResume {
		cp, err := mgr.Create(session, fetchSource)
		return mgr, cp, targets, err
	}

	cp, err := mgr.LoadOrCreate(session, fetchSource)
	if err != nil {
		return nil, nil, nil, err
	}
	pending := cp.Pending(targets)
	if skipped := len(targets) - len(pending); skipped > 0 {
		ui.PrintInfo("Resuming", fmt.Sprintf("%d targets already done", skipped))
	}
	return mgr, cp, pending, nil
}

func checkpointRecorder(mgr *checkpoint.Manager, cp *checkpoint.Checkpoint, log logger.Logger) orchestrator.CompletionHook {
	return func(info task.Info) {
		var err error
		switch info.Status {
		case task.StatusCompleted:
			err = mgr.RecordCompleted(cp, info.Target)
		case task.StatusFailed:
			err = mgr.RecordFailed(cp, info.Target, info.LastError)
		}
		if err != nil {
			log.WarnWithFields("Failed to update checkpoint", map[string]interface{}{
				"target": info.Target,
				"error":  err.Error(),
			})
		}
	}
}

func progressOf(qs orchestrator.QueueStatus, total int) ui.Progress {
	return ui.Progress{
		Total:     total,
		Queued:    qs.Queued,
		Running:   qs.Running,
		Completed: int(qs.Stats.TotalCompleted),
		Failed:    int(qs.Stats.TotalFailed),
		Cancelled: int(qs.Stats.TotalCancelled),
		Bytes:     qs.Stats.BytesDownloaded,
	}
}
