package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mjcarver/opsgate/internal/approval"
	"github.com/mjcarver/opsgate/internal/classify"
	"github.com/mjcarver/opsgate/internal/drift"
	"github.com/mjcarver/opsgate/internal/gate"
	"github.com/mjcarver/opsgate/internal/index"
	"github.com/mjcarver/opsgate/internal/memory"
	"github.com/mjcarver/opsgate/internal/planner"
	"github.com/mjcarver/opsgate/internal/rules"
	"github.com/mjcarver/opsgate/internal/runner"
	"github.com/mjcarver/opsgate/internal/trace"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the planner boundary on stdio",
	Long: `Starts the gate as an MCP server on stdin/stdout. Approvals are
collected over the approval socket; answer them from another terminal
with "opsgate approve".`,
	RunE: func(cmd *cobra.Command, args []string) error {
		classifier := classify.New(logger)
		if err := classifier.LoadDir(cfg.RulesDir); err != nil {
			return err
		}
		watcher, err := rules.NewWatcher(cfg.RulesDir, logger, func() {
			// A failed reload keeps the previous snapshot serving.
			_ = classifier.LoadDir(cfg.RulesDir)
		})
		if err != nil {
			logger.Warn("rules watcher unavailable", zap.Error(err))
		} else {
			if err := watcher.Start(cmd.Context()); err != nil {
				logger.Warn("rules watcher failed to start", zap.Error(err))
			} else {
				defer watcher.Stop()
			}
		}

		store, err := memory.Open(cfg.BasePath, logger)
		if err != nil {
			return err
		}

		var idx *index.Index
		if cfg.Index.Path != "" {
			idx, err = index.Open(cfg.Index.Path, logger)
			if err != nil {
				// The index is a derived cache; its absence never stops the gate.
				logger.Warn("index unavailable", zap.Error(err))
			} else {
				defer idx.Close()
				store.AddHook(idx.Hook())
			}
		}
		if cfg.Trace.Endpoint != "" {
			sink := trace.NewSink(logger, cfg.Trace.Endpoint, cfg.Trace.TimeoutDuration())
			store.AddHook(sink.Hook())
		}

		surface := approval.NewServer(logger, cfg.Approval.Socket)
		if err := surface.Start(); err != nil {
			return fmt.Errorf("start approval surface: %w", err)
		}
		defer surface.Close()

		exec := runner.New(logger, cfg.Exec.Shell, cfg.Exec.DefaultTimeoutDuration())
		g := gate.New(logger, classifier, store, surface, exec)
		monitor := drift.NewMonitor(logger, cfg.Monitor.TurnLimit, cfg.Monitor.LoopWindow)
		surface.OnReset(func(sessionID string) {
			monitor.ResetTurns(sessionID)
			if _, err := store.Append(sessionID, memory.Entry{
				Actor: memory.ActorHuman,
				Kind:  memory.KindNote,
				Text:  "turn counter reset by operator",
			}); err != nil {
				logger.Warn("record turn reset failed", zap.Error(err))
			}
		})

		svc := planner.New(logger, store, g, monitor,
			idx, cfg.Exec.Shell, classifier.Snapshot().Tools())

		logger.Info("serving planner boundary",
			zap.String("base", cfg.BasePath),
			zap.String("approval_socket", cfg.Approval.Socket))
		return svc.ServeStdio(version)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
