package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fuel-dev/fuel/internal/completion"
	"github.com/fuel-dev/fuel/internal/config"
	"github.com/fuel-dev/fuel/internal/consume"
	"github.com/fuel-dev/fuel/internal/fuelctx"
	"github.com/fuel-dev/fuel/internal/health"
	"github.com/fuel-dev/fuel/internal/ipc"
	"github.com/fuel-dev/fuel/internal/lifecycle"
	"github.com/fuel-dev/fuel/internal/metrics"
	"github.com/fuel-dev/fuel/internal/procmanager"
	"github.com/fuel-dev/fuel/internal/review"
	"github.com/fuel-dev/fuel/internal/snapshot"
	"github.com/fuel-dev/fuel/internal/spawner"
)

var consumeCmd = &cobra.Command{
	Use:   "consume",
	Short: "Run or control the consume daemon",
}

var consumeStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the consume daemon in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		fctx := currentCtx()

		st, err := openStore(fctx)
		if err != nil {
			return err
		}
		defer st.Close()

		cfg, err := config.Load(fctx.ConfigPath())
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		watcherStop := make(chan struct{})
		if watcher, err := config.NewWatcher(fctx.ConfigPath(), logger); err != nil {
			logger.Warn("config hot-reload disabled", "error", err)
		} else {
			go watcher.Run(watcherStop)
			go func() {
				for reloaded := range watcher.Notify() {
					logger.Info("config.yaml changed on disk; restart consume to pick it up",
						"agents", len(reloaded.Agents))
				}
			}()
			defer close(watcherStop)
		}

		tracker := health.New(cfg.Consume.MaxAgentAttempts, cfg.Consume.CooldownSeconds)
		pm := procmanager.New(fctx.ProcessesDir(), logger)
		sp := spawner.New(fctx, st, cfg, tracker, pm)
		rv := review.New(fctx, st, cfg, pm, logger)
		ch := completion.New(st, tracker, cfg, rv, logger)

		lc := lifecycle.New(fctx.PIDPath(), fctx.LockPath())
		port := cfg.Consume.Port
		rec, err := lc.Start(port)
		if err != nil {
			if errors.Is(err, lifecycle.ErrAlreadyRunning) {
				return fmt.Errorf("consume daemon already running (see %s)", fctx.PIDPath())
			}
			return err
		}
		defer lc.Cleanup()

		snaps := snapshot.New(st, tracker, pm, rec.InstanceID, rec.StartedAt)

		server := ipc.New(port, logger)
		if err := server.Serve(); err != nil {
			return fmt.Errorf("start ipc server: %w", err)
		}

		var runner *consume.Runner
		dispatcher := ipc.NewDispatcher(snaps, tracker, st, func(graceful bool) {
			if runner != nil {
				runner.RequestStop(graceful)
			}
		})

		m := metrics.New()
		httpSrv := &http.Server{Addr: fmt.Sprintf("127.0.0.1:%d", port+1), Handler: m.Handler()}
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", "error", err)
			}
		}()

		runner = consume.New(consume.Deps{
			Store:      st,
			Config:     cfg,
			ProcMgr:    pm,
			Health:     tracker,
			Spawner:    sp,
			Completion: ch,
			Review:     rv,
			Lifecycle:  lc,
			Snapshots:  snaps,
			IPCServer:  server,
			Dispatcher: dispatcher,
			Metrics:    m,
			Logger:     logger,
		})

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		logger.Info("consume daemon starting", "instance_id", rec.InstanceID, "port", port)
		runErr := runner.Run(ctx)
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = httpSrv.Shutdown(shutdownCtx)
		return runErr
	},
}

var consumeStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Ask a running consume daemon to shut down gracefully",
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		resp, err := sendIPC(currentCtx(), ipc.Request{Cmd: "stop", Args: mustJSON(map[string]bool{"graceful": !force})})
		if err != nil {
			return err
		}
		if !resp.OK {
			return fmt.Errorf("%s", resp.Error)
		}
		return printResult(map[string]bool{"stopping": true}, func() {
			fmt.Println(green("stop requested"))
		})
	},
}

var consumeStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the running daemon's current snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := sendIPC(currentCtx(), ipc.Request{Cmd: "snapshot"})
		if err != nil {
			return err
		}
		if !resp.OK {
			return fmt.Errorf("%s", resp.Error)
		}
		return printResult(resp.Data, func() {
			out, _ := json.MarshalIndent(resp.Data, "", "  ")
			fmt.Println(string(out))
		})
	},
}

func init() {
	consumeStopCmd.Flags().Bool("force", false, "skip the grace period and force-terminate children")
	consumeCmd.AddCommand(consumeStartCmd)
	consumeCmd.AddCommand(consumeStopCmd)
	consumeCmd.AddCommand(consumeStatusCmd)
}

func mustJSON(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// sendIPC dials the daemon's socket, resolving its port from the PID file,
// writes one line-framed request, and reads back one line-framed response.
func sendIPC(fctx *fuelctx.Context, req ipc.Request) (ipc.Response, error) {
	data, err := os.ReadFile(fctx.PIDPath())
	if err != nil {
		return ipc.Response{}, fmt.Errorf("no running consume daemon (%s): %w", fctx.PIDPath(), err)
	}
	var rec lifecycle.PIDRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return ipc.Response{}, fmt.Errorf("read pid file: %w", err)
	}

	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", rec.Port), 2*time.Second)
	if err != nil {
		return ipc.Response{}, fmt.Errorf("dial consume daemon on port %d: %w", rec.Port, err)
	}
	defer conn.Close()

	line, err := json.Marshal(req)
	if err != nil {
		return ipc.Response{}, err
	}
	if _, err := conn.Write(append(line, '\n')); err != nil {
		return ipc.Response{}, fmt.Errorf("write request: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return ipc.Response{}, fmt.Errorf("read response: %w", err)
		}
		return ipc.Response{}, fmt.Errorf("consume daemon closed connection without replying")
	}
	var resp ipc.Response
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		return ipc.Response{}, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}
