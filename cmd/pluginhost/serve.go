// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TrackTime Contributors

package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tracktime/pluginhost/internal/logging"
	"github.com/tracktime/pluginhost/pkg/pluginapi"
)

// NewServeCmd runs the host process: loads every plugin under the data
// directory's plugins/ subtree and serves invoke_command dispatch over
// HTTP until interrupted.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Load plugins and serve command dispatch",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logging.SetDefault("pluginhost", "dev", cfg.LogFormat)

			h, err := openHost(cfg)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := h.Close(); cerr != nil {
					slog.Error("failed to close store", "error", cerr)
				}
			}()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := h.orch.LoadAll(ctx); err != nil {
				return err
			}

			metricsErrCh, err := h.obs.Start()
			if err != nil {
				return err
			}

			mux := http.NewServeMux()
			mux.HandleFunc("POST /plugins/{id}/commands/{command}", dispatchHandler(h))

			ipcSrv := &http.Server{
				Addr:              cfg.IPCAddr,
				Handler:           mux,
				ReadHeaderTimeout: 10 * time.Second,
			}

			ipcErrCh := make(chan error, 1)
			go func() {
				if err := ipcSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					ipcErrCh <- err
				}
			}()

			slog.Info("pluginhost serving", "ipc_addr", cfg.IPCAddr, "metrics_addr", cfg.MetricsAddr, "loaded", len(h.orch.ListPlugins()))

			select {
			case <-ctx.Done():
				slog.Info("shutdown signal received")
			case err := <-ipcErrCh:
				slog.Error("dispatch server failed", "error", err)
			case err := <-metricsErrCh:
				slog.Error("observability server failed", "error", err)
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			h.orch.Shutdown(shutdownCtx)
			_ = ipcSrv.Shutdown(shutdownCtx)
			_ = h.obs.Stop(shutdownCtx)

			return nil
		},
	}
}

func dispatchHandler(h *host) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pluginID := r.PathValue("id")
		command := r.PathValue("command")

		params, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, &pluginapi.Error{Kind: pluginapi.KindInvalidArgument, Message: err.Error()})
			return
		}
		if len(params) == 0 {
			params = json.RawMessage("null")
		}

		out, err := h.orch.Dispatch(r.Context(), pluginID, command, params)
		if err != nil {
			wireErr := pluginapi.FromOops(err)
			writeError(w, statusForKind(wireErr.Kind), wireErr)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(out)
	}
}

func writeError(w http.ResponseWriter, status int, e *pluginapi.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(e)
}

func statusForKind(k pluginapi.Kind) int {
	switch k {
	case pluginapi.KindNotFound:
		return http.StatusNotFound
	case pluginapi.KindInvalidArgument, pluginapi.KindManifestInvalid:
		return http.StatusBadRequest
	case pluginapi.KindPermissionDenied:
		return http.StatusForbidden
	case pluginapi.KindConstraintViolation, pluginapi.KindDependencyUnsatisfied, pluginapi.KindVersionIncompatible:
		return http.StatusConflict
	case pluginapi.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
