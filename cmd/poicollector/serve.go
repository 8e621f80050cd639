package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chenqi92/poi-collector/internal/surface"
	"github.com/chenqi92/poi-collector/internal/tile"
)

// newServeCmd exposes the Service over plain JSON-over-HTTP, grounded on the
// teacher's api.go (http.HandleFunc routing, json.NewDecoder/Encoder,
// http.Error for failures) generalized from one job-queue endpoint to the
// full command surface.
func newServeCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a JSON HTTP API in front of the collector and tile engines",
		RunE: func(cmd *cobra.Command, args []string) error {
			if port == 0 {
				port = cfg.ServePort
			}
			return runServer(cmd.Context(), port)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "port to listen on (defaults to config serve_port)")
	return cmd
}

func runServer(ctx context.Context, port int) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/api/stats", handleStats)
	mux.HandleFunc("/api/categories", handleCategories)
	mux.HandleFunc("/api/apikeys", handleAPIKeys)
	mux.HandleFunc("/api/apikeys/", handleDeleteAPIKey)
	mux.HandleFunc("/api/collector/start", handleStartCollector)
	mux.HandleFunc("/api/collector/stop", handleStopCollector)
	mux.HandleFunc("/api/collector/reset", handleResetCollector)
	mux.HandleFunc("/api/collector/status", handleCollectorStatus)
	mux.HandleFunc("/api/search", handleSearch)
	mux.HandleFunc("/api/regions", handleRegions)
	mux.HandleFunc("/api/regions/children", handleRegionChildren)
	mux.HandleFunc("/api/export", handleExport)
	mux.HandleFunc("/api/tiles/platforms", handleTilePlatforms)
	mux.HandleFunc("/api/tiles/estimate", handleEstimate)
	mux.HandleFunc("/api/tiles/tasks", handleTileTasks)
	mux.HandleFunc("/api/tiles/tasks/", handleTileTaskByID)
	mux.HandleFunc("/api/tiles/proxy", handleTileProxy)
	mux.HandleFunc("/api/boundary/", handleBoundary)
	mux.HandleFunc("/api/export/list", handleExportList)
	mux.HandleFunc("/api/regions/all", handleAllRegions)

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	errCh := make(chan error, 1)
	go func() {
		slog.Info("serve listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case sig := <-sigCh:
		slog.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, err error) {
	http.Error(w, err.Error(), status)
}

func handleStats(w http.ResponseWriter, r *http.Request) {
	view, err := svc.GetStats(r.Context())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func handleCategories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, svc.GetCategories())
}

func handleAPIKeys(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		view, err := svc.GetAPIKeys(r.Context())
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	case http.MethodPost:
		var req struct {
			Platform string `json:"platform"`
			Secret   string `json:"secret"`
			Name     string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, http.StatusBadRequest, err)
			return
		}
		id, err := svc.AddAPIKey(r.Context(), req.Platform, req.Secret, req.Name)
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int64{"id": id})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func handleDeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	idStr := strings.TrimPrefix(r.URL.Path, "/api/apikeys/")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid key id %q", idStr))
		return
	}
	if err := svc.DeleteAPIKey(r.Context(), id); err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func handleStartCollector(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Platform    string   `json:"platform"`
		CategoryIDs []string `json:"category_ids"`
		RegionCodes []string `json:"region_codes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	if err := svc.StartCollector(r.Context(), req.Platform, req.CategoryIDs, req.RegionCodes); err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

func handleStopCollector(w http.ResponseWriter, r *http.Request) {
	platform := r.URL.Query().Get("platform")
	svc.StopCollector(platform)
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func handleResetCollector(w http.ResponseWriter, r *http.Request) {
	platform := r.URL.Query().Get("platform")
	svc.ResetCollector(platform)
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func handleCollectorStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, svc.GetCollectorStatuses())
}

func handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	views, err := svc.SearchPOI(r.Context(), q.Get("query"), q.Get("platform"), q.Get("mode"), limit)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func handleRegions(w http.ResponseWriter, r *http.Request) {
	if q := r.URL.Query().Get("q"); q != "" {
		writeJSON(w, http.StatusOK, svc.SearchRegions(q))
		return
	}
	writeJSON(w, http.StatusOK, svc.GetProvinces())
}

func handleRegionChildren(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, svc.GetRegionChildren(r.URL.Query().Get("parent_code")))
}

func handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Path     string `json:"path"`
		Format   string `json:"format"`
		Platform string `json:"platform"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	count, err := svc.ExportPOIToFile(r.Context(), req.Path, req.Format, req.Platform)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": count})
}

func handleTilePlatforms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, svc.GetTilePlatforms())
}

func handleEstimate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req surface.CalculateTilesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, svc.CalculateTilesCount(req))
}

func handleTileTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		views, err := svc.GetTileTasks(r.Context())
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, views)
	case http.MethodPost:
		var req surface.CreateTileTaskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, http.StatusBadRequest, err)
			return
		}
		id, err := svc.CreateTileTask(r.Context(), req)
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"id": id})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleTileTaskByID dispatches /api/tiles/tasks/{id}[/action].
func handleTileTaskByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/tiles/tasks/")
	parts := strings.SplitN(rest, "/", 2)
	id := parts[0]
	if id == "" {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("task id required"))
		return
	}
	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		view, ok, err := svc.GetTileTask(r.Context(), id)
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		if !ok {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, view)
	case action == "" && r.Method == http.MethodDelete:
		deleteFiles := r.URL.Query().Get("delete_files") == "true"
		task, ok, err := svc.GetTileTask(r.Context(), id)
		outputPath := ""
		if err == nil && ok {
			outputPath = task.OutputPath
		}
		if err := svc.DeleteTileTask(r.Context(), id, outputPath, deleteFiles); err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case action == "start" && r.Method == http.MethodPost:
		if err := svc.StartTileDownload(r.Context(), id); err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
	case action == "pause" && r.Method == http.MethodPost:
		writeJSON(w, http.StatusOK, map[string]bool{"paused": svc.PauseTileDownload(r.Context(), id)})
	case action == "cancel" && r.Method == http.MethodPost:
		svc.CancelTileDownload(r.Context(), id)
		writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
	case action == "retry" && r.Method == http.MethodPost:
		n, err := svc.RetryFailedTiles(r.Context(), id)
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]uint64{"reset_count": n})
	case action == "threads" && r.Method == http.MethodPost:
		var req struct {
			Count uint32 `json:"count"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"applied": svc.SetTileThreadCount(r.Context(), id, req.Count)})
	default:
		http.NotFound(w, r)
	}
}

// handleTileProxy streams a single tile straight from the upstream platform,
// for callers that want one tile without creating a download task.
func handleTileProxy(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	z, errZ := strconv.ParseUint(q.Get("z"), 10, 32)
	x, errX := strconv.ParseUint(q.Get("x"), 10, 32)
	y, errY := strconv.ParseUint(q.Get("y"), 10, 32)
	if errZ != nil || errX != nil || errY != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("z, x, and y query params are required"))
		return
	}
	mapType := q.Get("map_type")
	if mapType == "" {
		mapType = "street"
	}
	data, err := svc.ProxyTileRequest(r.Context(), q.Get("platform"), q.Get("api_key"), tile.MapType(mapType), uint32(z), uint32(x), uint32(y))
	if err != nil {
		writeErr(w, http.StatusBadGateway, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(data)
}

func handleExportList(w http.ResponseWriter, r *http.Request) {
	views, err := svc.GetAllPOIData(r.Context(), r.URL.Query().Get("platform"))
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func handleAllRegions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, svc.GetRegions())
}

func handleBoundary(w http.ResponseWriter, r *http.Request) {
	code := strings.TrimPrefix(r.URL.Path, "/api/boundary/")
	if code == "" {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("region code required"))
		return
	}
	view, err := svc.GetRegionBoundary(r.Context(), code)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}
