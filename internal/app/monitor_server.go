package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"plan-executor/internal/monitor"
	"plan-executor/internal/plan"
	"plan-executor/internal/sequencer"
)

func startMonitorServer(ctx context.Context, core *core, port int, logger *zap.Logger) error {
	mux := http.NewServeMux()

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, core.seq.Status(), logger)
	})

	mux.HandleFunc("/routing", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, core.router.Status(), logger)
	})

	mux.HandleFunc("/statistics", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, core.Statistics(), logger)
	})

	mux.HandleFunc("/history", func(w http.ResponseWriter, r *http.Request) {
		limit := parseLimit(r, 200)
		writeJSON(w, core.router.History(limit), logger)
	})

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, core.monitor.Health(), logger)
	})

	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		limit := parseLimit(r, 200)

		eventType := monitor.EventType("")
		if typ := strings.TrimSpace(r.URL.Query().Get("type")); typ != "" {
			eventType = monitor.EventType(strings.ToLower(typ))
		}

		events, err := core.monitor.ListEvents(r.Context(), eventType, limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, events, logger)
	})

	mux.HandleFunc("/blocks", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var wires []wireBlock
		if err := json.NewDecoder(r.Body).Decode(&wires); err != nil {
			http.Error(w, fmt.Sprintf("解析指令块失败: %v", err), http.StatusBadRequest)
			return
		}

		blocks := make([]*plan.InstructionBlock, 0, len(wires))
		for _, wire := range wires {
			block, err := wire.toBlock()
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			blocks = append(blocks, block)
		}

		if err := core.SubmitBlocks(r.Context(), blocks); err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, sequencer.ErrQueueOverflow) {
				status = http.StatusServiceUnavailable
			}
			http.Error(w, err.Error(), status)
			return
		}

		w.WriteHeader(http.StatusAccepted)
		writeJSON(w, map[string]int{"queued": len(blocks)}, logger)
	})

	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn("关闭监控服务失败", zap.Error(err))
		}
	}()

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("监控服务异常", zap.Error(err))
		}
	}()

	logger.Info("监控接口已启动", zap.String("addr", addr))
	return nil
}

func writeJSON(w http.ResponseWriter, v interface{}, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("写入监控响应失败", zap.Error(err))
	}
}

func parseLimit(r *http.Request, fallback int) int {
	limit := fallback
	if qs := r.URL.Query().Get("limit"); qs != "" {
		if v, err := strconv.Atoi(qs); err == nil && v > 0 {
			if v > 1000 {
				v = 1000
			}
			limit = v
		}
	}
	return limit
}
