package main

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"albionflip/internal/health"
	"albionflip/internal/market"
	"albionflip/internal/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve prices and flips over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		collector := metrics.NewCollector()
		if err := collector.Register(); err != nil {
			return fmt.Errorf("registering metrics: %w", err)
		}

		svc, cfg, err := buildService(market.WithCollector(collector))
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		svc.StartHealthLoop(ctx)

		mux := http.NewServeMux()
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			state := svc.Monitor().State()
			code := http.StatusOK
			if state == health.StateOffline {
				code = http.StatusServiceUnavailable
			}
			w.WriteHeader(code)
			_ = json.NewEncoder(w).Encode(map[string]string{"upstream": state.String()})
		})
		mux.HandleFunc("/api/prices", func(w http.ResponseWriter, r *http.Request) {
			handleGetPrices(w, r, svc)
		})
		mux.HandleFunc("/api/flips", func(w http.ResponseWriter, r *http.Request) {
			handleGetFlips(w, r, svc)
		})
		mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Serve.Port),
			Handler:           withJSONHeaders(withGzip(recoverPanic(limitBody(mux)))),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      5 * time.Minute, // full-catalogue refreshes are slow
			IdleTimeout:       60 * time.Second,
		}

		go func() {
			log.Printf("server listening on :%d", cfg.Serve.Port)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("server: %v", err)
			}
		}()

		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func handleGetPrices(w http.ResponseWriter, r *http.Request, svc *market.Service) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	qualities, err := parseQualities(r.URL.Query().Get("qualities"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	items := splitCSV(r.URL.Query().Get("items"))
	if len(items) > 1000 {
		http.Error(w, "too many items (max 1000)", http.StatusBadRequest)
		return
	}

	res, err := svc.RefreshPrices(r.Context(), market.RefreshRequest{
		Items:     items,
		Locations: splitCSV(r.URL.Query().Get("locations")),
		Qualities: qualities,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, map[string]any{
		"quotes":        res.Quotes,
		"failed_chunks": res.FailedChunks,
		"dropped_items": res.DroppedItems,
	})
}

func handleGetFlips(w http.ResponseWriter, r *http.Request, svc *market.Service) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	items := splitCSV(q.Get("items"))
	if len(items) > 1000 {
		http.Error(w, "too many items (max 1000)", http.StatusBadRequest)
		return
	}
	qualities, err := parseQualities(q.Get("qualities"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	freq := market.FlipsRequest{
		Items:           items,
		SourceLocations: splitCSV(q.Get("from")),
		DestLocations:   splitCSV(q.Get("to")),
		Qualities:       qualities,
	}
	if v := q.Get("min_profit"); v != "" {
		if freq.MinProfit, err = strconv.ParseInt(v, 10, 64); err != nil {
			http.Error(w, "invalid min_profit", http.StatusBadRequest)
			return
		}
	}
	if v := q.Get("min_roi"); v != "" {
		if freq.MinROI, err = strconv.ParseFloat(v, 64); err != nil {
			http.Error(w, "invalid min_roi", http.StatusBadRequest)
			return
		}
	}
	if v := q.Get("max_age"); v != "" {
		if freq.MaxAge, err = time.ParseDuration(v); err != nil {
			http.Error(w, "invalid max_age (use a duration like 6h)", http.StatusBadRequest)
			return
		}
	}
	if v := q.Get("limit"); v != "" {
		if freq.MaxResults, err = strconv.Atoi(v); err != nil {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
	}

	res, err := svc.RefreshPrices(r.Context(), market.RefreshRequest{
		Items:     items,
		Locations: splitCSV(q.Get("locations")),
		Qualities: qualities,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	ladder, err := svc.FindFlips(r.Context(), res.Quotes, res.ScanID, freq)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{
		"tier":       ladder.Winner,
		"candidates": ladder.Candidates,
		"attempts":   ladder.Attempts,
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func withJSONHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/metrics" {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
		}
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withGzip compresses responses when the client supports gzip.
func withGzip(next http.Handler) http.Handler {
	var gzPool = sync.Pool{New: func() any {
		w, _ := gzip.NewWriterLevel(io.Discard, gzip.BestSpeed)
		return w
	}}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			next.ServeHTTP(w, r)
			return
		}
		gz := gzPool.Get().(*gzip.Writer)
		gz.Reset(w)
		defer func() {
			_ = gz.Close()
			gz.Reset(io.Discard)
			gzPool.Put(gz)
		}()
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Add("Vary", "Accept-Encoding")
		gw := gzipResponseWriter{ResponseWriter: w, Writer: gz}
		next.ServeHTTP(gw, r)
	})
}

type gzipResponseWriter struct {
	http.ResponseWriter
	Writer io.Writer
}

func (g gzipResponseWriter) Write(b []byte) (int, error) {
	return g.Writer.Write(b)
}

// limitBody caps request body size to avoid memory abuse.
func limitBody(next http.Handler) http.Handler {
	const maxBody = 1 << 20 // 1MB
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBody)
		}
		next.ServeHTTP(w, r)
	})
}

// recoverPanic protects handlers from panics.
func recoverPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
