package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/shipwright-dev/shipwright/internal/config"
	"github.com/shipwright-dev/shipwright/internal/eventlog"
	"github.com/shipwright-dev/shipwright/internal/metrics"
)

var (
	metricsPeriodHours int
	metricsJSON        bool
	metricsPrometheus  bool
)

var daemonMetricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Summarize recent throughput, or serve a live /metrics endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemonMetrics()
	},
}

func init() {
	daemonMetricsCmd.Flags().IntVar(&metricsPeriodHours, "period", 24, "lookback window in hours for the summary")
	daemonMetricsCmd.Flags().BoolVar(&metricsJSON, "json", false, "print the summary as JSON")
	daemonMetricsCmd.Flags().BoolVar(&metricsPrometheus, "prometheus", false, "serve a live Prometheus /metrics endpoint instead of a summary")
}

func runDaemonMetrics() error {
	if metricsPrometheus {
		return serveMetrics()
	}
	return summarizeMetrics()
}

// serveMetrics binds metrics_addr and serves the collectors registered
// against a fresh registry, for scraping by an external Prometheus (§12.3).
func serveMetrics() error {
	cfg, err := config.Load(nil)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	reg := prometheus.NewRegistry()
	metrics.New(reg)

	addr := cfg.MetricsAddr
	if addr == "" {
		addr = ":9090"
	}
	fmt.Printf("serving prometheus metrics on %s/metrics\n", addr)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return http.ListenAndServe(addr, mux)
}

// summarizeMetrics derives throughput counters by replaying the event log
// over the lookback period, since the daemon does not keep a separate
// time-series store for historical queries (§12.3).
func summarizeMetrics() error {
	cfg, err := config.Load(nil)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, err := eventlog.Open(filepath.Join(cfg.StateDir, "events.jsonl"))
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	evts, err := log.Tail(100000)
	if err != nil {
		return fmt.Errorf("read event log: %w", err)
	}

	since := time.Now().Add(-time.Duration(metricsPeriodHours) * time.Hour)
	var spawns, reapsOK, reapsFail, retries, nudges, kills, patrolFindings int
	for _, e := range evts {
		if e.TS.Before(since) {
			continue
		}
		switch e.Type {
		case "daemon.spawn":
			spawns++
		case "daemon.reap":
			if ok, _ := e.Fields["success"].(bool); ok {
				reapsOK++
			} else {
				reapsFail++
			}
		case "daemon.retry":
			retries++
		case "daemon.nudge":
			nudges++
		case "daemon.stuck_kill":
			kills++
		case "patrol.finding":
			patrolFindings++
		}
	}

	summary := map[string]any{
		"period_hours":    metricsPeriodHours,
		"spawns":          spawns,
		"reaps_success":   reapsOK,
		"reaps_failure":   reapsFail,
		"retries":         retries,
		"nudges":          nudges,
		"stuck_kills":     kills,
		"patrol_findings": patrolFindings,
	}

	if metricsJSON || GetOutput() == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}

	fmt.Printf("last %dh: spawns=%d reaps_success=%d reaps_failure=%d retries=%d nudges=%d stuck_kills=%d patrol_findings=%d\n",
		metricsPeriodHours, spawns, reapsOK, reapsFail, retries, nudges, kills, patrolFindings)
	return nil
}
