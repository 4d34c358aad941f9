// Package supervisor is the daemon's poll-loop reaper (§4.9): it polls
// candidates, triages and spawns bounded-parallel pipeline workers,
// supervises them with the progress sensor, reaps exits through the
// failure classifier, and runs the periodic adaptive/auto-scale/optimize/
// patrol tasks.
package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/shipwright-dev/shipwright/internal/classify"
	"github.com/shipwright-dev/shipwright/internal/config"
	"github.com/shipwright-dev/shipwright/internal/eventlog"
	"github.com/shipwright-dev/shipwright/internal/notify"
	"github.com/shipwright-dev/shipwright/internal/progress"
	"github.com/shipwright-dev/shipwright/internal/statestore"
	"github.com/shipwright-dev/shipwright/internal/template"
	"github.com/shipwright-dev/shipwright/internal/tracker"
	"github.com/shipwright-dev/shipwright/internal/triage"
	"github.com/shipwright-dev/shipwright/internal/types"
	"github.com/shipwright-dev/shipwright/internal/vcs"
	"github.com/shipwright-dev/shipwright/internal/worktree"
)

// Spawner launches one pipeline job as a child process and returns its PID.
// Concretely this execs the daemon's own binary in "pipeline start" mode
// against the job's worktree, the way the supervisor and stage executor
// are separate OS processes per §5's concurrency model.
type Spawner interface {
	Spawn(ctx context.Context, job types.Job) (pid int, err error)
}

// Reaper checks liveness and, for exited jobs, determines success/failure
// by exit code or (if reparented) by parsing the per-job log tail.
type Reaper interface {
	IsAlive(pid int) bool
	ExitResult(ctx context.Context, job types.Job) (success bool, logTail string, exitCode int)
	CPUActive(pid int) bool
}

// Supervisor owns one poll loop instance.
type Supervisor struct {
	Config   *config.Config
	Store    *statestore.Store
	Events   *eventlog.Log
	Tracker  *tracker.Breaker
	Worktree *worktree.Manager
	Spawner  Spawner
	Reaper   Reaper
	Notify   *notify.Client
	Logger   *zap.SugaredLogger

	sem *semaphore.Weighted

	mu                 sync.Mutex
	progressByIssue    map[string]*types.ProgressState
	consecutiveEmpty   int
	cycleCount         int
	lastAuthCheck      time.Time
	consecutiveFailClass string
	consecutiveFailCount int
	shutdown           chan struct{}
}

// New returns a Supervisor ready to run Poll in a loop.
func New(cfg *config.Config, store *statestore.Store, events *eventlog.Log, trk *tracker.Breaker, wt *worktree.Manager, spawner Spawner, reaper Reaper, notifier *notify.Client, logger *zap.SugaredLogger) *Supervisor {
	return &Supervisor{
		Config:          cfg,
		Store:           store,
		Events:          events,
		Tracker:         trk,
		Worktree:        wt,
		Spawner:         spawner,
		Reaper:          reaper,
		Notify:          notifier,
		Logger:          logger,
		sem:             semaphore.NewWeighted(int64(cfg.MaxParallel + cfg.PriorityLane.Max)),
		progressByIssue: map[string]*types.ProgressState{},
		shutdown:        make(chan struct{}),
	}
}

// Shutdown signals the run loop to exit; a loop sleeping between cycles
// wakes at once and drains the tracked workers.
func (s *Supervisor) Shutdown() {
	close(s.shutdown)
}

func (s *Supervisor) isShuttingDown() bool {
	select {
	case <-s.shutdown:
		return true
	default:
		return false
	}
}

func (s *Supervisor) emit(evtType, issueID string, fields map[string]any) {
	if s.Events == nil {
		return
	}
	if err := s.Events.Append(eventlog.Event{Type: evtType, IssueID: issueID, Fields: fields}); err != nil {
		s.Logger.Warnw("event log append failed", "type", evtType, "err", err)
	}
}

// Run drives the poll loop until Shutdown is called, sleeping adaptively
// between cycles.
func (s *Supervisor) Run(ctx context.Context) {
	for {
		if s.isShuttingDown() {
			s.drainShutdown(ctx)
			return
		}

		interval := s.pollOnce(ctx)

		select {
		case <-time.After(interval):
		case <-s.shutdown:
			s.drainShutdown(ctx)
			return
		case <-ctx.Done():
			return
		}
	}
}

// drainShutdown sends SIGTERM to all tracked pids, waits up to 5s, then
// SIGKILL, matching §5's cancellation contract.
func (s *Supervisor) drainShutdown(ctx context.Context) {
	st, err := s.Store.Read()
	if err != nil {
		s.Logger.Errorw("shutdown: read state failed", "err", err)
		return
	}
	for _, job := range st.ActiveJobs {
		proc, err := os.FindProcess(job.PID)
		if err != nil {
			continue
		}
		_ = proc.Signal(syscall.SIGTERM)
	}
	time.Sleep(5 * time.Second)
	for _, job := range st.ActiveJobs {
		proc, err := os.FindProcess(job.PID)
		if err != nil {
			continue
		}
		_ = proc.Kill()
	}
}

// pollOnce runs exactly one poll cycle (§4.9 steps 1-9) and returns the
// adaptive sleep interval for the next cycle.
func (s *Supervisor) pollOnce(ctx context.Context) time.Duration {
	s.cycleCount++

	if s.preflightAuthDue() {
		if err := s.Tracker.CheckAuth(ctx); err != nil {
			s.autoPause(ctx, "gh_auth_failure")
			return 120 * time.Second
		}
	}

	if s.pauseFlagPresent() {
		return 120 * time.Second
	}

	if s.Tracker.InBackoff() {
		return 120 * time.Second
	}

	candidates, err := s.Tracker.ListLabeled(ctx, s.Config.WatchLabel)
	if err != nil {
		s.Logger.Warnw("poll candidates failed", "err", err)
		return 120 * time.Second
	}

	st, err := s.Store.Read()
	if err != nil {
		s.Logger.Errorw("read state failed", "err", err)
		return 120 * time.Second
	}

	scored := s.scoreAndSort(candidates, st)
	s.spawnOrEnqueue(ctx, scored, st)
	s.drainQueue(ctx)
	s.reapAll(ctx)
	s.healthCheckAll(ctx)
	s.periodicTasks(ctx)

	return s.adaptiveSleep(st)
}

func (s *Supervisor) preflightAuthDue() bool {
	if time.Since(s.lastAuthCheck) < 5*time.Minute {
		return false
	}
	s.lastAuthCheck = time.Now()
	return true
}

func (s *Supervisor) pauseFlagPath() string {
	return s.Config.StateDir + "/daemon-pause.flag"
}

type pauseFlag struct {
	Reason      string    `json:"reason"`
	ResumeAfter time.Time `json:"resume_after"`
}

func (s *Supervisor) pauseFlagPresent() bool {
	data, err := os.ReadFile(s.pauseFlagPath())
	if err != nil {
		return false
	}
	var pf pauseFlag
	if err := json.Unmarshal(data, &pf); err != nil {
		return true // malformed flag file: fail safe, stay paused
	}
	if !pf.ResumeAfter.IsZero() && time.Now().After(pf.ResumeAfter) {
		_ = os.Remove(s.pauseFlagPath())
		return false
	}
	return true
}

func (s *Supervisor) autoPause(ctx context.Context, reason string) {
	pf := pauseFlag{Reason: reason}
	data, _ := json.Marshal(pf)
	_ = os.WriteFile(s.pauseFlagPath(), data, 0644)
	s.emit("daemon.auto_pause", "", map[string]any{"reason": reason})
	if s.Notify != nil {
		_ = s.Notify.Post(ctx, fmt.Sprintf("Shipwright auto-paused: %s", reason))
	}
}

// scoreAndSort triages candidates, resolving dependency cycles and sorting
// per the configured strategy (§4.4, §9).
func (s *Supervisor) scoreAndSort(candidates []tracker.Issue, st *statestore.State) []triage.Scored {
	openIDs := map[string]bool{}
	for _, c := range candidates {
		openIDs[c.ID] = true
	}

	var scored []triage.Scored
	for _, c := range candidates {
		blockedBy, blocks := extractDependencyRefs(c.Body)
		cand := triage.Candidate{
			IssueID:     c.ID,
			Title:       c.Title,
			Body:        c.Body,
			Labels:      c.Labels,
			CreatedAt:   c.CreatedAt,
			FileRefs:    countFileRefs(c.Body),
			BlockedBy:   blockedBy,
			Blocks:      blocks,
			PriorMemory: priorMemoryHint(st.Completed, c.ID),
		}
		scored = append(scored, triage.Scored{Candidate: cand, Score: triage.Score(cand, openIDs)})
	}

	strategy := triage.Strategy(s.Config.Intelligence.PriorityStrategy)
	if strategy == "" {
		strategy = triage.QuickWinsFirst
	}
	scored = triage.ResolveDependencyOrder(scored)
	triage.Sort(scored, strategy)
	return scored
}

func inFlight(st *statestore.State, issueID string) bool {
	for _, j := range st.ActiveJobs {
		if j.IssueID == issueID {
			return true
		}
	}
	for _, q := range st.Queued {
		if q.IssueID == issueID {
			return true
		}
	}
	return false
}

func priorityLabelMatch(labels, priorityLabels []string) bool {
	set := map[string]bool{}
	for _, l := range priorityLabels {
		set[l] = true
	}
	for _, l := range labels {
		if set[l] {
			return true
		}
	}
	return false
}

// spawnOrEnqueue implements §4.9 step 5: for each scored candidate, skip if
// in-flight, prefer the priority lane when eligible, else spawn under
// max_parallel or enqueue.
func (s *Supervisor) spawnOrEnqueue(ctx context.Context, scored []triage.Scored, st *statestore.State) {
	for _, sc := range scored {
		if inFlight(st, sc.Candidate.IssueID) {
			continue
		}

		priorityEligible := s.Config.PriorityLane.Enabled &&
			priorityLabelMatch(sc.Candidate.Labels, s.Config.PriorityLane.Labels) &&
			len(st.PriorityLaneActive) < s.Config.PriorityLane.Max

		if priorityEligible {
			s.spawn(ctx, sc, st, true)
			continue
		}

		if len(st.ActiveJobs) < s.Config.MaxParallel {
			s.spawn(ctx, sc, st, false)
		} else {
			st.Queued = append(st.Queued, types.QueueEntry{
				IssueID:    sc.Candidate.IssueID,
				Score:      sc.Score,
				EnqueuedAt: time.Now().Unix(),
			})
		}
	}

	if err := s.Store.Update(func(state *statestore.State) error {
		*state = *st
		return nil
	}); err != nil {
		s.Logger.Errorw("persist spawn/enqueue state failed", "err", err)
	}
}

func (s *Supervisor) spawn(ctx context.Context, sc triage.Scored, st *statestore.State, priorityLane bool) {
	baseBranch := s.Config.BaseBranch
	path, branch, err := s.Worktree.Create(ctx, sc.Candidate.IssueID, baseBranch)
	if err != nil {
		s.Logger.Warnw("worktree create failed, skipping spawn this cycle", "issue_id", sc.Candidate.IssueID, "err", err)
		return
	}

	ws := computeWindowStats(st.Completed)
	tmpl := template.Select(template.Input{
		Labels:                 sc.Candidate.Labels,
		Score:                  sc.Score,
		DORA:                   toTemplateDORA(ws),
		BranchProtectionStrict: s.Config.BranchProtectionStrict,
		TemplateMap:            s.Config.TemplateMap,
		Quality:                buildQualityMemory(st.Completed),
		Weights:                computeTemplateWeights(st.Completed),
	})

	job := types.Job{
		IssueID:    sc.Candidate.IssueID,
		StartEpoch: time.Now().Unix(),
		Title:      sc.Candidate.Title,
		Goal:       sc.Candidate.Title + "\n\n" + sc.Candidate.Body,
		Workspace:  path,
		Template:   tmpl,
		Branch:     branch,
		StartedAt:  time.Now(),
	}

	pid, err := s.Spawner.Spawn(ctx, job)
	if err != nil {
		s.Logger.Warnw("spawn failed", "issue_id", job.IssueID, "err", err)
		return
	}
	job.PID = pid

	st.ActiveJobs = append(st.ActiveJobs, job)
	st.Titles[job.IssueID] = job.Title
	if priorityLane {
		st.PriorityLaneActive = append(st.PriorityLaneActive, job.IssueID)
	}
	s.emit("daemon.spawn", job.IssueID, map[string]any{"pid": pid, "template": tmpl, "priority_lane": priorityLane})
}

// drainQueue implements §4.9 step 6: while active < max_parallel, dequeue
// and spawn, so a single freed slot is reused within the same cycle.
func (s *Supervisor) drainQueue(ctx context.Context) {
	_ = s.Store.Update(func(st *statestore.State) error {
		for len(st.ActiveJobs) < s.Config.MaxParallel && len(st.Queued) > 0 {
			entry := st.Queued[0]
			st.Queued = st.Queued[1:]
			sc := triage.Scored{Candidate: triage.Candidate{IssueID: entry.IssueID, Title: st.Titles[entry.IssueID]}, Score: entry.Score}
			s.spawn(ctx, sc, st, false)
		}
		return nil
	})
}

// reapAll implements §4.9 step 7: for every tracked pid, if not alive,
// classify the outcome and apply retry policy or finalize success.
func (s *Supervisor) reapAll(ctx context.Context) {
	_ = s.Store.Update(func(st *statestore.State) error {
		var stillActive []types.Job
		for _, job := range st.ActiveJobs {
			if s.Reaper.IsAlive(job.PID) {
				stillActive = append(stillActive, job)
				continue
			}
			s.reapOne(ctx, st, job)
		}
		st.ActiveJobs = stillActive
		return nil
	})
}

func (s *Supervisor) reapOne(ctx context.Context, st *statestore.State, job types.Job) {
	success, logTail, exitCode := s.Reaper.ExitResult(ctx, job)
	s.emit("daemon.reap", job.IssueID, map[string]any{"pid": job.PID, "success": success, "exit_code": exitCode})

	removeFromPriorityLane(st, job.IssueID)

	summary := readJobResultSummary(job.Workspace)
	duration := time.Since(job.StartedAt).Seconds()
	selfHeal := 0
	var provenance []types.StageSpan
	if summary != nil {
		duration = summary.DurationS
		selfHeal = summary.SelfHealCount
		provenance = summary.Provenance
	}

	if success {
		st.AppendCompleted(types.JobResult{
			Job: job, Result: "success", CompletedAt: time.Now(),
			DurationS: duration, SelfHealCount: selfHeal, Provenance: provenance,
		})
		delete(st.RetryCounts, job.IssueID)
		return
	}

	class := classify.Classify(classify.Signal{LogTail: logTail, ExitCode: exitCode})
	st.AppendFailure(types.FailureEvent{TS: time.Now().Unix(), Class: string(class)})
	s.trackConsecutiveFailures(st, class)
	riskUpgrade := s.recordFailureMemory(st, job, class, logTail)

	retryCount := st.RetryCounts[job.IssueID]
	maxRetries := classify.MaxRetries(class, s.Config.MaxRetries)

	if !classify.Retryable(class) || retryCount >= maxRetries {
		st.AppendCompleted(types.JobResult{
			Job: job, Result: "failure", FailureClass: string(class), CompletedAt: time.Now(),
			DurationS: duration, SelfHealCount: selfHeal, Provenance: provenance,
		})
		delete(st.RetryCounts, job.IssueID)
		s.emit("daemon.retry_exhausted", job.IssueID, map[string]any{"class": string(class)})
		if s.Notify != nil {
			_ = s.Notify.Post(ctx, fmt.Sprintf("Shipwright: issue %s exhausted retries (%s)", job.IssueID, class))
		}
		return
	}

	st.RetryCounts[job.IssueID] = retryCount + 1
	esc := classify.EscalationFor(retryCount + 1)
	if riskUpgrade {
		esc.UpgradeModel = true
	}
	s.emit("daemon.retry", job.IssueID, map[string]any{
		"class":               string(class),
		"attempt":             retryCount + 1,
		"upgrade_model":       esc.UpgradeModel,
		"switch_full_template": esc.SwitchToFullTemplate,
	})
	st.Queued = append(st.Queued, types.QueueEntry{IssueID: job.IssueID, Score: 100, EnqueuedAt: time.Now().Unix()})
}

func removeFromPriorityLane(st *statestore.State, issueID string) {
	out := st.PriorityLaneActive[:0]
	for _, id := range st.PriorityLaneActive {
		if id != issueID {
			out = append(out, id)
		}
	}
	st.PriorityLaneActive = out
}

func (s *Supervisor) trackConsecutiveFailures(st *statestore.State, class classify.Class) {
	if string(class) == s.consecutiveFailClass {
		s.consecutiveFailCount++
	} else {
		s.consecutiveFailClass = string(class)
		s.consecutiveFailCount = 1
	}
	if d := classify.ConsecutiveFailurePause(s.consecutiveFailCount); d > 0 {
		pf := pauseFlag{Reason: "consecutive_failures:" + string(class), ResumeAfter: time.Now().Add(d)}
		data, _ := json.Marshal(pf)
		_ = os.WriteFile(s.pauseFlagPath(), data, 0644)
	}
}

// healthCheckAll implements §4.9 step 8: run the progress sensor for every
// survivor, killing only per the patient policy.
func (s *Supervisor) healthCheckAll(ctx context.Context) {
	st, err := s.Store.Read()
	if err != nil {
		return
	}
	th := progress.Thresholds{
		WarnThreshold: s.Config.Health.StaleChecksBeforeWarn,
		KillThreshold: s.Config.Health.StaleChecksBeforeKill,
	}
	for _, job := range st.ActiveJobs {
		s.mu.Lock()
		state, ok := s.progressByIssue[job.IssueID]
		if !ok {
			state = &types.ProgressState{IssueID: job.IssueID}
			s.progressByIssue[job.IssueID] = state
		}
		s.mu.Unlock()

		cpuActive := s.Reaper.CPUActive(job.PID)

		git := vcs.New(job.Workspace, 10*time.Second)
		diffLines, _ := git.DiffLineCount(ctx, s.Config.BaseBranch)
		filesChanged, _ := git.FilesChanged(ctx, s.Config.BaseBranch)

		snap := progress.CollectSnapshot(
			progress.HeartbeatPath(job.Workspace),
			progress.WorkspaceStatePath(job.Workspace),
			diffLines, filesChanged, 0, "", time.Now().Unix(),
		)
		verdict := progress.Observe(state, snap, cpuActive, progress.VitalsScore{}, th)

		if progress.ShouldKill(verdict, state, cpuActive, th) {
			s.killJob(job)
		} else if progress.ShouldNudge(verdict, state) {
			s.nudgeJob(job)
			state.Nudged = true
			s.emit("daemon.nudge", job.IssueID, nil)
		}
	}
}

func (s *Supervisor) killJob(job types.Job) {
	if proc, err := os.FindProcess(job.PID); err == nil {
		_ = proc.Kill()
	}
	s.emit("daemon.stuck_kill", job.IssueID, map[string]any{"pid": job.PID})
}

func (s *Supervisor) nudgeJob(job types.Job) {
	nudgePath := job.Workspace + "/.shipwright-nudge"
	_ = os.WriteFile(nudgePath, []byte("progress stalled; consider a different approach\n"), 0644)
}

// periodicTasks implements §4.9 step 9's cadence table.
func (s *Supervisor) periodicTasks(ctx context.Context) {
	if s.cycleCount%3 == 0 {
		s.Logger.Debugw("fleet config reload due")
	}
	if s.cycleCount%5 == 0 {
		s.Logger.Debugw("degradation alert check due")
	}

	st, err := s.Store.Read()
	if err != nil {
		s.Logger.Warnw("periodic tasks: read state failed", "err", err)
		return
	}

	if s.Config.AutoScale.Enabled && s.Config.AutoScale.Interval > 0 && s.cycleCount%s.Config.AutoScale.Interval == 0 {
		s.runAutoScale(st)
	}
	if s.Config.SelfOptimize && s.Config.OptimizeInterval > 0 && s.cycleCount%s.Config.OptimizeInterval == 0 {
		s.runOptimize(st)
	}
	if s.Config.Intelligence.AdaptiveEnabled {
		s.runAdaptive(st)
	}
	if s.Config.Patrol.Enabled {
		s.runPatrol(ctx, st)
	}
	if s.Config.StaleReaper.Enabled && s.Config.StaleReaper.Interval > 0 && s.cycleCount%s.Config.StaleReaper.Interval == 0 {
		s.reapStaleWorktrees()
	}
	if s.cycleCount%10 == 0 {
		s.Logger.Debugw("event log rotation check due")
	}

	if err := s.Store.Update(func(state *statestore.State) error {
		state.LastPatrolRun = st.LastPatrolRun
		state.LastPatrolFoundZero = st.LastPatrolFoundZero
		state.PatrolMaxIssues = st.PatrolMaxIssues
		return nil
	}); err != nil {
		s.Logger.Warnw("periodic tasks: persist state failed", "err", err)
	}
}

func (s *Supervisor) reapStaleWorktrees() {
	stale, err := s.Worktree.ListStale(time.Duration(s.Config.StaleReaper.AgeDays) * 24 * time.Hour)
	if err != nil {
		return
	}
	st, err := s.Store.Read()
	if err != nil {
		return
	}
	active := map[string]bool{}
	for _, job := range st.ActiveJobs {
		active[job.Workspace] = true
	}
	for _, path := range stale {
		if active[path] {
			continue
		}
		s.Logger.Infow("removing stale worktree", "path", path)
		_ = s.Worktree.Remove(context.Background(), strings.TrimPrefix(filepath.Base(path), "daemon-issue-"))
	}
}

// adaptiveSleep implements §4.9's adaptive sleep: 30s when queue non-empty,
// 120s after 5 consecutive empty cycles, else 60s.
func (s *Supervisor) adaptiveSleep(st *statestore.State) time.Duration {
	if len(st.Queued) > 0 {
		s.consecutiveEmpty = 0
		return 30 * time.Second
	}
	if len(st.ActiveJobs) == 0 {
		s.consecutiveEmpty++
	} else {
		s.consecutiveEmpty = 0
	}
	if s.consecutiveEmpty >= 5 {
		return 120 * time.Second
	}
	return 60 * time.Second
}
