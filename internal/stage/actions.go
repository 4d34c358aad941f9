package stage

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shipwright-dev/shipwright/internal/types"
)

// taskTypeKeywords maps title keywords to a detected task type, used for
// branch-prefix derivation (§4.7 "intake").
var taskTypeKeywords = []struct {
	taskType string
	keywords []string
}{
	{"bug", []string{"bug", "fix", "broken", "crash"}},
	{"refactor", []string{"refactor", "cleanup", "rewrite"}},
	{"testing", []string{"test", "coverage", "flaky"}},
	{"security", []string{"security", "vuln", "cve", "exploit"}},
	{"docs", []string{"docs", "documentation", "readme"}},
	{"devops", []string{"ci", "pipeline", "deploy", "infra"}},
	{"migration", []string{"migrate", "migration", "upgrade"}},
	{"arch", []string{"architecture", "design", "restructure"}},
}

// DetectTaskType classifies an issue title into a task type for branch naming.
func DetectTaskType(title string) string {
	lower := strings.ToLower(title)
	for _, tk := range taskTypeKeywords {
		for _, kw := range tk.keywords {
			if strings.Contains(lower, kw) {
				return tk.taskType
			}
		}
	}
	return "feature"
}

// actionIntake fetches issue metadata (already present on e.Job), detects
// task type and branch prefix, and records the branch name on e.Branch for
// the later push and PR; it does not create or check out that branch.
func (e *Execution) actionIntake(ctx context.Context) (Outcome, error) {
	taskType := DetectTaskType(e.Job.Title)
	branch := fmt.Sprintf("%s/issue-%s", taskType, e.Job.IssueID)
	e.Branch = branch
	e.emit("intake.detected", map[string]any{"task_type": taskType, "branch": branch})
	return CompletedOutcome(), nil
}

// actionPlan invokes the AI subprocess to produce plan.md and posts a
// summary comment to the tracker.
func (e *Execution) actionPlan(ctx context.Context) (Outcome, error) {
	out, exitCode, err := e.AI.Run(ctx, "plan", e.Job.Goal, nil)
	e.ToolInvocations[types.StagePlan]++
	if err != nil || exitCode != 0 {
		return FailedOutcome("build_failure"), fmt.Errorf("plan subprocess failed: %w", err)
	}
	if e.Tracker != nil {
		_ = e.Tracker.Comment(ctx, e.Job.IssueID, "Plan:\n\n"+tail(out, 30))
	}
	return CompletedOutcome(), nil
}

// actionDesign mirrors actionPlan for design.md.
func (e *Execution) actionDesign(ctx context.Context) (Outcome, error) {
	out, exitCode, err := e.AI.Run(ctx, "design", e.Job.Goal, nil)
	e.ToolInvocations[types.StageDesign]++
	if err != nil || exitCode != 0 {
		return FailedOutcome("build_failure"), fmt.Errorf("design subprocess failed: %w", err)
	}
	if e.Tracker != nil {
		_ = e.Tracker.Comment(ctx, e.Job.IssueID, "Design:\n\n"+tail(out, 30))
	}
	return CompletedOutcome(), nil
}

// actionTest runs the detected/configured test command and enforces the
// coverage floor.
func (e *Execution) actionTest(ctx context.Context) (Outcome, error) {
	cmd := e.Config.TestCmd
	if cmd == "" {
		return FailedOutcome("build_failure"), fmt.Errorf("no test command configured")
	}
	out, exitCode, err := e.Cmd.Run(ctx, e.Workspace, cmd, 10*time.Minute)
	if err != nil || exitCode != 0 {
		return FailedOutcome("build_failure"), fmt.Errorf("tests failed (exit %d): %s", exitCode, tail(out, 40))
	}
	if e.Config.CoverageMin > 0 {
		cov, ok := parseCoverage(out)
		if ok && cov < e.Config.CoverageMin {
			return FailedOutcome("build_failure"), fmt.Errorf("coverage %.1f%% below floor %.1f%%", cov, e.Config.CoverageMin)
		}
	}
	return CompletedOutcome(), nil
}

var coverageRe = regexp.MustCompile(`coverage:\s*([0-9.]+)%`)

func parseCoverage(output string) (float64, bool) {
	m := coverageRe.FindStringSubmatch(strings.ToLower(output))
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// actionReview produces an AI review of the branch diff, failing only on
// critical findings (when a gate is configured — gate enforcement happens
// at the caller via StageFlags.Gate; here we simply surface findings).
func (e *Execution) actionReview(ctx context.Context) (Outcome, error) {
	diff, err := e.Git.DiffStat(ctx, e.Config.BaseBranch)
	if err != nil {
		return FailedOutcome("build_failure"), err
	}
	findings, err := e.Reviewer.Review(ctx, diff)
	if err != nil {
		return FailedOutcome("build_failure"), err
	}
	critical := 0
	for _, f := range findings {
		if f.Severity == "critical" {
			critical++
		}
	}
	e.emit("review.completed", map[string]any{"findings": len(findings), "critical": critical})
	if critical > 0 {
		return FailedOutcome("build_failure"), fmt.Errorf("%d critical review findings", critical)
	}
	return CompletedOutcome(), nil
}

// QualityCheck is one named check the compound quality gate runs.
type QualityCheck struct {
	Name string
	Run  func(ctx context.Context, e *Execution) (bool, string, error)
}

// DefaultQualityChecks are the checks named in §4.7: adversarial review,
// negative prompting, E2E, DoD audit, and multi-dimensional checks
// (security/coverage/perf/bundle size/API compat).
func DefaultQualityChecks() []QualityCheck {
	return []QualityCheck{
		{"adversarial_review", runAIGateCheck("adversarial-review")},
		{"negative_prompting", runAIGateCheck("negative-prompting")},
		{"e2e", runAIGateCheck("e2e")},
		{"dod_audit", runAIGateCheck("dod-audit")},
		{"security", runAIGateCheck("security-scan")},
		{"coverage", runAIGateCheck("coverage-check")},
		{"perf", runAIGateCheck("perf-regression")},
		{"bundle_size", runAIGateCheck("bundle-size")},
		{"api_compat", runAIGateCheck("api-compat")},
	}
}

func runAIGateCheck(kind string) func(ctx context.Context, e *Execution) (bool, string, error) {
	return func(ctx context.Context, e *Execution) (bool, string, error) {
		out, exitCode, err := e.AI.Run(ctx, kind, e.Job.Goal, nil)
		e.ToolInvocations[types.StageCompoundQuality]++
		if err != nil {
			return false, "", err
		}
		return exitCode == 0, out, nil
	}
}

// actionCompoundQuality runs up to MaxQualityCycles of the check suite; a
// failing cycle assembles a feedback document and re-enters the
// self-healing build<->test loop with the goal augmented by the feedback.
func (e *Execution) actionCompoundQuality(ctx context.Context) (Outcome, error) {
	checks := DefaultQualityChecks()
	cycles := e.Config.MaxQualityCycles
	if cycles <= 0 {
		cycles = 1
	}

	for cycle := 1; cycle <= cycles; cycle++ {
		var failures []string
		for _, c := range checks {
			ok, out, err := c.Run(ctx, e)
			if err != nil || !ok {
				failures = append(failures, fmt.Sprintf("- %s: %s", c.Name, tail(out, 10)))
			}
		}
		if len(failures) == 0 {
			return CompletedOutcome(), nil
		}
		if cycle == cycles {
			return FailedOutcome("build_failure"), fmt.Errorf("compound quality failed after %d cycles:\n%s", cycles, strings.Join(failures, "\n"))
		}

		feedback := strings.Join(failures, "\n")
		e.Job.Goal = fmt.Sprintf("%s\n\nIMPORTANT — Quality gate feedback from previous cycle:\n%s", e.Job.Goal, feedback)
		if outcome, err := e.selfHealingBuildTest(ctx); err != nil || outcome.Kind != Completed {
			return FailedOutcome("build_failure"), fmt.Errorf("rebuild after quality feedback failed: %w", err)
		}
	}
	return FailedOutcome("build_failure"), fmt.Errorf("compound quality exhausted")
}

// actionPR rebases onto base, pushes, opens the PR with the configured
// labels and reviewers, and waits for CI when a CI wait timeout is set. No
// milestone is set, and nothing is inherited from the issue or detected.
func (e *Execution) actionPR(ctx context.Context) (Outcome, error) {
	if err := e.Git.Rebase(ctx, e.Config.BaseBranch); err != nil {
		if abortErr := e.Git.RebaseAbort(ctx); abortErr != nil {
			return FailedOutcome("build_failure"), fmt.Errorf("rebase conflict and abort failed: %w", abortErr)
		}
		if mergeErr := e.Git.MergeBase(ctx, e.Config.BaseBranch); mergeErr != nil {
			_ = e.Git.MergeAbort(ctx)
			return FailedOutcome("build_failure"), fmt.Errorf("rebase and fallback merge both failed: %w", mergeErr)
		}
	}

	if err := e.Git.Push(ctx, "origin", e.Branch); err != nil {
		return FailedOutcome("build_failure"), fmt.Errorf("push failed: %w", err)
	}

	title := fmt.Sprintf("%s (#%s)", e.Job.Title, e.Job.IssueID)
	prID, err := e.PR.CreatePR(ctx, e.Branch, e.Config.BaseBranch, title, e.Job.Goal, e.Config.Labels, e.Config.Reviewers)
	if err != nil {
		return FailedOutcome("build_failure"), fmt.Errorf("create PR failed: %w", err)
	}
	e.PRID = prID
	e.emit("pr.created", map[string]any{"pr_id": prID})

	if e.Config.CIWaitTimeout > 0 {
		passed, err := e.PR.WaitForCI(ctx, prID, e.Config.CIWaitTimeout)
		if err != nil || !passed {
			return FailedOutcome("build_failure"), fmt.Errorf("CI did not pass: %w", err)
		}
	}
	return CompletedOutcome(), nil
}

// actionMerge merges the PR with the configured strategy (squash when unset),
// optionally deleting the branch. It does not wait for CI (actionPR does)
// and does not approve the PR.
func (e *Execution) actionMerge(ctx context.Context) (Outcome, error) {
	strategy := e.Config.MergeStrategy
	if strategy == "" {
		strategy = "squash"
	}
	if err := e.PR.Merge(ctx, e.PRID, strategy, e.Config.DeleteBranchOnMerge); err != nil {
		return FailedOutcome("build_failure"), fmt.Errorf("merge failed: %w", err)
	}
	return CompletedOutcome(), nil
}

// actionDeploy runs staging then production deploy commands, rolling back
// on failure if a rollback command is configured.
func (e *Execution) actionDeploy(ctx context.Context) (Outcome, error) {
	if e.Config.StagingDeployCmd != "" {
		if _, exitCode, err := e.Cmd.Run(ctx, e.Workspace, e.Config.StagingDeployCmd, 10*time.Minute); err != nil || exitCode != 0 {
			return FailedOutcome("build_failure"), fmt.Errorf("staging deploy failed: %w", err)
		}
	}
	if _, exitCode, err := e.Cmd.Run(ctx, e.Workspace, e.Config.ProdDeployCmd, 10*time.Minute); err != nil || exitCode != 0 {
		if e.Config.RollbackCmd != "" {
			_, _, _ = e.Cmd.Run(ctx, e.Workspace, e.Config.RollbackCmd, 5*time.Minute)
		}
		return FailedOutcome("build_failure"), fmt.Errorf("production deploy failed: %w", err)
	}
	return CompletedOutcome(), nil
}

// actionValidate runs the smoke command and probes the health URL with up
// to 5 retries, optionally closing the issue.
func (e *Execution) actionValidate(ctx context.Context) (Outcome, error) {
	if e.Config.SmokeCmd != "" {
		if _, exitCode, err := e.Cmd.Run(ctx, e.Workspace, e.Config.SmokeCmd, 5*time.Minute); err != nil || exitCode != 0 {
			return FailedOutcome("build_failure"), fmt.Errorf("smoke test failed: %w", err)
		}
	}
	if e.Config.HealthURL != "" {
		var lastErr error
		for attempt := 0; attempt < 5; attempt++ {
			healthy, err := e.Health.Probe(ctx, e.Config.HealthURL)
			if err == nil && healthy {
				lastErr = nil
				break
			}
			if err == nil {
				err = fmt.Errorf("%s reported unhealthy", e.Config.HealthURL)
			}
			lastErr = err
			time.Sleep(time.Duration(attempt+1) * time.Second)
		}
		if lastErr != nil {
			return FailedOutcome("build_failure"), fmt.Errorf("health probe never succeeded: %w", lastErr)
		}
	}
	if e.Config.CloseIssueOnValidate && e.Tracker != nil {
		_ = e.Tracker.CloseIssue(ctx, e.Job.IssueID)
	}
	return CompletedOutcome(), nil
}

// actionMonitor polls health/log-scan every 30s for the configured
// duration, accumulating errors; on breach it rolls back, re-verifies with
// one smoke run, and on a second failure posts a comment on the job's own
// issue rather than retrying rollback again (§9 Open Question). No separate
// hotfix issue is created.
func (e *Execution) actionMonitor(ctx context.Context) (Outcome, error) {
	deadline := time.Now().Add(e.Config.MonitorDuration)
	errCount := 0

	for time.Now().Before(deadline) {
		if e.Config.HealthURL != "" {
			healthy, err := e.Health.Probe(ctx, e.Config.HealthURL)
			if err != nil || !healthy {
				errCount++
			}
		}
		if e.Config.LogScanCmd != "" {
			out, exitCode, err := e.Cmd.Run(ctx, e.Workspace, e.Config.LogScanCmd, 30*time.Second)
			if err != nil || exitCode != 0 || strings.Contains(strings.ToLower(out), "error") {
				errCount++
			}
		}
		e.emit("monitor.check", map[string]any{"error_count": errCount})

		if errCount >= e.Config.ErrorThreshold {
			return e.handleMonitorBreach(ctx)
		}

		select {
		case <-time.After(30 * time.Second):
		case <-ctx.Done():
			return FailedOutcome("build_failure"), ctx.Err()
		}
	}
	return CompletedOutcome(), nil
}

func (e *Execution) handleMonitorBreach(ctx context.Context) (Outcome, error) {
	e.emit("monitor.alert", map[string]any{"issue_id": e.Job.IssueID})

	if e.Config.RollbackCmd != "" {
		_, _, _ = e.Cmd.Run(ctx, e.Workspace, e.Config.RollbackCmd, 5*time.Minute)
	}
	e.emit("monitor.rollback", map[string]any{"issue_id": e.Job.IssueID})

	smokeOK := true
	if e.Config.SmokeCmd != "" {
		_, exitCode, err := e.Cmd.Run(ctx, e.Workspace, e.Config.SmokeCmd, 5*time.Minute)
		smokeOK = err == nil && exitCode == 0
	}
	if smokeOK {
		e.emit("monitor.rollback_verified", map[string]any{"issue_id": e.Job.IssueID})
		return FailedOutcome("build_failure"), fmt.Errorf("monitor rollback triggered after error threshold breach")
	}

	if e.Tracker != nil {
		_ = e.Tracker.Comment(ctx, e.Job.IssueID,
			"Rollback verification failed (smoke test did not pass after rollback). Rollback is not retried.")
	}
	return FailedOutcome("build_failure"), fmt.Errorf("rollback verification failed, rollback not retried")
}
