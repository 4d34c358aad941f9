// Package stage drives a Job through its ordered pipeline stages (§4.7):
// per-stage start/body/success/failure contract, the self-healing
// build<->test loop, and the compound quality gate.
package stage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shipwright-dev/shipwright/internal/eventlog"
	"github.com/shipwright-dev/shipwright/internal/progress"
	"github.com/shipwright-dev/shipwright/internal/types"
	"github.com/shipwright-dev/shipwright/internal/vcs"
)

// Execution holds everything one stage run needs: the Job, its worktree,
// and the external collaborators the spec treats as out-of-scope (AI
// worker, command runner, tracker, reviewer, PR creator).
type Execution struct {
	Job       types.Job
	Workspace string
	Branch    string
	Config    Config
	State     *types.PipelineState

	Git      *vcs.Git
	AI       AIWorker
	Cmd      CommandRunner
	Health   HealthProber
	Tracker  TrackerPoster
	Reviewer Reviewer
	PR       PRCreator
	Events   *eventlog.Log

	// LastTestError holds the tail of the most recent test failure log,
	// threaded into the build goal augmentation on self-heal cycles 2+.
	LastTestError string
	SelfHealCount int
	ToolInvocations map[types.StageID]int
	StageSpans      []types.StageSpan
	PRID            string

	// Checkpoint, if set, is called after every stage transition so a crash
	// mid-pipeline can resume from the last completed stage (§4.7 "resume").
	Checkpoint func(*types.PipelineState)
}

func (e *Execution) checkpoint() {
	if e.Checkpoint != nil {
		e.Checkpoint(e.State)
	}
	rec := e.State.Stages[e.State.CurrentStage]
	ws := progress.WorkspaceState{Stage: e.State.CurrentStage}
	if rec != nil {
		ws.Iteration = rec.Attempts
		ws.ErrSignature = rec.LastError
	}
	_ = progress.WriteWorkspaceState(e.Workspace, ws)
}

// writeHeartbeat refreshes the fine-grained progress file the supervisor's
// health check prefers over the coarser checkpoint-driven workspace state.
func (e *Execution) writeHeartbeat(id types.StageID, iteration int, errSig string) {
	_ = progress.WriteHeartbeat(e.Workspace, progress.Heartbeat{
		Stage:        id,
		Iteration:    iteration,
		ErrSignature: errSig,
		TS:           time.Now().Unix(),
	})
}

func (e *Execution) emit(evtType string, fields map[string]any) {
	if e.Events == nil {
		return
	}
	_ = e.Events.Append(eventlog.Event{
		Type:    evtType,
		IssueID: e.Job.IssueID,
		Fields:  fields,
	})
}

// Run drives the ordered stage list from template, honoring per-stage
// enable/gate/retries flags, and returns the terminal Outcome of the
// pipeline (Completed when every enabled stage completes).
func Run(ctx context.Context, e *Execution, order []types.StageID, tmpl Template) Outcome {
	e.emit("pipeline.started", map[string]any{"template": tmpl.Name, "goal": e.Job.Goal})
	started := time.Now()

	for _, id := range order {
		flags, ok := tmpl.Stages[string(id)]
		if !ok || !flags.Enabled {
			e.recordStage(id, types.StageSkipped, 0, "")
			e.checkpoint()
			continue
		}

		if e.State.Resume {
			if rec, ok := e.State.Stages[id]; ok && rec.Status == types.StageComplete {
				continue
			}
		}

		outcome := e.runStageWithRetries(ctx, id, flags)
		e.checkpoint()
		switch outcome.Kind {
		case Failed:
			e.emit("pipeline.completed", map[string]any{
				"result":          "failure",
				"duration_s":      time.Since(started).Seconds(),
				"self_heal_count": e.SelfHealCount,
			})
			return outcome
		case Retried:
			// A stage returning Retried after exhausting its own retries
			// degrades to Failed at the pipeline level.
			e.emit("pipeline.completed", map[string]any{
				"result":          "failure",
				"duration_s":      time.Since(started).Seconds(),
				"self_heal_count": e.SelfHealCount,
			})
			return FailedOutcome("build_failure")
		}
	}

	e.emit("pipeline.completed", map[string]any{
		"result":          "success",
		"duration_s":      time.Since(started).Seconds(),
		"self_heal_count": e.SelfHealCount,
	})
	return CompletedOutcome()
}

// runStageWithRetries implements the per-stage contract (§4.7): start,
// body, success/failure, retrying up to flags.Retries times before the
// stage is marked failed and the pipeline aborts.
func (e *Execution) runStageWithRetries(ctx context.Context, id types.StageID, flags StageFlags) Outcome {
	startEpoch := time.Now().Unix()
	e.setStage(id, types.StageRunning, startEpoch, "")
	e.emit("stage.started", map[string]any{"stage": string(id)})
	spanStart := time.Now()

	var lastErr error
	attempts := 0
	for attempts = 0; attempts <= flags.Retries; attempts++ {
		e.writeHeartbeat(id, attempts, errString(lastErr))
		outcome, err := e.runAction(ctx, id)
		lastErr = err
		if err == nil && outcome.Kind == Completed {
			e.setStage(id, types.StageComplete, startEpoch, "")
			e.emit("stage.completed", map[string]any{"stage": string(id), "attempts": attempts + 1})
			e.StageSpans = append(e.StageSpans, types.StageSpan{
				Stage:           id,
				ToolInvocations: e.ToolInvocations[id],
				StartedAt:       time.Unix(spanStart.Unix(), 0),
				EndedAt:         time.Now(),
			})
			return CompletedOutcome()
		}
		if attempts < flags.Retries {
			e.setStage(id, types.StageRetrying, startEpoch, errString(err))
			continue
		}
	}

	e.setStage(id, types.StageFailed, startEpoch, errString(lastErr))
	e.emit("stage.failed", map[string]any{"stage": string(id), "error": errString(lastErr)})
	return FailedOutcome("build_failure")
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (e *Execution) setStage(id types.StageID, status types.StageStatus, startEpoch int64, lastErr string) {
	if e.State.Stages == nil {
		e.State.Stages = map[types.StageID]*types.StageRecord{}
	}
	rec, ok := e.State.Stages[id]
	if !ok {
		rec = &types.StageRecord{ID: id}
		e.State.Stages[id] = rec
	}
	rec.Status = status
	if startEpoch != 0 {
		rec.StartEpoch = startEpoch
	}
	if status == types.StageComplete || status == types.StageFailed {
		rec.EndEpoch = time.Now().Unix()
	}
	if lastErr != "" {
		rec.LastError = lastErr
		rec.Attempts++
	}
	e.State.CurrentStage = id
}

func (e *Execution) recordStage(id types.StageID, status types.StageStatus, startEpoch int64, lastErr string) {
	e.setStage(id, status, startEpoch, lastErr)
}

// runAction dispatches to the concrete stage action and, for build/test,
// delegates to the self-healing loop instead of a single invocation.
func (e *Execution) runAction(ctx context.Context, id types.StageID) (Outcome, error) {
	switch id {
	case types.StageIntake:
		return e.actionIntake(ctx)
	case types.StagePlan:
		return e.actionPlan(ctx)
	case types.StageDesign:
		return e.actionDesign(ctx)
	case types.StageBuild:
		return e.selfHealingBuildTest(ctx)
	case types.StageTest:
		// when build is enabled, selfHealingBuildTest has already run the
		// tests; an enabled test stage still runs actionTest on its own.
		return e.actionTest(ctx)
	case types.StageReview:
		return e.actionReview(ctx)
	case types.StageCompoundQuality:
		return e.actionCompoundQuality(ctx)
	case types.StagePR:
		return e.actionPR(ctx)
	case types.StageMerge:
		return e.actionMerge(ctx)
	case types.StageDeploy:
		return e.actionDeploy(ctx)
	case types.StageValidate:
		return e.actionValidate(ctx)
	case types.StageMonitor:
		return e.actionMonitor(ctx)
	default:
		return FailedOutcome("unknown"), fmt.Errorf("unknown stage %q", id)
	}
}

const buildFailureGoalTemplate = `%s

IMPORTANT — Previous build attempt failed tests. Fix these errors:
%s
Focus on fixing the failing tests while keeping all passing tests working.`

// selfHealingBuildTest implements §4.7's most load-bearing subprotocol: up
// to BuildTestRetries+1 cycles of build then test, appending the previous
// test failure tail to the goal on cycle>=2, exiting on the first passing
// test run.
func (e *Execution) selfHealingBuildTest(ctx context.Context) (Outcome, error) {
	cycles := e.Config.BuildTestRetries + 1
	var lastErr error
	for cycle := 1; cycle <= cycles; cycle++ {
		e.writeHeartbeat(types.StageBuild, cycle, tail(e.LastTestError, 1))
		goal := e.Job.Goal
		if cycle >= 2 {
			goal = fmt.Sprintf(buildFailureGoalTemplate, e.Job.Goal, tail(e.LastTestError, 40))
		}

		out, exitCode, err := e.AI.Run(ctx, "build", goal, nil)
		e.ToolInvocations[types.StageBuild]++
		if err != nil || exitCode != 0 {
			lastErr = fmt.Errorf("build exit %d: %w (%s)", exitCode, err, tail(out, 20))
			continue
		}

		testOutcome, testErr := e.actionTest(ctx)
		if testErr == nil && testOutcome.Kind == Completed {
			return CompletedOutcome(), nil
		}

		e.LastTestError = testErr.Error()
		lastErr = testErr
		if cycle < cycles {
			e.SelfHealCount++
		}
	}
	return FailedOutcome("build_failure"), lastErr
}

func tail(s string, lines int) string {
	parts := strings.Split(s, "\n")
	if len(parts) <= lines {
		return s
	}
	return strings.Join(parts[len(parts)-lines:], "\n")
}
