package phases

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/hugo-lorenzo-mato/adpilot/internal/boundary"
	"github.com/hugo-lorenzo-mato/adpilot/internal/core"
	"github.com/hugo-lorenzo-mato/adpilot/internal/prompt"
)

const defaultActionTable = "campaigns"

// PlannedAction is one campaign change proposed by the planner.
type PlannedAction struct {
	Operation  string         `json:"operation"`
	Table      string         `json:"table,omitempty"`
	CampaignID string         `json:"campaign_id,omitempty"`
	Changes    map[string]any `json:"changes,omitempty"`
	Rationale  string         `json:"rationale,omitempty"`
}

func (a PlannedAction) args() *core.DatastoreWriteArgs {
	table := a.Table
	if table == "" {
		table = defaultActionTable
	}
	return &core.DatastoreWriteArgs{
		Table:     table,
		Operation: strings.ToLower(strings.TrimSpace(a.Operation)),
		Key:       a.CampaignID,
		Record:    a.Changes,
	}
}

// AppliedAction is the outcome of one planned action.
type AppliedAction struct {
	PlannedAction
	Status   string `json:"status"`
	Affected int    `json:"affected,omitempty"`
	Key      string `json:"key,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Action statuses.
const (
	ActionApplied = "applied"
	ActionSkipped = "skipped"
	ActionFailed  = "failed"
)

// ActionsPayload is the execute_actions phase output.
type ActionsPayload struct {
	Actions []AppliedAction `json:"actions"`
	Summary string          `json:"summary"`
	Calls   []CallOutcome   `json:"calls"`
}

// ExecuteActions plans campaign changes and applies them to the data store.
// Writes are never micro-retried; any failed write fails the phase.
type ExecuteActions struct {
	base
}

// Phase implements Executor.
func (e *ExecuteActions) Phase() core.Phase { return core.PhaseExecuteActions }

// Execute implements Executor.
func (e *ExecuteActions) Execute(ctx context.Context, snap core.Snapshot, inv boundary.Invoker) (*core.PhaseResult, error) {
	logger := e.log(ctx, core.PhaseExecuteActions)
	var log callLog

	user, err := e.prompts.RenderPlanActions(prompt.PlanActionsParams{
		Instruction: snap.Instruction,
		Entities:    snap.Intent.Entities,
		Prior:       priorText(snap, 3000),
	})
	if err != nil {
		return nil, err
	}
	text, err := e.reason(ctx, inv, core.PurposePlanActions, user, 0, true)
	log.add(core.ToolReasoning, core.PurposePlanActions, err)
	if err != nil {
		return nil, err
	}

	var plan struct {
		Actions []PlannedAction `json:"actions"`
		Summary string          `json:"summary"`
	}
	if err := prompt.Decode(text, &plan); err != nil {
		return nil, core.ErrTool(core.FailureInvalidResponse, core.ToolReasoning, "action plan is not valid JSON").WithCause(err)
	}

	applied := make([]AppliedAction, len(plan.Actions))
	var (
		mu       sync.Mutex
		firstErr error
	)
	g, gctx := e.group(ctx)
	for i, action := range plan.Actions {
		applied[i] = AppliedAction{PlannedAction: action}
		args := action.args()
		if verr := args.Validate(); verr != nil {
			applied[i].Status = ActionSkipped
			applied[i].Error = verr.Error()
			logger.Warn("skipping malformed planned action", "index", i, "error", verr)
			continue
		}
		g.Go(func() error {
			var out core.DatastoreWriteResult
			err := e.invoke(gctx, inv, args, &out)
			log.add(core.ToolDatastoreWrite, fmt.Sprintf("%s %s", args.Operation, args.Key), err)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				applied[i].Status = ActionFailed
				applied[i].Error = err.Error()
				if firstErr == nil {
					firstErr = err
				}
				return nil
			}
			applied[i].Status = ActionApplied
			applied[i].Affected = out.Affected
			applied[i].Key = out.Key
			return nil
		})
	}
	_ = g.Wait()

	if firstErr != nil {
		logger.Warn("campaign write failed", "error", firstErr)
		return nil, firstErr
	}

	var count, affected int
	for _, a := range applied {
		if a.Status == ActionApplied {
			count++
			affected += a.Affected
		}
	}
	summary := plan.Summary
	if summary == "" {
		summary = fmt.Sprintf("Applied %d of %d planned actions.", count, len(applied))
	}

	payload := ActionsPayload{Actions: applied, Summary: summary, Calls: log.list()}
	supporting := map[string]any{
		"plan":     plan.Actions,
		"entities": snap.Intent.Entities,
		"applied":  applied,
	}
	metrics := map[string]float64{
		"actions_planned": float64(len(applied)),
		"actions_applied": float64(count),
		"rows_affected":   float64(affected),
	}
	return newResult(snap, summary, payload, supporting, metrics)
}
