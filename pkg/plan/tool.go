package plan

import (
	"context"
	"errors"
	"fmt"

	"github.com/Intelligent-Internet/ii-agent/pkg/tools"
)

// PlannerTool exposes the plan store to the agent so it can checkpoint
// long-running work across restarts.
type PlannerTool struct {
	store *Store
}

// NewPlannerTool wraps a store as an invokable tool.
func NewPlannerTool(store *Store) *PlannerTool {
	return &PlannerTool{store: store}
}

func (t *PlannerTool) Name() string { return "planner" }

func (t *PlannerTool) Description() string {
	return "Create and track multi-step plans. Use action=create with a title to start a plan, " +
		"action=set_steps to record the ordered steps, action=transition to advance the plan status " +
		"(planning, ready, in_progress, completed, cancelled, error), action=get to read a plan back, " +
		"and action=list to see all plans."
}

func (t *PlannerTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"action": map[string]interface{}{
				"type": "string",
				"enum": []interface{}{"create", "get", "transition", "set_steps", "list"},
			},
			"plan_id": map[string]interface{}{
				"type":        "string",
				"description": "Plan identifier, required for get, transition and set_steps",
			},
			"title": map[string]interface{}{
				"type":        "string",
				"description": "Plan title, required for create",
			},
			"status": map[string]interface{}{
				"type":        "string",
				"description": "Target status, required for transition",
			},
			"steps": map[string]interface{}{
				"type":        "array",
				"description": "Ordered step descriptions, required for set_steps",
				"items":       map[string]interface{}{"type": "string"},
			},
		},
		"required": []interface{}{"action"},
	}
}

func (t *PlannerTool) Invoke(ctx context.Context, input map[string]interface{}) (tools.Result, error) {
	action, _ := input["action"].(string)

	switch action {
	case "create":
		title, _ := input["title"].(string)
		p, err := t.store.Create(ctx, title)
		if err != nil {
			return tools.Result{}, err
		}
		return tools.Result{Output: map[string]interface{}{
			"plan_id": p.ID,
			"status":  string(p.Status),
		}}, nil

	case "get":
		p, err := t.store.Get(ctx, stringArg(input, "plan_id"))
		if err != nil {
			return tools.Result{}, planErr(err)
		}
		return tools.Result{Output: p}, nil

	case "transition":
		id := stringArg(input, "plan_id")
		status := Status(stringArg(input, "status"))
		if err := t.store.Transition(ctx, id, status); err != nil {
			return tools.Result{}, planErr(err)
		}
		return tools.Result{Output: map[string]interface{}{
			"plan_id": id,
			"status":  string(status),
		}}, nil

	case "set_steps":
		id := stringArg(input, "plan_id")
		raw, _ := input["steps"].([]interface{})
		steps := make([]Step, 0, len(raw))
		for i, item := range raw {
			desc, _ := item.(string)
			steps = append(steps, Step{Index: i, Description: desc, Status: "pending"})
		}
		if err := t.store.SetSteps(ctx, id, steps); err != nil {
			return tools.Result{}, planErr(err)
		}
		return tools.Result{Output: map[string]interface{}{
			"plan_id":    id,
			"step_count": fmt.Sprintf("%d", len(steps)),
		}}, nil

	case "list":
		plans, err := t.store.List(ctx)
		if err != nil {
			return tools.Result{}, err
		}
		return tools.Result{Output: plans}, nil

	default:
		return tools.Result{}, fmt.Errorf("unknown planner action: %s", action)
	}
}

func stringArg(input map[string]interface{}, key string) string {
	v, _ := input[key].(string)
	return v
}

func planErr(err error) error {
	if errors.Is(err, ErrPlanNotFound) {
		return fmt.Errorf("plan not found, create one first with action=create")
	}
	return err
}
