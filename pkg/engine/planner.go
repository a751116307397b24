package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Task is one unit of work: ensure a capability resolves on a target.
type Task struct {
	// Capability is the capability to resolve.
	Capability CapabilityID `json:"capability"`

	// TargetID identifies the target.
	TargetID string `json:"target_id"`
}

// Plan is an ordered set of tasks built from a capability manifest and a
// target inventory. Tasks for one target keep the manifest's declared
// order; targets are independent of each other.
type Plan struct {
	// ID is the unique plan identifier.
	ID string `json:"id"`

	// Tasks are the units of work, grouped by target in manifest order.
	Tasks []Task `json:"tasks"`

	// CreatedAt is when the plan was built.
	CreatedAt time.Time `json:"created_at"`
}

// TasksByTarget groups the plan's tasks per target, preserving order.
func (p *Plan) TasksByTarget() map[string][]Task {
	byTarget := make(map[string][]Task)
	for _, task := range p.Tasks {
		byTarget[task.TargetID] = append(byTarget[task.TargetID], task)
	}
	return byTarget
}

// TargetIDs returns the distinct target IDs in first-appearance order.
func (p *Plan) TargetIDs() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, task := range p.Tasks {
		if !seen[task.TargetID] {
			seen[task.TargetID] = true
			ids = append(ids, task.TargetID)
		}
	}
	return ids
}

// BuildPlan validates a capability manifest against the registry and
// expands it across targets. Unknown capabilities fail planning up front;
// duplicate (capability, target) pairs are collapsed since resolution is
// idempotent anyway.
func BuildPlan(registry *Registry, capabilities []CapabilityID, targetIDs []string) (*Plan, error) {
	if len(capabilities) == 0 {
		return nil, fmt.Errorf("manifest declares no capabilities")
	}
	if len(targetIDs) == 0 {
		return nil, fmt.Errorf("no targets to plan against")
	}

	for _, cap := range capabilities {
		if !registry.Known(cap) {
			return nil, fmt.Errorf("unknown capability %q in manifest", cap)
		}
	}

	plan := &Plan{
		ID:        uuid.New().String(),
		CreatedAt: time.Now(),
	}
	seen := make(map[Task]bool)
	for _, targetID := range targetIDs {
		for _, cap := range capabilities {
			task := Task{Capability: cap, TargetID: targetID}
			if seen[task] {
				continue
			}
			seen[task] = true
			plan.Tasks = append(plan.Tasks, task)
		}
	}
	return plan, nil
}
