package engine

import "testing"

func TestBuildPlanExpandsManifestAcrossTargets(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(newDescriptor("kvp", "kvp", matchAll))
	reg.MustRegister(newDescriptor("agent", "agent", matchAll))

	plan, err := BuildPlan(reg, []CapabilityID{"kvp", "agent", "kvp"}, []string{"host1", "host2"})
	if err != nil {
		t.Fatalf("BuildPlan failed: %v", err)
	}
	if plan.ID == "" {
		t.Error("plan should carry an ID")
	}

	// Duplicates collapse; each target gets the manifest in declared order.
	want := []Task{
		{Capability: "kvp", TargetID: "host1"},
		{Capability: "agent", TargetID: "host1"},
		{Capability: "kvp", TargetID: "host2"},
		{Capability: "agent", TargetID: "host2"},
	}
	if len(plan.Tasks) != len(want) {
		t.Fatalf("got %d tasks, want %d", len(plan.Tasks), len(want))
	}
	for i, task := range plan.Tasks {
		if task != want[i] {
			t.Errorf("task %d = %+v, want %+v", i, task, want[i])
		}
	}

	byTarget := plan.TasksByTarget()
	if len(byTarget["host1"]) != 2 || len(byTarget["host2"]) != 2 {
		t.Errorf("TasksByTarget grouping wrong: %+v", byTarget)
	}
	ids := plan.TargetIDs()
	if len(ids) != 2 || ids[0] != "host1" || ids[1] != "host2" {
		t.Errorf("TargetIDs = %v", ids)
	}
}

func TestBuildPlanRejectsUnknownCapability(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(newDescriptor("kvp", "kvp", matchAll))

	if _, err := BuildPlan(reg, []CapabilityID{"kvp", "nope"}, []string{"host1"}); err == nil {
		t.Fatal("BuildPlan must reject a manifest naming an unregistered capability")
	}
}

func TestBuildPlanRejectsEmptyInputs(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(newDescriptor("kvp", "kvp", matchAll))

	if _, err := BuildPlan(reg, nil, []string{"host1"}); err == nil {
		t.Error("empty manifest must fail planning")
	}
	if _, err := BuildPlan(reg, []CapabilityID{"kvp"}, nil); err == nil {
		t.Error("empty inventory must fail planning")
	}
}
