package ledger

import "encoding/json"

// Derive folds a sequence of operations into the id -> Task map they
// produce. The fold is pure and total: malformed or out-of-order
// operations against an unknown id are silently ignored rather than
// raised (see ledger.go for the one case that does abort, a failed read
// of the file; malformed JSONL lines are skipped there with a warning).
func Derive(ops []TaskOperation) map[string]*Task {
	state := make(map[string]*Task)
	for _, op := range ops {
		applyOp(state, op)
	}
	return state
}

func applyOp(state map[string]*Task, op TaskOperation) {
	switch op.Kind {
	case OpCreate:
		if op.Task == nil || op.Task.ID == "" {
			return
		}
		state[op.Task.ID] = op.Task.Clone()

	case OpUpdate:
		task, ok := state[op.ID]
		if !ok {
			return
		}
		merged := mergeChanges(task, op.Changes)
		merged.UpdatedAt = op.Timestamp
		state[op.ID] = merged

	case OpLink:
		task, ok := state[op.ID]
		if !ok {
			return
		}
		task.ExternalID = op.ExternalID
		task.ExternalURL = op.ExternalURL
		task.UpdatedAt = op.Timestamp

	case OpRelate:
		task, ok := state[op.ID]
		if !ok {
			return
		}
		applyRelate(task, op)
		task.UpdatedAt = op.Timestamp
	}
}

func applyRelate(task *Task, op TaskOperation) {
	switch op.RelationKind {
	case RelationBlocks:
		task.Blocks = append(task.Blocks, op.TargetID)
	case RelationBlockedBy:
		task.BlockedBy = append(task.BlockedBy, op.TargetID)
	case RelationParent:
		task.Parent = op.TargetID
	case RelationSubtask:
		task.Subtasks = append(task.Subtasks, op.TargetID)
	}
}

// mergeChanges shallow-merges a changes map onto a clone of task. It
// round-trips through JSON so callers can pass arbitrary
// partial-field maps (as produced by the scheduler, the tracker-sync
// pull phase, or a rehydrated progress event) without hand-writing a
// setter per field.
func mergeChanges(task *Task, changes map[string]any) *Task {
	if len(changes) == 0 {
		return task.Clone()
	}

	raw, err := json.Marshal(task)
	if err != nil {
		return task.Clone()
	}
	var asMap map[string]any
	if err := json.Unmarshal(raw, &asMap); err != nil {
		return task.Clone()
	}

	for k, v := range changes {
		asMap[k] = v
	}

	merged, err := json.Marshal(asMap)
	if err != nil {
		return task.Clone()
	}
	var out Task
	if err := json.Unmarshal(merged, &out); err != nil {
		return task.Clone()
	}
	return &out
}
