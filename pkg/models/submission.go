package models

import "time"

// Submission is one act of dispatching some of a workflow's command groups,
// over a task range, to a scheduler backend. It is never mutated after
// creation except through its command-group submissions.
type Submission struct {
	ID           int64     `json:"id" db:"id"`
	WorkflowID   int64     `json:"workflow_id" db:"workflow_id"`
	IterationIdx int       `json:"iteration_idx" db:"iteration_idx"` // Repetition counter; names the iter_<N> dir tree
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// CommandGroupSubmission is the execution unit handed to a scheduler backend:
// one command group within one submission.
type CommandGroupSubmission struct {
	ID                int64  `json:"id" db:"id"`
	SubmissionID      int64  `json:"submission_id" db:"submission_id"`
	CommandGroupID    int64  `json:"command_group_id" db:"command_group_id"`
	CommandGroupOrder int    `json:"command_group_order" db:"command_group_order"`
	MaxNumTasks       int    `json:"max_num_tasks" db:"max_num_tasks"`
	TaskStepSize      int    `json:"task_step_size" db:"task_step_size"`
	SchedulerJobID    string `json:"scheduler_job_id,omitempty" db:"scheduler_job_id"` // Native job id, recorded after enqueue
}

// SubmissionContext bundles everything a per-task callback needs to resolve
// from a command-group-submission id: the owning rows up to the workflow.
type SubmissionContext struct {
	Workflow     Workflow
	CommandGroup CommandGroup
	Submission   Submission
	CGSub        CommandGroupSubmission
}
