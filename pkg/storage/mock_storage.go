package storage

import (
	"sync"
	"time"

	"github.com/aplowman/hpcflow-new/pkg/models"
)

// mockStore implements Store with in-memory storage, for unit tests.
type mockStore struct {
	mu          sync.Mutex
	workflows   []models.Workflow
	submissions []models.Submission
	cgSubs      []models.CommandGroupSubmission
	taskRuns    map[taskKey]*models.TaskRun
	nextID      int64
}

type taskKey struct {
	cgsID   int64
	taskIdx int
	iterIdx int
}

// NewMockStore returns an empty in-memory Store.
func NewMockStore() Store {
	return &mockStore{taskRuns: make(map[taskKey]*models.TaskRun)}
}

func (m *mockStore) Close() error {
	return nil
}

func (m *mockStore) SaveWorkflow(w models.Workflow) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	w.ID = m.nextID
	for i := range w.CommandGroups {
		m.nextID++
		w.CommandGroups[i].ID = m.nextID
		w.CommandGroups[i].WorkflowID = w.ID
	}
	m.workflows = append(m.workflows, w)
	return w.ID, nil
}

func (m *mockStore) GetWorkflow(id int64) (models.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.workflows {
		if w.ID == id {
			return w, nil
		}
	}
	return models.Workflow{}, ErrNotFound
}

func (m *mockStore) ListWorkflows() ([]models.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Workflow, len(m.workflows))
	copy(out, m.workflows)
	return out, nil
}

func (m *mockStore) SaveSubmission(s models.Submission) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	s.ID = m.nextID
	m.submissions = append(m.submissions, s)
	return s.ID, nil
}

func (m *mockStore) CountSubmissions(workflowID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.submissions {
		if s.WorkflowID == workflowID {
			n++
		}
	}
	return n, nil
}

func (m *mockStore) SaveCommandGroupSubmission(cs models.CommandGroupSubmission) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	cs.ID = m.nextID
	m.cgSubs = append(m.cgSubs, cs)
	return cs.ID, nil
}

func (m *mockStore) GetSubmissionContext(cgsID int64) (models.SubmissionContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ctx models.SubmissionContext
	found := false
	for _, cs := range m.cgSubs {
		if cs.ID == cgsID {
			ctx.CGSub = cs
			found = true
			break
		}
	}
	if !found {
		return models.SubmissionContext{}, ErrNotFound
	}
	for _, s := range m.submissions {
		if s.ID == ctx.CGSub.SubmissionID {
			ctx.Submission = s
		}
	}
	for _, w := range m.workflows {
		if w.ID == ctx.Submission.WorkflowID {
			ctx.Workflow = w
			for _, cg := range w.CommandGroups {
				if cg.ID == ctx.CGSub.CommandGroupID {
					ctx.CommandGroup = cg
				}
			}
		}
	}
	return ctx, nil
}

func (m *mockStore) SetSchedulerJobID(cgsID int64, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, cs := range m.cgSubs {
		if cs.ID == cgsID {
			m.cgSubs[i].SchedulerJobID = jobID
			return nil
		}
	}
	return ErrNotFound
}

func (m *mockStore) UpsertTaskStart(cgsID int64, taskIdx, iterIdx int, t time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := taskKey{cgsID, taskIdx, iterIdx}
	if run, ok := m.taskRuns[key]; ok {
		started := t
		run.StartedAt = &started
		return true, nil
	}
	started := t
	m.taskRuns[key] = &models.TaskRun{
		CGSubID:   cgsID,
		TaskIdx:   taskIdx,
		IterIdx:   iterIdx,
		StartedAt: &started,
	}
	return false, nil
}

func (m *mockStore) SetTaskEnd(cgsID int64, taskIdx, iterIdx int, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.taskRuns[taskKey{cgsID, taskIdx, iterIdx}]
	if !ok {
		return ErrNotFound
	}
	ended := t
	run.EndedAt = &ended
	return nil
}

func (m *mockStore) SetTaskArchived(cgsID int64, taskIdx, iterIdx int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.taskRuns[taskKey{cgsID, taskIdx, iterIdx}]
	if !ok {
		return ErrNotFound
	}
	run.Archived = true
	return nil
}

func (m *mockStore) SetTaskStats(cgsID int64, taskIdx, iterIdx int, stats string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.taskRuns[taskKey{cgsID, taskIdx, iterIdx}]
	if !ok {
		return ErrNotFound
	}
	run.Stats = stats
	return nil
}

func (m *mockStore) GetTaskRun(cgsID int64, taskIdx, iterIdx int) (models.TaskRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.taskRuns[taskKey{cgsID, taskIdx, iterIdx}]
	if !ok {
		return models.TaskRun{}, ErrNotFound
	}
	return *run, nil
}

func (m *mockStore) ListTaskRuns(cgsID int64) ([]models.TaskRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.TaskRun
	for _, run := range m.taskRuns {
		if run.CGSubID == cgsID {
			out = append(out, *run)
		}
	}
	return out, nil
}
