package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/appointflow/notifier/internal/core"
	"github.com/appointflow/notifier/internal/domain/model"
)

// memRunRepo is an in-memory RunRepository with the same guarded transitions as the SQL store.
type memRunRepo struct {
	mu     sync.Mutex
	runs   map[string]*model.NotificationRun
	order  []string
	nextID int

	now func() time.Time

	heartbeatOK bool
	heartbeats  int
	beginWaits  []core.BeginWaitRequest
	transitions []string
	createErr   error
}

var _ core.RunRepository = (*memRunRepo)(nil)

func newMemRunRepo(now func() time.Time) *memRunRepo {
	return &memRunRepo{
		runs:        make(map[string]*model.NotificationRun),
		now:         now,
		heartbeatOK: true,
	}
}

// put stores a run directly, bypassing Create.
func (m *memRunRepo) put(run *model.NotificationRun) *model.NotificationRun {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = run
	m.order = append(m.order, run.ID)
	return run
}

func (m *memRunRepo) state(id string) model.RunState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs[id].State
}

func (m *memRunRepo) Create(_ context.Context, req *model.CreateRunRequest) (*model.NotificationRun, bool, error) {
	if m.createErr != nil {
		return nil, false, m.createErr
	}
	if err := req.Validate(); err != nil {
		return nil, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if req.DedupeKey != "" {
		for _, id := range m.order {
			if r := m.runs[id]; r.DedupeKey != nil && *r.DedupeKey == req.DedupeKey {
				return r, false, nil
			}
		}
	}
	payload, err := json.Marshal(req.Payload)
	if err != nil {
		return nil, false, err
	}
	m.nextID++
	run := &model.NotificationRun{
		ID:            fmt.Sprintf("run-%d", m.nextID),
		Kind:          req.Kind,
		State:         model.RunStatePending,
		EventID:       req.EventSnapshot.ID,
		EventSnapshot: req.EventSnapshot,
		Payload:       payload,
		MaxAttempts:   req.MaxAttempts,
		AvailableAt:   m.now(),
		CreatedAt:     m.now(),
	}
	if req.DedupeKey != "" {
		key := req.DedupeKey
		run.DedupeKey = &key
	}
	m.runs[run.ID] = run
	m.order = append(m.order, run.ID)
	return run, true, nil
}

func (m *memRunRepo) GetByID(_ context.Context, id string) (*model.NotificationRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, model.ErrRunNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memRunRepo) List(_ context.Context, opts model.RunListOptions) ([]*model.NotificationRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.NotificationRun, 0, len(m.order))
	for _, id := range m.order {
		r := m.runs[id]
		if opts.State != nil && r.State != *opts.State {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (m *memRunRepo) Stats(context.Context) (*model.RunStats, error) {
	return &model.RunStats{}, nil
}

func (m *memRunRepo) ReserveNext(_ context.Context, lease time.Duration) (*model.NotificationRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := append([]string(nil), m.order...)
	sort.SliceStable(ids, func(i, j int) bool {
		return m.runs[ids[i]].AvailableAt.Before(m.runs[ids[j]].AvailableAt)
	})
	now := m.now()
	for _, id := range ids {
		r := m.runs[id]
		if r.State.Terminal() || r.AvailableAt.After(now) {
			continue
		}
		if r.LeaseExpiresAt != nil && r.LeaseExpiresAt.After(now) {
			continue
		}
		exp := now.Add(lease)
		r.LeaseExpiresAt = &exp
		cp := *r
		return &cp, nil
	}
	return nil, model.ErrNoRunsAvailable
}

func (m *memRunRepo) WaitForNotification(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (m *memRunRepo) NextAvailableAt(context.Context) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var next *time.Time
	for _, r := range m.runs {
		if r.State.Terminal() {
			continue
		}
		at := r.AvailableAt
		if next == nil || at.Before(*next) {
			next = &at
		}
	}
	return next, nil
}

func (m *memRunRepo) Heartbeat(_ context.Context, id string, lease time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heartbeats++
	if !m.heartbeatOK {
		return false, nil
	}
	if r, ok := m.runs[id]; ok {
		exp := m.now().Add(lease)
		r.LeaseExpiresAt = &exp
	}
	return true, nil
}

func (m *memRunRepo) BeginWait(_ context.Context, req core.BeginWaitRequest) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.beginWaits = append(m.beginWaits, req)
	r, ok := m.runs[req.ID]
	if !ok || r.State != model.RunStatePending {
		return false, nil
	}
	r.State = model.RunStateWaiting
	at := req.ScheduledFor
	r.ScheduledFor = &at
	r.AvailableAt = at
	if req.Release {
		r.LeaseExpiresAt = nil
	}
	m.transitions = append(m.transitions, "pending->waiting")
	return true, nil
}

func (m *memRunRepo) Advance(_ context.Context, id string, from, to model.RunState) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok || r.State != from || !from.CanTransition(to) {
		return false, nil
	}
	r.State = to
	m.transitions = append(m.transitions, string(from)+"->"+string(to))
	return true, nil
}

func (m *memRunRepo) Finish(_ context.Context, req model.FinishRequest) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[req.ID]
	if !ok || r.State != req.From || !req.From.CanTransition(req.To) {
		return false, nil
	}
	r.State = req.To
	r.SentCount = req.Sent
	r.FailedCount = req.Failed
	now := m.now()
	r.CompletedAt = &now
	r.LeaseExpiresAt = nil
	m.transitions = append(m.transitions, string(req.From)+"->"+string(req.To))
	return true, nil
}

func (m *memRunRepo) Fail(_ context.Context, id, errMsg string) (model.RunState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return "", model.ErrRunNotFound
	}
	r.AttemptCount++
	r.LastError = &errMsg
	r.LeaseExpiresAt = nil
	if r.MaxAttempts > 0 && r.AttemptCount >= r.MaxAttempts {
		r.State = model.RunStateFailed
	}
	return r.State, nil
}

// memStepStore is an in-memory StepStore where the first write wins.
type memStepStore struct {
	mu      sync.Mutex
	steps   map[string]json.RawMessage
	keys    []string
	saves   map[string]int
	getErr  error
	saveErr error
}

var _ core.StepStore = (*memStepStore)(nil)

func newMemStepStore() *memStepStore {
	return &memStepStore{steps: make(map[string]json.RawMessage), saves: make(map[string]int)}
}

func (m *memStepStore) Get(_ context.Context, runID, key string) (json.RawMessage, bool, error) {
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.steps[runID+"/"+key]
	return v, ok, nil
}

func (m *memStepStore) Save(_ context.Context, runID, key string, result any) (json.RawMessage, error) {
	if m.saveErr != nil {
		return nil, m.saveErr
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k := runID + "/" + key
	m.saves[key]++
	if existing, ok := m.steps[k]; ok {
		return existing, nil
	}
	m.steps[k] = raw
	m.keys = append(m.keys, k)
	return raw, nil
}

func (m *memStepStore) List(_ context.Context, runID string) ([]model.StepRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.StepRecord
	for _, k := range m.keys {
		if len(k) > len(runID) && k[:len(runID)+1] == runID+"/" {
			out = append(out, model.StepRecord{RunID: runID, Key: k[len(runID)+1:], Result: m.steps[k]})
		}
	}
	return out, nil
}

func (m *memStepStore) has(runID, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.steps[runID+"/"+key]
	return ok
}

// stubRegistrations returns queued errors, then its list.
type stubRegistrations struct {
	mu    sync.Mutex
	list  []model.Recipient
	errs  []error
	calls int
}

func (s *stubRegistrations) ListRegistered(context.Context, string) ([]model.Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return nil, err
	}
	return s.list, nil
}

// stubFlags returns fixed flags or an error.
type stubFlags struct {
	flags model.EventFlags
	err   error
	calls int
}

func (s *stubFlags) GetEventFlags(context.Context, string) (model.EventFlags, error) {
	s.calls++
	return s.flags, s.err
}

// recordingTransport records every email and fails for configured addresses.
type recordingTransport struct {
	mu     sync.Mutex
	sent   []model.Email
	failTo map[string]error
}

func (t *recordingTransport) Send(_ context.Context, email model.Email) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.failTo[email.To.Email]; err != nil {
		return "", err
	}
	t.sent = append(t.sent, email)
	return fmt.Sprintf("msg-%d", len(t.sent)), nil
}

func (t *recordingTransport) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sent)
}

// memMarker is an in-memory SentMarker.
type memMarker struct {
	mu      sync.Mutex
	keys    map[string]bool
	readErr error
	marked  []string
}

func newMemMarker() *memMarker { return &memMarker{keys: make(map[string]bool)} }

func (m *memMarker) Sent(_ context.Context, key string) (bool, error) {
	if m.readErr != nil {
		return false, m.readErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.keys[key], nil
}

func (m *memMarker) MarkSent(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key] = true
	m.marked = append(m.marked, key)
	return nil
}

// recordingPublisher captures published outcomes.
type recordingPublisher struct {
	mu       sync.Mutex
	outcomes []model.RunOutcome
	err      error
}

func (p *recordingPublisher) Publish(_ context.Context, o model.RunOutcome) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outcomes = append(p.outcomes, o)
	return p.err
}

// recordingSleep records requested pauses without sleeping.
type recordingSleep struct {
	mu     sync.Mutex
	pauses []time.Duration
}

func (r *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pauses = append(r.pauses, d)
	return ctx.Err()
}
