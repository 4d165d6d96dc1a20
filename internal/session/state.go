package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dennisdiepolder/dispatchdesk/internal/types"
	"github.com/rs/zerolog"
)

// ErrUnknownStep is returned for step names outside Steps
var ErrUnknownStep = errors.New("unknown step")

// StepName identifies one console step
type StepName string

const (
	StepDashboard  StepName = "dashboard"
	StepServices   StepName = "services"
	StepScheduling StepName = "scheduling"
	StepServiceman StepName = "serviceman"
)

// Steps lists the console steps in order
var Steps = []StepName{StepDashboard, StepServices, StepScheduling, StepServiceman}

// ParseStep validates a step name
func ParseStep(s string) (StepName, error) {
	for _, step := range Steps {
		if string(step) == s {
			return step, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStep, s)
}

// StepData is the partial record accumulated for one step
type StepData map[string]any

// Snapshot is the persisted form of one tab's state
type Snapshot struct {
	Session  *types.CallSession    `json:"session"`
	Steps    map[StepName]StepData `json:"steps"`
	Workflow *types.WorkflowState  `json:"workflow,omitempty"`
}

func emptySteps() map[StepName]StepData {
	steps := make(map[StepName]StepData, len(Steps))
	for _, s := range Steps {
		steps[s] = StepData{}
	}
	return steps
}

// State is the active call session of one console tab. All mutations are
// serialized by mu and persisted through the storage adapter afterwards.
type State struct {
	mu      sync.Mutex
	key     string
	snap    Snapshot
	storage Storage
	logger  zerolog.Logger
}

func newState(key string, storage Storage, logger zerolog.Logger) *State {
	return &State{
		key:     key,
		snap:    Snapshot{Steps: emptySteps()},
		storage: storage,
		logger:  logger,
	}
}

// restore loads the persisted snapshot verbatim
func (s *State) restore(ctx context.Context) {
	snap, err := s.storage.Load(ctx, s.key)
	if err != nil {
		if !errors.Is(err, ErrNotPersisted) {
			s.logger.Error().Err(err).Str("tab", s.key).Msg("Failed to restore session state")
		}
		return
	}
	if snap.Steps == nil {
		snap.Steps = emptySteps()
	}
	for _, step := range Steps {
		if snap.Steps[step] == nil {
			snap.Steps[step] = StepData{}
		}
	}
	s.snap = *snap
	s.logger.Debug().Str("tab", s.key).Bool("active", snap.Session != nil).Msg("Session state restored")
}

// Key returns the tab key
func (s *State) Key() string {
	return s.key
}

// Snapshot returns a copy of the current state
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneSnapshot(s.snap)
}

// Active reports whether a call session is running
func (s *State) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.Session != nil && s.snap.Session.IsActive
}

// StartCallSession replaces any current session with a fresh one seeded with initial dashboard data
func (s *State) StartCallSession(ctx context.Context, initial StepData) types.CallSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := types.CallSession{
		SessionID: nextSessionID(),
		StartTime: time.Now(),
		IsActive:  true,
	}
	steps := emptySteps()
	for k, v := range initial {
		steps[StepDashboard][k] = v
	}

	s.snap = Snapshot{Session: &sess, Steps: steps}
	s.persist(ctx)
	return sess
}

// UpdateStepData shallow-merges partial into the named step. Existing keys are
// overwritten, never removed.
func (s *State) UpdateStepData(ctx context.Context, step StepName, partial StepData) error {
	if _, err := ParseStep(string(step)); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data := s.snap.Steps[step]
	if data == nil {
		data = StepData{}
		s.snap.Steps[step] = data
	}
	for k, v := range partial {
		data[k] = v
	}
	s.persist(ctx)
	return nil
}

// EndCallSession clears session, steps and workflow and removes the persisted entry.
// It returns the state as it was before clearing.
func (s *State) EndCallSession(ctx context.Context) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	ended := s.snap
	s.snap = Snapshot{Steps: emptySteps()}

	if err := s.storage.Remove(ctx, s.key); err != nil {
		s.logger.Error().Err(err).Str("tab", s.key).Msg("Failed to remove persisted session state")
	}
	return ended
}

// Workflow returns a copy of the workflow state, or nil when none is running
func (s *State) Workflow() *types.WorkflowState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneWorkflow(s.snap.Workflow)
}

// UpdateWorkflow applies fn to the workflow state atomically. If fn returns an
// error the state is left unchanged.
func (s *State) UpdateWorkflow(ctx context.Context, fn func(ws *types.WorkflowState) error) (types.WorkflowState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var working types.WorkflowState
	if s.snap.Workflow != nil {
		working = *cloneWorkflow(s.snap.Workflow)
	}
	if err := fn(&working); err != nil {
		return types.WorkflowState{}, err
	}

	s.snap.Workflow = &working
	s.persist(ctx)
	return *cloneWorkflow(&working), nil
}

// persist writes the snapshot; errors are logged and never roll back the mutation
func (s *State) persist(ctx context.Context) {
	if err := s.storage.Save(ctx, s.key, cloneSnapshot(s.snap)); err != nil {
		s.logger.Error().Err(err).Str("tab", s.key).Msg("Failed to persist session state")
	}
}

func cloneSnapshot(in Snapshot) Snapshot {
	out := Snapshot{Steps: make(map[StepName]StepData, len(in.Steps))}
	if in.Session != nil {
		sess := *in.Session
		out.Session = &sess
	}
	for step, data := range in.Steps {
		cp := make(StepData, len(data))
		for k, v := range data {
			cp[k] = v
		}
		out.Steps[step] = cp
	}
	out.Workflow = cloneWorkflow(in.Workflow)
	return out
}

func cloneWorkflow(in *types.WorkflowState) *types.WorkflowState {
	if in == nil {
		return nil
	}
	out := *in
	if in.Services != nil {
		out.Services = make(map[string][]string, len(in.Services))
		for k, v := range in.Services {
			out.Services[k] = append([]string(nil), v...)
		}
	}
	return &out
}
