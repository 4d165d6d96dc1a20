package stepper

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dennisdiepolder/dispatchdesk/internal/dispatch"
	"github.com/dennisdiepolder/dispatchdesk/internal/session"
	"github.com/dennisdiepolder/dispatchdesk/internal/types"
	"github.com/rs/zerolog"
)

var (
	ErrNavigationBlocked    = errors.New("navigation blocked")
	ErrConfirmationRequired = errors.New("ending the call session requires confirmation")
)

// Step is one page of the console workflow
type Step struct {
	Name     session.StepName `json:"name"`
	Label    string           `json:"label"`
	Path     string           `json:"path"`
	Optional bool             `json:"optional"`
}

// Steps in display order
var Steps = []Step{
	{Name: session.StepDashboard, Label: "Dashboard", Path: "/dashboard"},
	{Name: session.StepServices, Label: "Services", Path: "/services"},
	{Name: session.StepScheduling, Label: "Scheduling", Path: "/scheduling", Optional: true},
	{Name: session.StepServiceman, Label: "Serviceman", Path: "/serviceman"},
}

// StepStatus is a step as rendered by the console
type StepStatus struct {
	Step
	Completed bool `json:"completed"`
	Current   bool `json:"current"`
}

// View is the stepper payload of GET /api/console/stepper
type View struct {
	Active  bool             `json:"active"`
	Current session.StepName `json:"current,omitempty"`
	Steps   []StepStatus     `json:"steps"`
}

// CurrentIndex returns the step whose path prefixes route
func CurrentIndex(route string) (int, bool) {
	for i, s := range Steps {
		if strings.HasPrefix(route, s.Path) {
			return i, true
		}
	}
	return 0, false
}

func indexOf(name session.StepName) (int, bool) {
	for i, s := range Steps {
		if s.Name == name {
			return i, true
		}
	}
	return 0, false
}

// Completed reports whether the defining field of a step is present in snap
func Completed(snap session.Snapshot, name session.StepName) bool {
	data := snap.Steps[name]
	switch name {
	case session.StepDashboard:
		return nonEmpty(data["ticketId"])
	case session.StepServices:
		return nonEmpty(data["selectedServices"])
	case session.StepScheduling:
		return nonEmpty(data["selectedDate"])
	case session.StepServiceman:
		return snap.Workflow != nil && snap.Workflow.Stage == types.StageDispatched
	}
	return false
}

// nonEmpty handles values both as written and as decoded back from JSON
func nonEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case map[string][]string:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	case []any:
		return len(t) > 0
	}
	return true
}

// Build renders the stepper for route
func Build(snap session.Snapshot, route string) View {
	current, ok := CurrentIndex(route)
	v := View{Active: snap.Session != nil, Steps: make([]StepStatus, len(Steps))}
	if ok {
		v.Current = Steps[current].Name
	}
	for i, s := range Steps {
		v.Steps[i] = StepStatus{
			Step:      s,
			Completed: Completed(snap, s.Name),
			Current:   ok && i == current,
		}
	}
	return v
}

// CheckNavigation gates a jump from route to target. Moving back or one step
// forward is always allowed; further jumps need the step just before the target
// to be completed or optional.
func CheckNavigation(snap session.Snapshot, route string, target session.StepName) error {
	to, ok := indexOf(target)
	if !ok {
		return fmt.Errorf("%w: %q", session.ErrUnknownStep, target)
	}
	from, _ := CurrentIndex(route)
	if to <= from+1 {
		return nil
	}

	prev := Steps[to-1]
	if prev.Optional || Completed(snap, prev.Name) {
		return nil
	}
	return fmt.Errorf("%w: please complete the %s step before continuing to %s",
		ErrNavigationBlocked, prev.Label, Steps[to].Label)
}

// SessionEnder clears a tab's session, releasing any claimed order
type SessionEnder interface {
	EndSession(ctx context.Context, a dispatch.Actor)
}

// Stepper serves the console stepper of every tab
type Stepper struct {
	sessions *session.Manager
	ender    SessionEnder
	logger   zerolog.Logger
}

// NewStepper creates a new stepper
func NewStepper(sessions *session.Manager, ender SessionEnder, logger zerolog.Logger) *Stepper {
	return &Stepper{
		sessions: sessions,
		ender:    ender,
		logger:   logger.With().Str("component", "stepper").Logger(),
	}
}

// View renders the tab's stepper for route
func (s *Stepper) View(ctx context.Context, a dispatch.Actor, route string) View {
	return Build(s.sessions.Get(ctx, a.UID, a.Tab).Snapshot(), route)
}

// Navigate returns the path of target, or the reason the jump is blocked
func (s *Stepper) Navigate(ctx context.Context, a dispatch.Actor, route string, target session.StepName) (string, error) {
	snap := s.sessions.Get(ctx, a.UID, a.Tab).Snapshot()
	if err := CheckNavigation(snap, route, target); err != nil {
		if errors.Is(err, ErrNavigationBlocked) {
			s.logger.Debug().Str("uid", a.UID).Str("route", route).Str("target", string(target)).Msg("navigation blocked")
		}
		return "", err
	}
	i, _ := indexOf(target)
	return Steps[i].Path, nil
}

// EndSession clears the tab's session once the agent confirmed it and returns
// the route to go back to.
func (s *Stepper) EndSession(ctx context.Context, a dispatch.Actor, confirm bool) (string, error) {
	if !confirm {
		return "", ErrConfirmationRequired
	}
	s.ender.EndSession(ctx, a)
	s.logger.Info().Str("uid", a.UID).Str("tab", a.Tab).Msg("call session ended by agent")
	return "/", nil
}
