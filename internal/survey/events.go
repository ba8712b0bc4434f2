package survey

import (
	"context"

	"swot-insights/internal/models"
)

// EventKind names a state change published by the orchestrator.
type EventKind string

const (
	EventStepCompleted       EventKind = "step_completed"
	EventDraftUpdated        EventKind = "draft_updated"
	EventGenerationStarted   EventKind = "generation_started"
	EventGenerationSucceeded EventKind = "generation_succeeded"
	EventGenerationFailed    EventKind = "generation_failed"
	EventActionToggled       EventKind = "action_toggled"
	EventRestarted           EventKind = "restarted"
)

// Event carries a snapshot of the answers after the change.
type Event struct {
	Kind      EventKind
	SessionID string
	Index     int
	Step      models.StepName
	Answers   models.Answers
	// Immediate asks persistence to skip the debounce window.
	Immediate bool
}

// Subscriber reacts to orchestrator events. Subscribers run in order while
// the orchestrator holds its lock, so they must not call back into it.
type Subscriber func(ctx context.Context, ev Event) error

// Saver is the persistence side the orchestrator feeds.
type Saver interface {
	Save(ctx context.Context, data models.Answers, immediate bool) error
	Clear(ctx context.Context, all bool) error
}

// PersistTo mirrors answer changes into s. Restarts clear the form records.
func PersistTo(s Saver) Subscriber {
	return func(ctx context.Context, ev Event) error {
		switch ev.Kind {
		case EventRestarted:
			return s.Clear(ctx, false)
		case EventGenerationStarted, EventGenerationFailed:
			return nil
		default:
			return s.Save(ctx, ev.Answers, ev.Immediate)
		}
	}
}
