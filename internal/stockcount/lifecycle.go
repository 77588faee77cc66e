package stockcount

import (
	"context"

	"github.com/looplab/fsm"

	"stockline/backend/internal/domain"
)

const (
	eventStart    = "start"
	eventComplete = "complete"
	eventCancel   = "cancel"
)

var lifecycleEvents = fsm.Events{
	{Name: eventStart, Src: []string{string(domain.CountDraft)}, Dst: string(domain.CountInProgress)},
	{Name: eventComplete, Src: []string{string(domain.CountInProgress)}, Dst: string(domain.CountCompleted)},
	{Name: eventCancel, Src: []string{string(domain.CountDraft), string(domain.CountInProgress)}, Dst: string(domain.CountCancelled)},
}

// lifecycle wraps a state machine positioned at the count's stored status.
type lifecycle struct {
	machine *fsm.FSM
}

func newLifecycle(status domain.StockCountStatus) *lifecycle {
	return &lifecycle{machine: fsm.NewFSM(string(status), lifecycleEvents, fsm.Callbacks{})}
}

func (l *lifecycle) can(event string) bool {
	return l.machine.Can(event)
}

func (l *lifecycle) fire(ctx context.Context, event string) (domain.StockCountStatus, error) {
	if err := l.machine.Event(ctx, event); err != nil {
		return l.status(), err
	}
	return l.status(), nil
}

func (l *lifecycle) status() domain.StockCountStatus {
	return domain.StockCountStatus(l.machine.Current())
}
