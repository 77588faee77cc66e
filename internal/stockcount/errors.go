package stockcount

import (
	"fmt"
	"time"

	"stockline/backend/internal/domain"
)

type IncompleteCountError struct {
	ID      string
	Counted int
	Total   int
}

func (e *IncompleteCountError) Error() string {
	return fmt.Sprintf("stock count %s is incomplete: %d of %d items counted", e.ID, e.Counted, e.Total)
}

type AlreadyFinalizedError struct {
	ID          string
	CompletedAt *time.Time
}

func (e *AlreadyFinalizedError) Error() string {
	return fmt.Sprintf("stock count %s is already finalized", e.ID)
}

// InvalidStateError reports an operation the count's current status forbids.
type InvalidStateError struct {
	ID     string
	Status domain.StockCountStatus
	Action string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s stock count %s in status %s", e.Action, e.ID, e.Status)
}
