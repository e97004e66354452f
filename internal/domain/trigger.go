package domain

import (
	"time"

	"github.com/google/uuid"
)

// FireSource records which mechanism emitted a FireEvent.
type FireSource string

const (
	FireSourceTimer      FireSource = "timer"
	FireSourceReconciler FireSource = "reconciler"
)

// FireEvent asks the executor to run a job whose timer has elapsed.
type FireEvent struct {
	JobID     uuid.UUID
	FireAt    time.Time // intended fire time (UTC)
	EmittedAt time.Time
	Source    FireSource
}
