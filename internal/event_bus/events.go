package event_bus

import "time"

const (
	// EventChildGenerated is published for every child entry the recurring
	// engine materializes.
	EventChildGenerated EventType = "recurring.child_generated"
	// EventRecurrenceEnded is published when a recurring parent is
	// deactivated because its end date was exceeded.
	EventRecurrenceEnded EventType = "recurring.ended"
)

type ChildGenerated struct {
	ParentID int64
	ChildID  int64
	Kind     string
	Date     time.Time
}

type RecurrenceEnded struct {
	ParentID int64
	Kind     string
	EndDate  time.Time
}
