// Package expense owns the expense approval state machine. An expense is
// always in exactly one of six states; every transition is validated against
// the table below, guarded by the actor's role, and executed as a single
// serialisable unit of work.
package expense

// Status is one of the six workflow states.
type Status string

const (
	StatusDraft       Status = "DRAFT"
	StatusSubmitted   Status = "SUBMITTED"
	StatusApproved    Status = "APPROVED"
	StatusRejected    Status = "REJECTED"
	StatusResubmitted Status = "RESUBMITTED"
	StatusReimbursed  Status = "REIMBURSED" // terminal
)

// Event is a workflow transition trigger.
type Event string

const (
	EventSubmit    Event = "submit"
	EventApprove   Event = "approve"
	EventReject    Event = "reject"
	EventResubmit  Event = "resubmit"
	EventReimburse Event = "reimburse"
)

// transitions is the legal (state, event) → state table. Any pair absent
// here is INVALID_TRANSITION. Reimbursed has no outgoing edges.
var transitions = map[Status]map[Event]Status{
	StatusDraft: {
		EventSubmit: StatusSubmitted,
	},
	StatusSubmitted: {
		EventApprove: StatusApproved,
		EventReject:  StatusRejected,
	},
	StatusResubmitted: {
		EventApprove: StatusApproved,
		EventReject:  StatusRejected,
	},
	StatusRejected: {
		EventResubmit: StatusResubmitted,
	},
	StatusApproved: {
		EventReimburse: StatusReimbursed,
	},
}

// NextStatus resolves the target state for (from, event). ok is false when
// the event is not legal in the current state.
func NextStatus(from Status, event Event) (Status, bool) {
	next, ok := transitions[from][event]
	return next, ok
}

// ValidStatus reports whether s is one of the six workflow states.
func ValidStatus(s Status) bool {
	switch s {
	case StatusDraft, StatusSubmitted, StatusApproved, StatusRejected, StatusResubmitted, StatusReimbursed:
		return true
	}
	return false
}
