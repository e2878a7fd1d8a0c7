package core

type POStatus string

const (
	POStatusDraft           POStatus = "draft"
	POStatusPendingApproval POStatus = "pending_approval"
	POStatusApproved        POStatus = "approved"
	POStatusConfirmed       POStatus = "confirmed"
	POStatusSent            POStatus = "sent"
	POStatusReceived        POStatus = "received"
	POStatusCancelled       POStatus = "cancelled"
)

// poTransitions lists the legal outgoing transitions per status. cancelled has none.
var poTransitions = map[POStatus][]POStatus{
	POStatusDraft:           {POStatusPendingApproval, POStatusApproved, POStatusCancelled},
	POStatusPendingApproval: {POStatusApproved, POStatusDraft, POStatusCancelled},
	POStatusApproved:        {POStatusSent, POStatusReceived, POStatusConfirmed, POStatusCancelled},
	POStatusConfirmed:       {POStatusCancelled},
	POStatusSent:            {POStatusReceived, POStatusApproved, POStatusConfirmed, POStatusCancelled},
	POStatusReceived:        {POStatusConfirmed, POStatusCancelled},
	POStatusCancelled:       {},
}

func (s POStatus) Valid() bool {
	_, ok := poTransitions[s]
	return ok
}

// CanTransition reports whether from -> to is allowed. A transition to the same
// status is always allowed and is treated as a no-op by callers.
func CanTransition(from, to POStatus) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from == to {
		return true
	}
	for _, next := range poTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NextStatuses returns the statuses reachable from s in one step.
func NextStatuses(s POStatus) []POStatus {
	return append([]POStatus(nil), poTransitions[s]...)
}

// Linkable reports whether invoices may be linked to a purchase order in status s.
func (s POStatus) Linkable() bool {
	switch s {
	case POStatusApproved, POStatusConfirmed, POStatusSent, POStatusReceived:
		return true
	}
	return false
}
