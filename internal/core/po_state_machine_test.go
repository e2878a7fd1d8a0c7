package core

import "testing"

var allPOStatuses = []POStatus{
	POStatusDraft, POStatusPendingApproval, POStatusApproved, POStatusConfirmed,
	POStatusSent, POStatusReceived, POStatusCancelled,
}

func TestCanTransition_Table(t *testing.T) {
	allowed := map[POStatus]map[POStatus]bool{
		POStatusDraft:           {POStatusPendingApproval: true, POStatusApproved: true, POStatusCancelled: true},
		POStatusPendingApproval: {POStatusApproved: true, POStatusDraft: true, POStatusCancelled: true},
		POStatusApproved:        {POStatusSent: true, POStatusReceived: true, POStatusConfirmed: true, POStatusCancelled: true},
		POStatusConfirmed:       {POStatusCancelled: true},
		POStatusSent:            {POStatusReceived: true, POStatusApproved: true, POStatusConfirmed: true, POStatusCancelled: true},
		POStatusReceived:        {POStatusConfirmed: true, POStatusCancelled: true},
		POStatusCancelled:       {},
	}

	for _, from := range allPOStatuses {
		for _, to := range allPOStatuses {
			want := from == to || allowed[from][to]
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestCanTransition_CancelledIsTerminal(t *testing.T) {
	if n := NextStatuses(POStatusCancelled); len(n) != 0 {
		t.Errorf("cancelled has outgoing transitions: %v", n)
	}
	for _, to := range allPOStatuses {
		if to != POStatusCancelled && CanTransition(POStatusCancelled, to) {
			t.Errorf("cancelled -> %s allowed", to)
		}
	}
}

func TestCanTransition_UnknownStatus(t *testing.T) {
	if CanTransition("paid", POStatusDraft) || CanTransition(POStatusDraft, "archived") {
		t.Error("unknown statuses must never transition")
	}
	if CanTransition("paid", "paid") {
		t.Error("unknown status same-status transition must be rejected")
	}
}
