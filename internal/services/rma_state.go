package services

import (
	"slices"

	domain "github.com/Sad0asc0Sh/user-sub000/internal/domain"
)

var rmaStateTransitions = map[RMAStatus][]RMAStatus{
	domain.RMAStatusPending:    {domain.RMAStatusApproved, domain.RMAStatusRejected},
	domain.RMAStatusApproved:   {domain.RMAStatusProcessing},
	domain.RMAStatusProcessing: {domain.RMAStatusCompleted},
}

// ParseRMAStatus validates a return status name received from a caller.
func ParseRMAStatus(value string) (RMAStatus, bool) {
	status := RMAStatus(value)
	switch status {
	case domain.RMAStatusPending, domain.RMAStatusApproved, domain.RMAStatusRejected,
		domain.RMAStatusProcessing, domain.RMAStatusCompleted:
		return status, true
	}
	return "", false
}

func canTransitionRMA(current, target RMAStatus) bool {
	return slices.Contains(rmaStateTransitions[current], target)
}

// claimsQuantity reports whether an RMA in this status still holds its returned quantities.
func claimsQuantity(status RMAStatus) bool {
	return status != domain.RMAStatusRejected
}
