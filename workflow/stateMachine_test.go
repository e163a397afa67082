package workflow

import (
	"testing"

	"github.com/mmdatafocus/mes_backend/models"
)

func TestOperationTransitions(t *testing.T) {
	cases := []struct {
		from    models.OperationStatus
		to      models.OperationStatus
		allowed bool
	}{
		{models.OperationStatusNotStarted, models.OperationStatusReady, true},
		{models.OperationStatusNotStarted, models.OperationStatusConfirmed, false},
		{models.OperationStatusReady, models.OperationStatusInProgress, true},
		{models.OperationStatusReady, models.OperationStatusConfirmed, true},
		{models.OperationStatusReady, models.OperationStatusOnHold, true},
		{models.OperationStatusReady, models.OperationStatusBlocked, true},
		{models.OperationStatusInProgress, models.OperationStatusConfirmed, true},
		{models.OperationStatusInProgress, models.OperationStatusReady, false},
		{models.OperationStatusOnHold, models.OperationStatusInProgress, true},
		{models.OperationStatusOnHold, models.OperationStatusConfirmed, false},
		{models.OperationStatusBlocked, models.OperationStatusReady, true},
		{models.OperationStatusBlocked, models.OperationStatusConfirmed, false},
		// Rejection path only.
		{models.OperationStatusConfirmed, models.OperationStatusReady, true},
		{models.OperationStatusConfirmed, models.OperationStatusInProgress, false},
	}
	for _, tc := range cases {
		if got := CanTransitionOperation(tc.from, tc.to); got != tc.allowed {
			t.Errorf("%s -> %s: expected %v, got %v", tc.from, tc.to, tc.allowed, got)
		}
	}
}

func TestIsConfirmable(t *testing.T) {
	confirmable := map[models.OperationStatus]bool{
		models.OperationStatusNotStarted: false,
		models.OperationStatusReady:      true,
		models.OperationStatusInProgress: true,
		models.OperationStatusConfirmed:  false,
		models.OperationStatusOnHold:     false,
		models.OperationStatusBlocked:    false,
	}
	for status, want := range confirmable {
		if got := IsConfirmable(status); got != want {
			t.Errorf("IsConfirmable(%s): expected %v, got %v", status, want, got)
		}
	}
}
