package progressnote

import (
	"testing"

	"github.com/carelink/carelink/internal/platform/apperr"
)

func TestTransition(t *testing.T) {
	cases := []struct {
		name    string
		current Status
		event   Event
		want    Status
		wantErr bool
	}{
		{"draft autosave", StatusDraft, EventAutosave, StatusDraft, false},
		{"draft finalize", StatusDraft, EventFinalize, StatusFinalized, false},
		{"finalized autosave", StatusFinalized, EventAutosave, "", true},
		{"finalized finalize", StatusFinalized, EventFinalize, "", true},
		{"unknown status", Status("bogus"), EventAutosave, "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Transition(tc.current, tc.event)
			if tc.wantErr {
				if !apperr.IsKind(err, apperr.KindConflict) {
					t.Fatalf("expected conflict, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("Transition = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestTransition_FinalizedEditMessage(t *testing.T) {
	_, err := Transition(StatusFinalized, EventAutosave)
	if err == nil || err.Error() != "finalized notes are immutable; use amendment flow" {
		t.Errorf("unexpected message: %v", err)
	}
}
