package approval

import (
	"testing"

	"github.com/sahidur/ams-sub001/model"
)

func act(typ model.ActionType, level int, comment string) model.ApprovalAction {
	return model.ApprovalAction{Type: typ, Level: level, ActorID: "someone", Comment: comment}
}

func TestApply(t *testing.T) {
	pending := func(level int) State { return State{Status: model.StatusPending, Level: level, TotalLevels: 2} }

	tests := []struct {
		name     string
		state    State
		action   model.ApprovalAction
		want     State
		wantCode string
	}{
		{"submit draft", Initial(2), act(model.ActionSubmit, 1, ""), pending(1), ""},
		{"submit sent back", State{model.StatusSentBack, 2, 2}, act(model.ActionSubmit, 1, ""), pending(1), ""},
		{"submit pending", pending(1), act(model.ActionSubmit, 1, ""), State{}, model.ErrInvalidState},
		{"submit without levels", Initial(0), act(model.ActionSubmit, 1, ""), State{}, model.ErrInvalidState},

		{"approve below top", pending(1), act(model.ActionApprove, 1, ""), pending(2), ""},
		{"approve at top", pending(2), act(model.ActionApprove, 2, ""), State{model.StatusApproved, 2, 2}, ""},
		{"approve wrong level", pending(2), act(model.ActionApprove, 1, ""), State{}, model.ErrInvalidState},
		{"approve draft", Initial(2), act(model.ActionApprove, 0, ""), State{}, model.ErrInvalidState},
		{"approve approved", State{model.StatusApproved, 2, 2}, act(model.ActionApprove, 2, ""), State{}, model.ErrInvalidState},

		{"decline with comment", pending(1), act(model.ActionDecline, 1, "no budget"), State{model.StatusDeclined, 1, 2}, ""},
		{"decline without comment", pending(1), act(model.ActionDecline, 1, ""), State{}, model.ErrValidationError},
		{"decline blank comment", pending(1), act(model.ActionDecline, 1, "   "), State{}, model.ErrValidationError},

		{"send back keeps level", pending(2), act(model.ActionSendBack, 2, "fix dates"), State{model.StatusSentBack, 2, 2}, ""},
		{"send back without comment", pending(2), act(model.ActionSendBack, 2, ""), State{}, model.ErrValidationError},

		{"comment pending", pending(1), act(model.ActionComment, 1, "fyi"), pending(1), ""},
		{"comment sent back", State{model.StatusSentBack, 1, 2}, act(model.ActionComment, 1, "fyi"), State{model.StatusSentBack, 1, 2}, ""},
		{"comment empty", pending(1), act(model.ActionComment, 1, ""), State{}, model.ErrValidationError},
		{"comment declined", State{model.StatusDeclined, 1, 2}, act(model.ActionComment, 1, "late"), State{}, model.ErrInvalidState},

		{"cancel pending", pending(2), act(model.ActionCancel, 2, ""), State{model.StatusCancelled, 2, 2}, ""},
		{"cancel sent back", State{model.StatusSentBack, 1, 2}, act(model.ActionCancel, 1, ""), State{model.StatusCancelled, 1, 2}, ""},
		{"cancel draft", Initial(2), act(model.ActionCancel, 0, ""), State{}, model.ErrInvalidState},

		{"unknown action", pending(1), act("ESCALATE", 1, ""), State{}, model.ErrBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Apply(tt.state, tt.action)
			if tt.wantCode != "" {
				if model.CodeOf(err) != tt.wantCode {
					t.Fatalf("error code = %q (%v), want %q", model.CodeOf(err), err, tt.wantCode)
				}
				if got != tt.state {
					t.Errorf("state changed on error: %+v -> %+v", tt.state, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Apply() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Apply() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestReconstruct(t *testing.T) {
	log := []model.ApprovalAction{
		act(model.ActionSubmit, 1, ""),
		act(model.ActionApprove, 1, ""),
		act(model.ActionComment, 2, "question"),
		act(model.ActionSendBack, 2, "wrong dates"),
		act(model.ActionSubmit, 1, ""),
		act(model.ActionApprove, 1, ""),
		act(model.ActionApprove, 2, ""),
	}

	got, err := Reconstruct(2, log)
	if err != nil {
		t.Fatalf("Reconstruct() error = %v", err)
	}
	want := State{Status: model.StatusApproved, Level: 2, TotalLevels: 2}
	if got != want {
		t.Errorf("Reconstruct() = %+v, want %+v", got, want)
	}

	// Every prefix of a valid log is itself valid.
	for i := range log {
		if _, err := Reconstruct(2, log[:i]); err != nil {
			t.Errorf("prefix %d: %v", i, err)
		}
	}
}

func TestReconstruct_Empty(t *testing.T) {
	got, err := Reconstruct(3, nil)
	if err != nil {
		t.Fatalf("Reconstruct() error = %v", err)
	}
	if got != Initial(3) {
		t.Errorf("Reconstruct(nil) = %+v, want draft", got)
	}
}

func TestReconstruct_InvalidLog(t *testing.T) {
	log := []model.ApprovalAction{
		act(model.ActionSubmit, 1, ""),
		act(model.ActionDecline, 1, "no"),
		act(model.ActionApprove, 1, ""),
	}
	got, err := Reconstruct(2, log)
	if model.CodeOf(err) != model.ErrInvalidState {
		t.Fatalf("error = %v, want INVALID_STATE", err)
	}
	if got.Status != model.StatusDeclined {
		t.Errorf("state at failure = %+v, want last valid state", got)
	}
}

func TestApply_InvariantsHold(t *testing.T) {
	// Walk every action from every reachable state and check that level and
	// status stay consistent.
	actions := []model.ActionType{
		model.ActionSubmit, model.ActionApprove, model.ActionDecline,
		model.ActionSendBack, model.ActionComment, model.ActionCancel,
	}
	seen := map[State]bool{}
	queue := []State{Initial(3)}
	for len(queue) > 0 {
		s := queue[0]
		queue = queue[1:]
		if seen[s] {
			continue
		}
		seen[s] = true

		if (s.Status == model.StatusDraft) != (s.Level == 0) {
			t.Errorf("DRAFT iff level 0 violated: %+v", s)
		}
		if s.Level < 0 || s.Level > s.TotalLevels {
			t.Errorf("level out of range: %+v", s)
		}

		for _, typ := range actions {
			level := s.Level
			if typ == model.ActionSubmit {
				level = 1
			}
			next, err := Apply(s, act(typ, level, "note"))
			if err == nil {
				queue = append(queue, next)
			}
		}
	}
	if !seen[State{model.StatusApproved, 3, 3}] {
		t.Error("APPROVED at the top level was never reached")
	}
}
