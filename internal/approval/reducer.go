package approval

import (
	"fmt"
	"strings"

	"github.com/sahidur/ams-sub001/model"
)

// State is the part of a request that the action log determines.
type State struct {
	Status      model.RequestStatus `json:"status"`
	Level       int                 `json:"level"`
	TotalLevels int                 `json:"total_levels"`
}

// Initial returns the state of a freshly created draft with a chain of
// totalLevels levels.
func Initial(totalLevels int) State {
	return State{Status: model.StatusDraft, TotalLevels: totalLevels}
}

// StateOf extracts the reducer state from a stored request.
func StateOf(r model.ApprovalRequest) State {
	return State{Status: r.Status, Level: r.CurrentLevel, TotalLevels: r.TotalLevels}
}

// Apply computes the state that follows s when action a is recorded. It is
// pure: the engine derives every transition through it, and Reconstruct
// replays a log through it.
func Apply(s State, a model.ApprovalAction) (State, error) {
	switch a.Type {
	case model.ActionSubmit:
		if s.Status != model.StatusDraft && s.Status != model.StatusSentBack {
			return s, invalidState(s, a.Type)
		}
		if s.TotalLevels < 1 {
			return s, model.NewInvalidStateError("request has no approval levels")
		}
		return State{Status: model.StatusPending, Level: 1, TotalLevels: s.TotalLevels}, nil

	case model.ActionApprove, model.ActionDecline, model.ActionSendBack:
		if s.Status != model.StatusPending {
			return s, invalidState(s, a.Type)
		}
		if a.Level != s.Level {
			return s, model.NewInvalidStateError(
				fmt.Sprintf("action is for level %d but the request is at level %d", a.Level, s.Level),
			)
		}
		if err := requireComment(a); err != nil {
			return s, err
		}
		next := s
		switch a.Type {
		case model.ActionApprove:
			if s.Level >= s.TotalLevels {
				next.Status = model.StatusApproved
			} else {
				next.Level++
			}
		case model.ActionDecline:
			next.Status = model.StatusDeclined
		case model.ActionSendBack:
			next.Status = model.StatusSentBack
		}
		return next, nil

	case model.ActionComment:
		if s.Status != model.StatusPending && s.Status != model.StatusSentBack {
			return s, invalidState(s, a.Type)
		}
		if err := requireComment(a); err != nil {
			return s, err
		}
		return s, nil

	case model.ActionCancel:
		if s.Status != model.StatusPending && s.Status != model.StatusSentBack {
			return s, invalidState(s, a.Type)
		}
		next := s
		next.Status = model.StatusCancelled
		return next, nil
	}

	return s, model.NewBadRequestError(fmt.Sprintf("unknown action %q", a.Type))
}

// Reconstruct replays actions, oldest first, from a fresh draft.
func Reconstruct(totalLevels int, actions []model.ApprovalAction) (State, error) {
	s := Initial(totalLevels)
	for i, a := range actions {
		next, err := Apply(s, a)
		if err != nil {
			return s, fmt.Errorf("action %d (%s): %w", i+1, a.Type, err)
		}
		s = next
	}
	return s, nil
}

func requireComment(a model.ApprovalAction) error {
	if a.Type.RequiresComment() && strings.TrimSpace(a.Comment) == "" {
		return model.NewCommentRequiredError(a.Type)
	}
	return nil
}

func invalidState(s State, action model.ActionType) error {
	return model.NewInvalidStateError(
		fmt.Sprintf("cannot %s a request that is %s", action.Verb(), s.Status),
	)
}
