// Package lifecycle is the episode generation state machine.
//
//	Created -> ScriptDrafted -> ScriptApproved -> PanelsGenerating ->
//	PanelsApproved -> VideoComposing -> Complete
//
// Failed is reachable from every non-terminal stage. PartialComplete is the
// alternate terminal stage when video is skipped or fails.
package lifecycle

import (
	"fmt"

	"github.com/agenthands/genesis/internal/apperr"
)

type Stage string

const (
	Created          Stage = "created"
	ScriptDrafted    Stage = "script_drafted"
	ScriptApproved   Stage = "script_approved"
	PanelsGenerating Stage = "panels_generating"
	PanelsApproved   Stage = "panels_approved"
	VideoComposing   Stage = "video_composing"
	Complete         Stage = "complete"
	PartialComplete  Stage = "partial_complete"
	Failed           Stage = "failed"
)

// Status is the persisted generation state of an episode. Reason is set only
// for Failed and PartialComplete.
type Status struct {
	Stage  Stage       `json:"stage"`
	Reason apperr.Code `json:"reason,omitempty"`
	Detail string      `json:"detail,omitempty"`
}

func New() Status { return Status{Stage: Created} }

func (s Status) String() string {
	if s.Reason != "" {
		return fmt.Sprintf("%s(%s)", s.Stage, s.Reason)
	}
	return string(s.Stage)
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	switch s.Stage {
	case Complete, PartialComplete, Failed:
		return true
	case Created, ScriptDrafted, ScriptApproved, PanelsGenerating, PanelsApproved, VideoComposing:
		return false
	default:
		return false
	}
}

// Delivered reports whether the episode counts as the period's episode.
func (s Status) Delivered() bool {
	return s.Stage == Complete || s.Stage == PartialComplete
}

// next lists the forward transitions of each non-terminal stage. Redrafting
// a script keeps the episode in ScriptDrafted.
func next(from Stage) []Stage {
	switch from {
	case Created:
		return []Stage{ScriptDrafted}
	case ScriptDrafted:
		return []Stage{ScriptDrafted, ScriptApproved}
	case ScriptApproved:
		return []Stage{PanelsGenerating}
	case PanelsGenerating:
		return []Stage{PanelsApproved}
	case PanelsApproved:
		return []Stage{VideoComposing, PartialComplete}
	case VideoComposing:
		return []Stage{Complete, PartialComplete}
	case Complete, PartialComplete, Failed:
		return nil
	default:
		return nil
	}
}

// CanTransition reports whether from -> to is legal.
func CanTransition(from, to Stage) bool {
	if to == Failed {
		return !Status{Stage: from}.Terminal() && known(from)
	}
	for _, s := range next(from) {
		if s == to {
			return true
		}
	}
	return false
}

func known(s Stage) bool {
	switch s {
	case Created, ScriptDrafted, ScriptApproved, PanelsGenerating, PanelsApproved,
		VideoComposing, Complete, PartialComplete, Failed:
		return true
	default:
		return false
	}
}

// To moves to a forward stage. Use Fail and Partial for terminal stages
// that carry a reason.
func (s Status) To(to Stage) (Status, error) {
	if to == Failed || to == PartialComplete {
		return s, apperr.New(apperr.CodeInvalidTransition, "%s requires a reason", to)
	}
	if !CanTransition(s.Stage, to) {
		return s, apperr.New(apperr.CodeInvalidTransition, "%s -> %s", s.Stage, to)
	}
	return Status{Stage: to}, nil
}

// Fail moves any non-terminal status to Failed(reason).
func (s Status) Fail(reason apperr.Code, detail string) (Status, error) {
	if !CanTransition(s.Stage, Failed) {
		return s, apperr.New(apperr.CodeInvalidTransition, "%s -> %s", s.Stage, Failed)
	}
	return Status{Stage: Failed, Reason: reason, Detail: detail}, nil
}

// Partial ends the episode without video.
func (s Status) Partial(reason apperr.Code, detail string) (Status, error) {
	if !CanTransition(s.Stage, PartialComplete) {
		return s, apperr.New(apperr.CodeInvalidTransition, "%s -> %s", s.Stage, PartialComplete)
	}
	return Status{Stage: PartialComplete, Reason: reason, Detail: detail}, nil
}

// Parse rebuilds a Status from persisted fields.
func Parse(stage, reason, detail string) (Status, error) {
	st := Stage(stage)
	if !known(st) {
		return Status{}, apperr.New(apperr.CodeInternal, "unknown stage %q", stage)
	}
	s := Status{Stage: st, Detail: detail}
	if st == Failed || st == PartialComplete {
		s.Reason = apperr.Code(reason)
	}
	return s, nil
}
