package models

import (
	"encoding/json"
	"fmt"
)

// ActionType is the discriminator of the Action sum type.
type ActionType string

const (
	ActionBlock  ActionType = "block"
	ActionWarn   ActionType = "warn"
	ActionModify ActionType = "modify"
)

// Severity grades a warn action.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// IsValid reports whether s is a known severity.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	default:
		return false
	}
}

// ModificationType selects how a modify action reshapes its target.
type ModificationType string

const (
	ModDropField ModificationType = "drop_field"
	ModDropItem  ModificationType = "drop_item"
)

// Predicate selects which fields or items a modify action removes.
type Predicate string

const (
	PredicateIsNull  Predicate = "is_null"
	PredicateIsEmpty Predicate = "is_empty"
	PredicateEquals  Predicate = "equals"
)

// Action is a closed set of effects applied once a trigger matches.
// The unexported marker keeps implementations inside this package.
type Action interface {
	Type() ActionType
	ActionPriority() int
	isAction()
}

// BlockAction stops the step.
type BlockAction struct {
	Priority int    `json:"priority"`
	Message  string `json:"message"`
}

// WarnAction flags the step. A nil AllowProceed defers to the engine default.
type WarnAction struct {
	Priority     int      `json:"priority"`
	Message      string   `json:"message"`
	Severity     Severity `json:"severity"`
	AllowProceed *bool    `json:"allow_proceed,omitempty"`
}

// ModifyAction removes fields or items from part of the payload.
type ModifyAction struct {
	Priority         int              `json:"priority"`
	ModificationType ModificationType `json:"modification_type"`
	Target           string           `json:"target"`
	Condition        ModifyCondition  `json:"condition"`
}

// ModifyCondition picks the fields/items a modify action affects.
type ModifyCondition struct {
	Fields    []string  `json:"fields,omitempty"` // drop_field: candidate keys, empty = all keys
	Field     string    `json:"field,omitempty"`  // drop_item: element sub-field to test, empty = element
	Predicate Predicate `json:"predicate"`
	Value     any       `json:"value,omitempty"`
}

func (BlockAction) Type() ActionType  { return ActionBlock }
func (WarnAction) Type() ActionType   { return ActionWarn }
func (ModifyAction) Type() ActionType { return ActionModify }

func (a BlockAction) ActionPriority() int  { return a.Priority }
func (a WarnAction) ActionPriority() int   { return a.Priority }
func (a ModifyAction) ActionPriority() int { return a.Priority }

func (BlockAction) isAction()  {}
func (WarnAction) isAction()   {}
func (ModifyAction) isAction() {}

// ActionSpec carries one Action through JSON using the "type" tag.
type ActionSpec struct {
	Action
}

// NewActionSpec wraps an action for use in a GuardrailDefinition.
func NewActionSpec(a Action) ActionSpec {
	return ActionSpec{Action: a}
}

// MarshalJSON writes the variant fields plus its "type" tag.
func (s ActionSpec) MarshalJSON() ([]byte, error) {
	switch a := s.Action.(type) {
	case BlockAction:
		return json.Marshal(struct {
			Type ActionType `json:"type"`
			BlockAction
		}{ActionBlock, a})
	case WarnAction:
		return json.Marshal(struct {
			Type ActionType `json:"type"`
			WarnAction
		}{ActionWarn, a})
	case ModifyAction:
		return json.Marshal(struct {
			Type ActionType `json:"type"`
			ModifyAction
		}{ActionModify, a})
	case nil:
		return []byte("null"), nil
	default:
		return nil, fmt.Errorf("unsupported action %T", s.Action)
	}
}

// UnmarshalJSON decodes the variant selected by the "type" tag.
func (s *ActionSpec) UnmarshalJSON(data []byte) error {
	var head struct {
		Type ActionType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}

	switch head.Type {
	case ActionBlock:
		var a BlockAction
		if err := json.Unmarshal(data, &a); err != nil {
			return fmt.Errorf("decode block action: %w", err)
		}
		s.Action = a
	case ActionWarn:
		var a WarnAction
		if err := json.Unmarshal(data, &a); err != nil {
			return fmt.Errorf("decode warn action: %w", err)
		}
		s.Action = a
	case ActionModify:
		var a ModifyAction
		if err := json.Unmarshal(data, &a); err != nil {
			return fmt.Errorf("decode modify action: %w", err)
		}
		s.Action = a
	default:
		return fmt.Errorf("unknown action type %q", head.Type)
	}
	return nil
}
