// Package flow defines the declarative questionnaire model (sections,
// questions, visibility conditions, safety flag rules) and the pure rule
// evaluator that computes visibility and safety flags from a set of answers.
package flow

import (
	"fmt"
	"strings"
)

// QuestionType enumerates the supported answer widgets.
type QuestionType string

const (
	TypeSingleChoice QuestionType = "single_choice"
	TypeMultiChoice  QuestionType = "multi_choice"
	TypeText         QuestionType = "text"
	TypeDate         QuestionType = "date"
	TypeBoolean      QuestionType = "boolean"
	TypeNumeric      QuestionType = "numeric"
)

// Severity classifies a safety flag. A knockout flag blocks submission.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityKnockout Severity = "knockout"
)

// Op is a condition comparator.
type Op string

const (
	OpEquals    Op = "equals"
	OpNotEquals Op = "not_equals"
	OpIncludes  Op = "includes"
	OpIsEmpty   Op = "is_empty"
	OpNotEmpty  Op = "not_empty"
)

// Condition gates the visibility of a section or question on a prior answer.
// A nil Condition means always visible.
type Condition struct {
	Field string      `yaml:"field" json:"field"`
	Op    Op          `yaml:"op" json:"op"`
	Value interface{} `yaml:"value,omitempty" json:"value,omitempty"`
}

// FlagRule raises a SafetyFlag when the question's answer matches a trigger
// value. Values lists alternative triggers; Op defaults to equals (or
// includes for multi-choice answers, which equals already covers via
// set membership).
type FlagRule struct {
	Op       Op            `yaml:"op,omitempty" json:"op,omitempty"`
	Value    interface{}   `yaml:"value,omitempty" json:"value,omitempty"`
	Values   []interface{} `yaml:"values,omitempty" json:"values,omitempty"`
	Severity Severity      `yaml:"severity" json:"severity"`
	Message  string        `yaml:"message" json:"message"`
}

// Validation constrains an answer beyond its type.
type Validation struct {
	MinSelections int    `yaml:"min_selections,omitempty" json:"min_selections,omitempty"`
	MaxSelections int    `yaml:"max_selections,omitempty" json:"max_selections,omitempty"`
	Pattern       string `yaml:"pattern,omitempty" json:"pattern,omitempty"`
}

// Question is a single prompt within a section.
type Question struct {
	ID         string       `yaml:"id" json:"id"`
	Type       QuestionType `yaml:"type" json:"type"`
	Label      string       `yaml:"label" json:"label"`
	Required   bool         `yaml:"required,omitempty" json:"required,omitempty"`
	Options    []string     `yaml:"options,omitempty" json:"options,omitempty"`
	Condition  *Condition   `yaml:"condition,omitempty" json:"condition,omitempty"`
	Validation *Validation  `yaml:"validation,omitempty" json:"validation,omitempty"`
	Flags      []FlagRule   `yaml:"flags,omitempty" json:"flags,omitempty"`
}

// Section groups questions and may itself be conditionally visible.
type Section struct {
	ID        string     `yaml:"id" json:"id"`
	Title     string     `yaml:"title" json:"title"`
	Condition *Condition `yaml:"condition,omitempty" json:"condition,omitempty"`
	Questions []Question `yaml:"questions" json:"questions"`
}

// Definition is an immutable questionnaire flow. Definitions are loaded once
// at startup and shared read-only; evaluation never mutates them.
type Definition struct {
	ID       string    `yaml:"id" json:"id"`
	Version  int       `yaml:"version" json:"version"`
	Title    string    `yaml:"title" json:"title"`
	Sections []Section `yaml:"sections" json:"sections"`
}

// Question returns the question with the given id, or nil.
func (d *Definition) Question(id string) *Question {
	for si := range d.Sections {
		for qi := range d.Sections[si].Questions {
			if d.Sections[si].Questions[qi].ID == id {
				return &d.Sections[si].Questions[qi]
			}
		}
	}
	return nil
}

// Answers maps question id to the respondent's value. Values are scalars
// (string, bool, float64), or []interface{} for multi-choice answers, which
// is what JSON/YAML decoding naturally produces.
type Answers map[string]interface{}

// Clone returns a shallow copy; array values are copied one level deep so a
// frozen snapshot cannot be mutated through the original map.
func (a Answers) Clone() Answers {
	out := make(Answers, len(a))
	for k, v := range a {
		if arr, ok := v.([]interface{}); ok {
			cp := make([]interface{}, len(arr))
			copy(cp, arr)
			out[k] = cp
			continue
		}
		out[k] = v
	}
	return out
}

// SafetyFlag is derived by the evaluator; it is never stored independently
// of the answers that produced it.
type SafetyFlag struct {
	Severity   Severity `json:"severity"`
	Message    string   `json:"message"`
	QuestionID string   `json:"question_id"`
}

// ValidationError reports visible required questions without a valid answer.
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("missing required answers: %s", strings.Join(e.Missing, ", "))
}

// KnockoutError reports that one or more knockout flags block submission.
type KnockoutError struct {
	Flags []SafetyFlag
}

func (e *KnockoutError) Error() string {
	if len(e.Flags) == 1 {
		return e.Flags[0].Message
	}
	msgs := make([]string, len(e.Flags))
	for i, f := range e.Flags {
		msgs[i] = f.Message
	}
	return strings.Join(msgs, "; ")
}
