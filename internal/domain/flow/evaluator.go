package flow

import (
	"regexp"
	"strconv"
)

// Evaluation is the result of running the evaluator against a set of
// answers: which sections/questions are visible and which safety flags the
// current answers raise. Slices preserve definition order, so two
// evaluations over identical input are identical element for element.
type Evaluation struct {
	VisibleSections  []string     `json:"visible_sections"`
	VisibleQuestions []string     `json:"visible_questions"`
	Flags            []SafetyFlag `json:"flags"`
}

// Knockout reports whether any knockout-severity flag is present.
func (e Evaluation) Knockout() bool {
	for _, f := range e.Flags {
		if f.Severity == SeverityKnockout {
			return true
		}
	}
	return false
}

// KnockoutFlags returns only the knockout-severity flags.
func (e Evaluation) KnockoutFlags() []SafetyFlag {
	var out []SafetyFlag
	for _, f := range e.Flags {
		if f.Severity == SeverityKnockout {
			out = append(out, f)
		}
	}
	return out
}

// Evaluate computes visibility and safety flags for the given answers.
// It is a pure function: no I/O, no clock, no mutation of def or answers.
// Answers for hidden questions are retained in the map but contribute
// neither flags nor validation requirements.
func Evaluate(def *Definition, answers Answers) Evaluation {
	ev := Evaluation{}
	for si := range def.Sections {
		sec := &def.Sections[si]
		if !evalCondition(sec.Condition, answers) {
			continue
		}
		ev.VisibleSections = append(ev.VisibleSections, sec.ID)
		for qi := range sec.Questions {
			q := &sec.Questions[qi]
			if !evalCondition(q.Condition, answers) {
				continue
			}
			ev.VisibleQuestions = append(ev.VisibleQuestions, q.ID)
			val, answered := answers[q.ID]
			if !answered {
				continue
			}
			for _, rule := range q.Flags {
				if ruleMatches(rule, val) {
					ev.Flags = append(ev.Flags, SafetyFlag{
						Severity:   rule.Severity,
						Message:    rule.Message,
						QuestionID: q.ID,
					})
				}
			}
		}
	}
	return ev
}

// MissingRequired returns the ids of visible required questions that have no
// valid answer, in definition order.
func MissingRequired(def *Definition, answers Answers) []string {
	var missing []string
	for si := range def.Sections {
		sec := &def.Sections[si]
		if !evalCondition(sec.Condition, answers) {
			continue
		}
		for qi := range sec.Questions {
			q := &sec.Questions[qi]
			if !q.Required || !evalCondition(q.Condition, answers) {
				continue
			}
			val, ok := answers[q.ID]
			if !ok || isEmptyValue(val) || !validAnswer(q, val) {
				missing = append(missing, q.ID)
			}
		}
	}
	return missing
}

// VisibleAnswers filters answers down to currently visible questions. The
// underlying map keeps hidden answers so that toggling visibility back does
// not lose input; this projection is what submission and the reviewer
// summary see.
func VisibleAnswers(def *Definition, answers Answers) Answers {
	ev := Evaluate(def, answers)
	visible := make(map[string]bool, len(ev.VisibleQuestions))
	for _, id := range ev.VisibleQuestions {
		visible[id] = true
	}
	out := make(Answers)
	for k, v := range answers {
		if visible[k] {
			out[k] = v
		}
	}
	return out
}

// evalCondition interprets the tagged condition variants against the current
// answers. A nil condition is always true.
func evalCondition(c *Condition, answers Answers) bool {
	if c == nil {
		return true
	}
	val, ok := answers[c.Field]
	switch c.Op {
	case OpIsEmpty:
		return !ok || isEmptyValue(val)
	case OpNotEmpty:
		return ok && !isEmptyValue(val)
	case OpEquals:
		return ok && valueEquals(val, c.Value)
	case OpNotEquals:
		// An unanswered field is "not equal" to any value.
		return !ok || !valueEquals(val, c.Value)
	case OpIncludes:
		return ok && valueIncludes(val, c.Value)
	default:
		return false
	}
}

// ruleMatches reports whether a flag rule's trigger matches the answer.
// A rule with Values matches when the answer equals (or, for array answers,
// includes) any listed value. Op defaults to equals.
func ruleMatches(rule FlagRule, val interface{}) bool {
	if len(rule.Values) > 0 {
		for _, trigger := range rule.Values {
			if valueIncludes(val, trigger) {
				return true
			}
		}
		return false
	}
	op := rule.Op
	if op == "" {
		op = OpEquals
	}
	switch op {
	case OpEquals:
		return valueEquals(val, rule.Value)
	case OpNotEquals:
		return !valueEquals(val, rule.Value)
	case OpIncludes:
		return valueIncludes(val, rule.Value)
	case OpIsEmpty:
		return isEmptyValue(val)
	case OpNotEmpty:
		return !isEmptyValue(val)
	default:
		return false
	}
}

// validAnswer applies per-question validation constraints.
func validAnswer(q *Question, val interface{}) bool {
	if q.Validation == nil {
		return true
	}
	v := q.Validation
	if arr, ok := val.([]interface{}); ok {
		if v.MinSelections > 0 && len(arr) < v.MinSelections {
			return false
		}
		if v.MaxSelections > 0 && len(arr) > v.MaxSelections {
			return false
		}
	}
	if v.Pattern != "" {
		s, ok := val.(string)
		if !ok {
			return false
		}
		re, err := regexp.Compile(v.Pattern)
		if err != nil {
			// A broken pattern is a definition bug caught by Validate;
			// never reject the respondent for it at runtime.
			return true
		}
		return re.MatchString(s)
	}
	return true
}

// isEmptyValue treats the zero string, empty arrays, and nil as unanswered.
// False booleans and zero numbers are real answers.
func isEmptyValue(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []interface{}:
		return len(t) == 0
	case []string:
		return len(t) == 0
	default:
		return false
	}
}

// valueEquals compares two answer values after normalizing scalars to a
// canonical string form, so 5, 5.0 and "5" compare equal regardless of
// whether the value arrived via JSON or YAML decoding.
func valueEquals(a, b interface{}) bool {
	return canonical(a) == canonical(b)
}

// valueIncludes reports whether the answer contains target: set membership
// for array answers, plain equality for scalars.
func valueIncludes(val, target interface{}) bool {
	switch arr := val.(type) {
	case []interface{}:
		for _, item := range arr {
			if valueEquals(item, target) {
				return true
			}
		}
		return false
	case []string:
		for _, item := range arr {
			if valueEquals(item, target) {
				return true
			}
		}
		return false
	default:
		return valueEquals(val, target)
	}
}

func canonical(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.FormatFloat(float64(t), 'f', -1, 64)
	case int64:
		return strconv.FormatFloat(float64(t), 'f', -1, 64)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 64)
	default:
		return ""
	}
}
