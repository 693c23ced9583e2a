package flow

import (
	"fmt"
	"regexp"
)

var validOps = map[Op]bool{
	OpEquals:    true,
	OpNotEquals: true,
	OpIncludes:  true,
	OpIsEmpty:   true,
	OpNotEmpty:  true,
}

var validSeverities = map[Severity]bool{
	SeverityInfo:     true,
	SeverityWarning:  true,
	SeverityKnockout: true,
}

var validTypes = map[QuestionType]bool{
	TypeSingleChoice: true,
	TypeMultiChoice:  true,
	TypeText:         true,
	TypeDate:         true,
	TypeBoolean:      true,
	TypeNumeric:      true,
}

// Validate checks structural invariants of a definition at load time.
// Conditions may only reference questions defined earlier in evaluation
// order, which guarantees single-pass evaluation terminates with a stable
// result. Violations are configuration bugs, so validation fails loudly
// rather than degrading at runtime.
func (d *Definition) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("flow definition has no id")
	}
	if d.Version <= 0 {
		return fmt.Errorf("flow %s: version must be positive", d.ID)
	}
	if len(d.Sections) == 0 {
		return fmt.Errorf("flow %s: no sections", d.ID)
	}

	seen := map[string]bool{}
	for si := range d.Sections {
		sec := &d.Sections[si]
		if sec.ID == "" {
			return fmt.Errorf("flow %s: section %d has no id", d.ID, si)
		}
		if seen[sec.ID] {
			return fmt.Errorf("flow %s: duplicate section id %q", d.ID, sec.ID)
		}
		seen[sec.ID] = true
		if err := d.checkCondition(sec.Condition, seen, fmt.Sprintf("section %s", sec.ID)); err != nil {
			return err
		}
		for qi := range sec.Questions {
			q := &sec.Questions[qi]
			if q.ID == "" {
				return fmt.Errorf("flow %s: section %s question %d has no id", d.ID, sec.ID, qi)
			}
			if seen[q.ID] {
				return fmt.Errorf("flow %s: duplicate question id %q", d.ID, q.ID)
			}
			if !validTypes[q.Type] {
				return fmt.Errorf("flow %s: question %s: invalid type %q", d.ID, q.ID, q.Type)
			}
			if err := d.checkCondition(q.Condition, seen, fmt.Sprintf("question %s", q.ID)); err != nil {
				return err
			}
			// A question may reference itself only after it is declared,
			// so register it before validating its flag rules.
			seen[q.ID] = true
			for fi, rule := range q.Flags {
				if !validSeverities[rule.Severity] {
					return fmt.Errorf("flow %s: question %s flag %d: invalid severity %q", d.ID, q.ID, fi, rule.Severity)
				}
				if rule.Message == "" {
					return fmt.Errorf("flow %s: question %s flag %d: message is required", d.ID, q.ID, fi)
				}
				if rule.Op != "" && !validOps[rule.Op] {
					return fmt.Errorf("flow %s: question %s flag %d: invalid op %q", d.ID, q.ID, fi, rule.Op)
				}
			}
			if q.Validation != nil && q.Validation.Pattern != "" {
				if _, err := regexp.Compile(q.Validation.Pattern); err != nil {
					return fmt.Errorf("flow %s: question %s: invalid pattern: %w", d.ID, q.ID, err)
				}
			}
		}
	}
	return nil
}

func (d *Definition) checkCondition(c *Condition, seen map[string]bool, where string) error {
	if c == nil {
		return nil
	}
	if c.Field == "" {
		return fmt.Errorf("flow %s: %s: condition has no field", d.ID, where)
	}
	if !validOps[c.Op] {
		return fmt.Errorf("flow %s: %s: invalid condition op %q", d.ID, where, c.Op)
	}
	if !seen[c.Field] {
		return fmt.Errorf("flow %s: %s: condition references %q before it is defined", d.ID, where, c.Field)
	}
	return nil
}
