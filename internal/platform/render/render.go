// Package render produces outcome document bytes (certificates, scripts,
// referral letters) from registered templates. The engine here renders
// plain-text documents; a PDF service can be substituted behind the same
// interface.
package render

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	// ErrTemplateNotFound is returned for an unknown template id.
	ErrTemplateNotFound = errors.New("template not found")
	// ErrMissingData is returned when a placeholder has no value.
	ErrMissingData = errors.New("missing template data")
)

// Renderer turns a template id and data into document bytes.
type Renderer interface {
	Render(ctx context.Context, templateID string, data map[string]string) ([]byte, error)
	// Source returns the template body used for rendering, captured into
	// the issuance record so disputes can be resolved even after templates
	// change.
	Source(templateID string) (string, error)
}

// Template is a registered document template. Placeholders use {{key}}.
type Template struct {
	ID   string
	Name string
	Body string
}

// Engine is an in-memory Renderer with the built-in document templates
// pre-registered.
type Engine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

func NewEngine() *Engine {
	e := &Engine{templates: make(map[string]*Template)}
	e.registerBuiltIn()
	return e
}

func (e *Engine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:   "medical-certificate",
			Name: "Medical Certificate",
			Body: "MEDICAL CERTIFICATE\n\nThis certifies that {{patient_name}} was assessed via telehealth " +
				"consultation on {{date}} and is unfit for {{activity}} from {{from_date}} to {{to_date}}.\n\n" +
				"Issued by {{clinician_name}} ({{clinician_registration}}).",
		},
		{
			ID:   "prescription",
			Name: "Prescription",
			Body: "PRESCRIPTION\n\nPatient: {{patient_name}}\nDate: {{date}}\n\n" +
				"Rx: {{medication}} {{strength}}\nDirections: {{directions}}\nRepeats: {{repeats}}\n\n" +
				"Prescriber: {{clinician_name}} ({{clinician_registration}}).",
		},
		{
			ID:   "referral-letter",
			Name: "Referral Letter",
			Body: "REFERRAL\n\nDate: {{date}}\n\nDear {{specialist_name}},\n\n" +
				"Thank you for seeing {{patient_name}} regarding {{reason}}.\n\n" +
				"Kind regards,\n{{clinician_name}} ({{clinician_registration}}).",
		},
	}
	for i := range builtIn {
		e.templates[builtIn[i].ID] = &builtIn[i]
	}
}

// Register adds or replaces a template.
func (e *Engine) Register(t Template) {
	e.mu.Lock()
	e.templates[t.ID] = &t
	e.mu.Unlock()
}

// Render substitutes {{key}} placeholders with values from data. Unmatched
// placeholders are an error: an issued document with holes in it is worse
// than a failed issuance.
func (e *Engine) Render(_ context.Context, templateID string, data map[string]string) ([]byte, error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return nil, ErrTemplateNotFound
	}

	out := t.Body
	for k, v := range data {
		out = strings.ReplaceAll(out, "{{"+k+"}}", v)
	}
	if start := strings.Index(out, "{{"); start != -1 {
		if end := strings.Index(out[start:], "}}"); end != -1 {
			return nil, fmt.Errorf("template %s: %w: %s", templateID, ErrMissingData, out[start:start+end+2])
		}
	}
	return []byte(out), nil
}

// Source returns the raw template body.
func (e *Engine) Source(templateID string) (string, error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", ErrTemplateNotFound
	}
	return t.Body, nil
}
