// Package document defines the per-type payload shapes accepted by the
// queue and the Renderer contract the worker pool calls.
package document

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/cuongbtq/docqueue/internal/domain"
)

// Job types
const (
	TypeMarkdown = "markdown"
	TypeTemplate = "template"
)

// MarkdownPayload renders a markdown document with an optional layout
type MarkdownPayload struct {
	LogicalID string `json:"logicalId,omitempty" validate:"omitempty,max=512"`
	Title     string `json:"title" validate:"required,max=256"`
	Markdown  string `json:"markdown" validate:"omitempty"`
	Layout    string `json:"layout,omitempty" validate:"omitempty,oneof=default report letter slides"`
}

// TemplatePayload binds data into a stored template
type TemplatePayload struct {
	LogicalID  string         `json:"logicalId,omitempty" validate:"omitempty,max=512"`
	Title      string         `json:"title" validate:"required,max=256"`
	TemplateID string         `json:"templateId" validate:"required,max=128"`
	Data       map[string]any `json:"data,omitempty"`
}

// Descriptor is what the queue layer needs to know about a payload
type Descriptor struct {
	LogicalID string
	Title     string
}

// Payload is implemented by every registered payload shape
type Payload interface {
	Describe() Descriptor
}

// Describe implements Payload
func (p *MarkdownPayload) Describe() Descriptor {
	return Descriptor{LogicalID: p.LogicalID, Title: p.Title}
}

// Describe implements Payload
func (p *TemplatePayload) Describe() Descriptor {
	return Descriptor{LogicalID: p.LogicalID, Title: p.Title}
}

// Registry maps job types to payload shapes
type Registry struct {
	validate *validator.Validate
	shapes   map[string]func() Payload
}

// NewRegistry returns a registry with the built-in job types
func NewRegistry() *Registry {
	r := &Registry{
		validate: validator.New(validator.WithRequiredStructEnabled()),
		shapes:   make(map[string]func() Payload),
	}
	r.Register(TypeMarkdown, func() Payload { return &MarkdownPayload{} })
	r.Register(TypeTemplate, func() Payload { return &TemplatePayload{} })
	return r
}

// Register adds or replaces the payload shape for jobType
func (r *Registry) Register(jobType string, shape func() Payload) {
	r.shapes[jobType] = shape
}

// Types returns the registered job types
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.shapes))
	for t := range r.shapes {
		out = append(out, t)
	}
	return out
}

// Validate decodes raw into the shape registered for jobType, rejecting
// unknown fields, and runs struct validation on the result.
func (r *Registry) Validate(jobType string, raw json.RawMessage) (Descriptor, error) {
	shape, ok := r.shapes[jobType]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %q", domain.ErrUnknownJobType, jobType)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return Descriptor{}, fmt.Errorf("%w: payload is empty", domain.ErrInvalidPayload)
	}

	payload := shape()
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(payload); err != nil {
		return Descriptor{}, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}

	if err := r.validate.Struct(payload); err != nil {
		return Descriptor{}, fmt.Errorf("%w: %s", domain.ErrInvalidPayload, describeValidation(err))
	}

	return payload.Describe(), nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed on %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(msgs, "; ")
}
