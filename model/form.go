package model

import (
	"fmt"
	"strings"
)

// Validate checks a form definition coming from the admin API.
func (f *Form) Validate() error {
	if strings.TrimSpace(f.Title) == "" {
		return &ValidationError{Field: "title", Reason: "required"}
	}
	if f.AI.MaxFollowUps < 0 {
		return &ValidationError{Field: "ai.maxFollowUps", Reason: "must not be negative"}
	}
	for i, q := range f.Questions {
		field := fmt.Sprintf("questions[%d]", i)
		if strings.TrimSpace(q.Text) == "" {
			return &ValidationError{Field: field + ".text", Reason: "required"}
		}
		if !q.Type.Valid() {
			return &ValidationError{Field: field + ".type", Reason: fmt.Sprintf("unknown type %q", q.Type)}
		}
		if q.Type.HasOptions() && len(q.Options) == 0 {
			return &ValidationError{Field: field + ".options", Reason: "at least one option is required"}
		}
	}
	for i, w := range f.Integrations {
		if !strings.HasPrefix(w.URL, "http://") && !strings.HasPrefix(w.URL, "https://") {
			return &ValidationError{Field: fmt.Sprintf("integrations[%d].url", i), Reason: "must be an http(s) URL"}
		}
	}
	return nil
}

// Prompt is the assistant text asking the question, with the options spelled out
// so that the prompt reads well when spoken.
func (q Question) Prompt() string {
	if !q.Type.HasOptions() || len(q.Options) == 0 {
		return q.Text
	}
	opts := make([]string, len(q.Options))
	for i, o := range q.Options {
		opts[i] = o.Text
	}
	return q.Text + " (" + strings.Join(opts, " / ") + ")"
}

// Plan limits on monthly responses per form. Zero means unlimited.
var PlanLimits = map[string]int{
	"free":     100,
	"pro":      1000,
	"business": 0,
}

func PlanLimit(plan string) int {
	if limit, ok := PlanLimits[plan]; ok {
		return limit
	}
	return PlanLimits["free"]
}
