package model

import (
	"fmt"
	"math"
	"net/mail"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	maxShortText = 500
	maxLongText  = 5000
	defaultScale = 5
)

type Kind string

const (
	KindEmpty   Kind = "empty"
	KindText    Kind = "text"
	KindNumber  Kind = "number"
	KindChoices Kind = "choices"
	KindAddress Kind = "address"
	KindFile    Kind = "file"
)

// Value is an answer value tagged by Kind. Only the field matching Kind is set.
type Value struct {
	Kind    Kind           `json:"kind"`
	Text    string         `json:"text,omitempty"`
	Number  float64        `json:"number,omitempty"`
	Choices []string       `json:"choices,omitempty"`
	Address *PostalAddress `json:"address,omitempty"`
	File    *FileMeta      `json:"file,omitempty"`
}

type PostalAddress struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country"`
}

type FileMeta struct {
	URL  string `json:"url"`
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// Input is the untyped answer as received from the presentation layer.
type Input struct {
	Text    string         `json:"text,omitempty"`
	Choices []string       `json:"choices,omitempty"`
	Rating  *int           `json:"rating,omitempty"`
	Address *PostalAddress `json:"address,omitempty"`
	File    *FileMeta      `json:"file,omitempty"`
}

func (in Input) empty() bool {
	return strings.TrimSpace(in.Text) == "" &&
		len(in.Choices) == 0 &&
		in.Rating == nil &&
		in.Address == nil &&
		in.File == nil
}

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(reason, args...)}
}

var reChoiceSep = regexp.MustCompile(`\s*(?:,|;|\band\b)\s*`)

// ParseInput validates in against the question and converts it to a typed Value.
func ParseInput(q Question, in Input) (Value, error) {
	if in.empty() {
		if q.Required {
			return Value{}, invalid("value", "an answer is required")
		}
		return Value{Kind: KindEmpty}, nil
	}

	switch q.Type {
	case ShortText, LongText:
		text := strings.TrimSpace(in.Text)
		if text == "" {
			return Value{}, invalid("text", "expected text")
		}
		limit := maxShortText
		if q.Type == LongText {
			limit = maxLongText
		}
		if utf8.RuneCountInString(text) > limit {
			return Value{}, invalid("text", "longer than %d characters", limit)
		}
		return Value{Kind: KindText, Text: text}, nil

	case Email:
		addr, err := mail.ParseAddress(strings.TrimSpace(in.Text))
		if err != nil {
			return Value{}, invalid("text", "not a valid email address")
		}
		return Value{Kind: KindText, Text: addr.Address}, nil

	case Number:
		n, err := strconv.ParseFloat(strings.TrimSpace(in.Text), 64)
		if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
			return Value{}, invalid("text", "not a number")
		}
		return Value{Kind: KindNumber, Number: n}, nil

	case Date:
		d, err := time.Parse("2006-01-02", strings.TrimSpace(in.Text))
		if err != nil {
			return Value{}, invalid("text", "expected a date as YYYY-MM-DD")
		}
		return Value{Kind: KindText, Text: d.Format("2006-01-02")}, nil

	case SingleChoice, ImageChoice, MultiChoice:
		return parseChoices(q, in)

	case Rating:
		return parseRating(q, in)

	case Address:
		a := in.Address
		if a == nil {
			return Value{}, invalid("address", "expected an address")
		}
		trimmed := PostalAddress{
			Line1:      strings.TrimSpace(a.Line1),
			Line2:      strings.TrimSpace(a.Line2),
			City:       strings.TrimSpace(a.City),
			Region:     strings.TrimSpace(a.Region),
			PostalCode: strings.TrimSpace(a.PostalCode),
			Country:    strings.TrimSpace(a.Country),
		}
		switch {
		case trimmed.Line1 == "":
			return Value{}, invalid("address.line1", "required")
		case trimmed.City == "":
			return Value{}, invalid("address.city", "required")
		case trimmed.Country == "":
			return Value{}, invalid("address.country", "required")
		}
		return Value{Kind: KindAddress, Address: &trimmed}, nil

	case FileUpload:
		f := in.File
		if f == nil {
			return Value{}, invalid("file", "expected a file")
		}
		switch {
		case strings.TrimSpace(f.URL) == "":
			return Value{}, invalid("file.url", "required")
		case strings.TrimSpace(f.Name) == "":
			return Value{}, invalid("file.name", "required")
		case f.Size < 0:
			return Value{}, invalid("file.size", "negative size")
		}
		meta := *f
		return Value{Kind: KindFile, File: &meta}, nil
	}

	return Value{}, invalid("type", "unsupported question type %q", q.Type)
}

func parseChoices(q Question, in Input) (Value, error) {
	raw := in.Choices
	if len(raw) == 0 {
		text := strings.TrimSpace(in.Text)
		if q.Type == MultiChoice {
			// an option may itself contain a separator
			if _, ok := matchOption(q, text); ok {
				raw = []string{text}
			} else {
				raw = reChoiceSep.Split(text, -1)
			}
		} else {
			raw = []string{text}
		}
	}

	choices := make([]string, 0, len(raw))
	for _, c := range raw {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		opt, ok := matchOption(q, c)
		if !ok {
			return Value{}, invalid("choices", "%q is not one of the options", c)
		}
		if !contains(choices, opt) {
			choices = append(choices, opt)
		}
	}

	switch {
	case len(choices) == 0:
		return Value{}, invalid("choices", "no option selected")
	case q.Type != MultiChoice && len(choices) > 1:
		return Value{}, invalid("choices", "only one option can be selected")
	}
	return Value{Kind: KindChoices, Choices: choices}, nil
}

func matchOption(q Question, text string) (string, bool) {
	for _, o := range q.Options {
		if strings.EqualFold(strings.TrimSpace(o.Text), text) {
			return o.Text, true
		}
	}
	return "", false
}

func parseRating(q Question, in Input) (Value, error) {
	scale := len(q.Options)
	if scale == 0 {
		scale = defaultScale
	}

	var n int
	if in.Rating != nil {
		n = *in.Rating
	} else {
		text := strings.TrimSpace(in.Text)
		if opt, ok := matchOption(q, text); ok {
			for i, o := range q.Options {
				if o.Text == opt {
					n = i + 1
				}
			}
		} else {
			v, err := strconv.Atoi(text)
			if err != nil {
				return Value{}, invalid("rating", "expected a whole number")
			}
			n = v
		}
	}

	if n < 1 || n > scale {
		return Value{}, invalid("rating", "must be between 1 and %d", scale)
	}
	return Value{Kind: KindNumber, Number: float64(n)}, nil
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

func (v Value) Empty() bool {
	return v.Kind == "" || v.Kind == KindEmpty
}

func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindText:
		return v.Text == o.Text
	case KindNumber:
		return v.Number == o.Number
	case KindChoices:
		if len(v.Choices) != len(o.Choices) {
			return false
		}
		for i := range v.Choices {
			if v.Choices[i] != o.Choices[i] {
				return false
			}
		}
		return true
	case KindAddress:
		return v.Address != nil && o.Address != nil && *v.Address == *o.Address
	case KindFile:
		return v.File != nil && o.File != nil && *v.File == *o.File
	}
	return true
}

// Merge folds a follow-up reply into the value it refines.
// Text is appended on a new line, any other kind is replaced.
func (v Value) Merge(reply Value) Value {
	if reply.Empty() {
		return v
	}
	if v.Kind == KindText && reply.Kind == KindText {
		return Value{Kind: KindText, Text: v.Text + "\n" + reply.Text}
	}
	return reply
}

// String renders the value as the respondent would have said it.
func (v Value) String() string {
	switch v.Kind {
	case KindText:
		return v.Text
	case KindNumber:
		return strconv.FormatFloat(v.Number, 'f', -1, 64)
	case KindChoices:
		return strings.Join(v.Choices, ", ")
	case KindAddress:
		if v.Address == nil {
			return ""
		}
		parts := []string{v.Address.Line1, v.Address.Line2, v.Address.City,
			v.Address.Region, v.Address.PostalCode, v.Address.Country}
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p != "" {
				out = append(out, p)
			}
		}
		return strings.Join(out, ", ")
	case KindFile:
		if v.File == nil {
			return ""
		}
		return v.File.Name
	}
	return "(skipped)"
}
