package model

import "time"

type QuestionType string

const (
	ShortText    QuestionType = "short_text"
	LongText     QuestionType = "long_text"
	Email        QuestionType = "email"
	Number       QuestionType = "number"
	Date         QuestionType = "date"
	SingleChoice QuestionType = "single_choice"
	MultiChoice  QuestionType = "multi_choice"
	ImageChoice  QuestionType = "image_choice"
	Address      QuestionType = "address"
	FileUpload   QuestionType = "file_upload"
	Rating       QuestionType = "rating"
)

func (t QuestionType) Valid() bool {
	switch t {
	case ShortText, LongText, Email, Number, Date,
		SingleChoice, MultiChoice, ImageChoice,
		Address, FileUpload, Rating:
		return true
	}
	return false
}

func (t QuestionType) HasOptions() bool {
	return t == SingleChoice || t == MultiChoice || t == ImageChoice
}

type FormStatus string

const (
	FormDraft     FormStatus = "draft"
	FormPublished FormStatus = "published"
	FormClosed    FormStatus = "closed"
)

type Form struct {
	ID            int        `json:"id,omitempty"`
	Version       int        `json:"version,omitempty"`
	Owner         string     `json:"owner,omitempty"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	Status        FormStatus `json:"status,omitempty"`
	Branding      Branding   `json:"branding"`
	AI            AIConfig   `json:"ai"`
	ResponseLimit int        `json:"responseLimit"`
	Questions     []Question `json:"questions"`
	Integrations  []Webhook  `json:"integrations,omitempty"`
}

type Branding struct {
	LogoURL         string `json:"logoUrl,omitempty"`
	PrimaryColor    string `json:"primaryColor,omitempty"`
	BackgroundColor string `json:"backgroundColor,omitempty"`
}

// AIConfig controls adaptive follow-ups. MaxFollowUps bounds follow-ups per question.
type AIConfig struct {
	Adaptive     bool   `json:"adaptive"`
	MaxFollowUps int    `json:"maxFollowUps"`
	Tone         string `json:"tone,omitempty"`
}

type Webhook struct {
	URL    string `json:"url"`
	Secret string `json:"secret,omitempty"`
}

type Question struct {
	ID          int          `json:"id,omitempty"`
	Text        string       `json:"text"`
	Type        QuestionType `json:"type"`
	Options     []Option     `json:"options,omitempty"`
	Placeholder string       `json:"placeholder,omitempty"`
	Required    bool         `json:"required"`
}

type Option struct {
	Text     string `json:"text"`
	ImageURL string `json:"imageUrl,omitempty"`
}

// QuestionIndex returns the position of the question in the form, or -1.
func (f *Form) QuestionIndex(questionID int) int {
	for i, q := range f.Questions {
		if q.ID == questionID {
			return i
		}
	}
	return -1
}

// Unlimited reports whether the form has no monthly response quota.
func (f *Form) Unlimited() bool {
	return f.ResponseLimit <= 0
}

type SessionStatus string

const (
	InProgress SessionStatus = "in_progress"
	Completed  SessionStatus = "completed"
	Abandoned  SessionStatus = "abandoned"
)

// Session is one respondent's pass through a form.
type Session struct {
	ID          string        `json:"id"`
	FormID      int           `json:"formId"`
	Status      SessionStatus `json:"status"`
	StartedAt   time.Time     `json:"startedAt"`
	CompletedAt *time.Time    `json:"completedAt,omitempty"`
	Cursor      int           `json:"cursor"`
	// FollowUps counts adaptive follow-ups asked for the question at Cursor.
	FollowUps int `json:"followUps"`
	// PendingFollowUp is set while the last assistant prompt is an adaptive follow-up.
	PendingFollowUp bool       `json:"pendingFollowUp"`
	NotifiedAt      *time.Time `json:"notifiedAt,omitempty"`
}

func (s *Session) Terminal() bool {
	return s.Status != InProgress
}

type Answer struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"sessionId"`
	QuestionID int       `json:"questionId"`
	Value      Value     `json:"value"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type Role string

const (
	RoleAssistant Role = "assistant"
	RoleUser      Role = "user"
)

// Message is one dialogue turn. Seq is the canonical order within a transcript.
type Message struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"sessionId"`
	Seq        int       `json:"seq"`
	Role       Role      `json:"role"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"createdAt"`
	QuestionID *int      `json:"questionId,omitempty"`
	Adaptive   bool      `json:"adaptive,omitempty"`
}

// Response is a session joined with its answers, as listed to form owners.
type Response struct {
	Session Session         `json:"session"`
	Answers []AnsweredField `json:"answers"`
}

type AnsweredField struct {
	QuestionID int    `json:"questionId"`
	Question   string `json:"question"`
	Value      Value  `json:"value"`
}
