package analysis

import "fmt"

// Kind identifies one of the analysis operations. Loading and error state is tracked per kind.
type Kind string

const (
	KindInsight    Kind = "classroom_insight"
	KindCodeReview Kind = "code_review"
	KindSuggestion Kind = "message_suggestion"
)

// Kinds lists every Kind in a stable order.
var Kinds = []Kind{KindInsight, KindCodeReview, KindSuggestion}

const DefaultLanguage = "python"

// Inference server paths.
const (
	pathInsight    = "/api/ai/classroom-insights"
	pathCodeReview = "/api/ai/check-all-code"
	pathSuggestion = "/api/ai/message-suggest"
)

// Error is the single error type surfaced by the Service: the failure cause is flattened into Message.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// ResponseError is what a Backend returns when the inference server answers with a non-2xx status.
// Message holds the server-provided `error` field, if any.
type ResponseError struct {
	StatusCode int
	Message    string
}

func (e *ResponseError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("request failed with status code %d", e.StatusCode)
}

// State is the loading/error state of one Kind.
type State struct {
	Loading bool   `json:"loading"`
	Error   string `json:"error,omitempty"`
}

// Classroom insight

// StudentSummary is the per-student activity digest sent for a classroom insight.
// Durations are in minutes.
type StudentSummary struct {
	Name       string `json:"name"`
	ActiveTime int    `json:"active_time"`
	IdleTime   int    `json:"idle_time"`
	Switches   int    `json:"switches"`
	CurrentApp string `json:"current_app"`
	Violations int    `json:"violations"`
	Progress   int    `json:"progress"`
}

type Attention struct {
	Name    string `json:"name"`
	Reason  string `json:"reason"`
	Urgency string `json:"urgency,omitempty"`
	Action  string `json:"action,omitempty"`
}

type Insight struct {
	EngagementPercentage float64     `json:"engagement_percentage"` // 0-100
	Status               string      `json:"status"`                // good | warning | critical
	AttentionNeeded      []Attention `json:"attention_needed"`
	PositiveMoments      []string    `json:"positive_moments"`
	ClassMood            string      `json:"class_mood,omitempty"`
	Recommendation       string      `json:"recommendation"`
	PredictedIssues      []string    `json:"predicted_issues,omitempty"`
}

func (in *Insight) normalize() {
	switch {
	case in.EngagementPercentage < 0:
		in.EngagementPercentage = 0
	case in.EngagementPercentage > 100:
		in.EngagementPercentage = 100
	}
	if in.AttentionNeeded == nil {
		in.AttentionNeeded = []Attention{}
	}
	if in.PositiveMoments == nil {
		in.PositiveMoments = []string{}
	}
}

// Code review

// CodeSubmission is one student screen to review.
type CodeSubmission struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Screenshot string `json:"screenshot"` // base64 image
}

type Issue struct {
	Type        string `json:"type"` // syntax | logic | style | performance
	Description string `json:"description"`
	Severity    string `json:"severity,omitempty"`
	Line        *int   `json:"line"`
}

type StudentIssues struct {
	Name   string  `json:"name"`
	Issues []Issue `json:"issues"`
}

// CodeReview buckets the reviewed students by outcome.
type CodeReview struct {
	Correct   []string        `json:"correct"`
	HasIssues []StudentIssues `json:"has_issues"`
	Errors    []StudentIssues `json:"errors"`
	NoCode    []string        `json:"no_code"`
	OffTask   []string        `json:"off_task"`
}

func (r *CodeReview) normalize() {
	if r.Correct == nil {
		r.Correct = []string{}
	}
	if r.HasIssues == nil {
		r.HasIssues = []StudentIssues{}
	}
	if r.Errors == nil {
		r.Errors = []StudentIssues{}
	}
	if r.NoCode == nil {
		r.NoCode = []string{}
	}
	if r.OffTask == nil {
		r.OffTask = []string{}
	}
}

// Total is the number of students that made it into a bucket.
func (r CodeReview) Total() int {
	return len(r.Correct) + len(r.HasIssues) + len(r.Errors) + len(r.NoCode) + len(r.OffTask)
}

// Message suggestion

// MessageContext describes the situation of one student. Times are in minutes.
type MessageContext struct {
	Name            string   `json:"name"`
	CurrentActivity string   `json:"current_activity,omitempty"`
	DistractionTime int      `json:"distraction_time,omitempty"`
	Progress        int      `json:"progress,omitempty"`
	Issues          []string `json:"issues,omitempty"`
	TimeLeft        int      `json:"time_left,omitempty"`
	Personality     string   `json:"personality,omitempty"`
}

type Suggestion struct {
	Encouraging string `json:"encouraging,omitempty"`
	Direct      string `json:"direct,omitempty"`
	Helpful     string `json:"helpful,omitempty"`
	Message     string `json:"message,omitempty"`
}

// Text returns the suggested message: the first non-empty variant.
func (s Suggestion) Text() string {
	for _, v := range []string{s.Encouraging, s.Direct, s.Helpful, s.Message} {
		if v != "" {
			return v
		}
	}
	return ""
}
