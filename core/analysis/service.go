package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/trezcool/classguard/core"
)

// Default per-kind timeouts.
const (
	DefaultInsightTimeout    = 15 * time.Second
	DefaultCodeReviewTimeout = 30 * time.Second
	DefaultSuggestTimeout    = 10 * time.Second
)

var fallbackMessages = map[Kind]string{
	KindInsight:    "AI analysis failed",
	KindCodeReview: "Code review failed",
	KindSuggestion: "Message generation failed",
}

// Backend performs one JSON POST against the inference server and decodes the response into `out`.
// Non-2xx answers must be reported as a *ResponseError.
type Backend interface {
	Post(ctx context.Context, path string, in, out interface{}) error
}

type Options struct {
	InsightTimeout    time.Duration
	CodeReviewTimeout time.Duration
	SuggestTimeout    time.Duration

	Logger  core.Logger
	Metrics core.Metrics
}

type kindState struct {
	inFlight int
	lastErr  string
}

// Service runs analysis requests against the inference server.
// Requests are never retried and only end on their own timeout: a caller giving up on its ctx stops waiting,
// the request keeps running for whoever else shares it.
type Service struct {
	backend  Backend
	timeouts map[Kind]time.Duration
	log      core.Logger
	metrics  core.Metrics

	flights singleflight.Group

	mu     sync.Mutex
	states map[Kind]*kindState
}

func NewService(backend Backend, opts Options) *Service {
	svc := &Service{
		backend: backend,
		timeouts: map[Kind]time.Duration{
			KindInsight:    opts.InsightTimeout,
			KindCodeReview: opts.CodeReviewTimeout,
			KindSuggestion: opts.SuggestTimeout,
		},
		log:     opts.Logger,
		metrics: opts.Metrics,
		states:  make(map[Kind]*kindState, len(Kinds)),
	}
	defaults := map[Kind]time.Duration{
		KindInsight:    DefaultInsightTimeout,
		KindCodeReview: DefaultCodeReviewTimeout,
		KindSuggestion: DefaultSuggestTimeout,
	}
	for _, k := range Kinds {
		if svc.timeouts[k] <= 0 {
			svc.timeouts[k] = defaults[k]
		}
		svc.states[k] = &kindState{}
	}
	if svc.log == nil {
		svc.log = core.NopLogger
	}
	if svc.metrics == nil {
		svc.metrics = core.NopMetrics
	}
	return svc
}

// ClassroomInsight asks for a classroom-wide engagement analysis.
func (svc *Service) ClassroomInsight(ctx context.Context, students map[string]StudentSummary) (Insight, error) {
	if students == nil {
		students = map[string]StudentSummary{}
	}
	in := struct {
		Students map[string]StudentSummary `json:"students"`
	}{students}

	var insight Insight
	if err := svc.do(ctx, KindInsight, pathInsight, in, &insight); err != nil {
		return Insight{}, err
	}
	insight.normalize()
	return insight, nil
}

// CodeReview asks for a review of the code visible on each submitted screen. Submissions are forwarded as-is.
func (svc *Service) CodeReview(ctx context.Context, subs []CodeSubmission, language string) (CodeReview, error) {
	if subs == nil {
		subs = []CodeSubmission{}
	}
	if language = core.CleanString(language, true); language == "" {
		language = DefaultLanguage
	}
	in := struct {
		Students []CodeSubmission `json:"students"`
		Language string           `json:"language"`
	}{subs, language}

	var review CodeReview
	if err := svc.do(ctx, KindCodeReview, pathCodeReview, in, &review); err != nil {
		return CodeReview{}, err
	}
	review.normalize()
	return review, nil
}

// SuggestMessage asks for message variants to send to one student.
func (svc *Service) SuggestMessage(ctx context.Context, mc MessageContext) (Suggestion, error) {
	var sugg Suggestion
	if err := svc.do(ctx, KindSuggestion, pathSuggestion, mc, &sugg); err != nil {
		return Suggestion{}, err
	}
	return sugg, nil
}

// do runs one request of `kind`. Concurrent calls with the same payload share a single round trip.
func (svc *Service) do(ctx context.Context, kind Kind, path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return &Error{Kind: kind, Message: errors.Wrap(err, "encoding request").Error()}
	}

	svc.begin(kind)
	start := time.Now()

	ch := svc.flights.DoChan(string(kind)+":"+string(body), func() (interface{}, error) {
		return svc.roundTrip(kind, path, json.RawMessage(body))
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		res.Err = ctx.Err()
	}

	if res.Err == nil {
		if err := json.Unmarshal(res.Val.(json.RawMessage), out); err != nil {
			res.Err = errors.Wrap(err, "decoding response")
		}
	}

	var aErr *Error
	if res.Err != nil {
		aErr = svc.toError(kind, res.Err)
		svc.metrics.IncCounter(core.MetricAnalysisFailures, string(kind))
		svc.log.Warn("analysis request failed", map[string]interface{}{"kind": kind, "error": aErr.Message, "shared": res.Shared})
	}
	svc.metrics.ObserveDuration(core.MetricAnalysisLatency, time.Since(start), string(kind))
	svc.end(kind, aErr)

	if aErr != nil {
		return aErr
	}
	return nil
}

func (svc *Service) roundTrip(kind Kind, path string, body json.RawMessage) (interface{}, error) {
	timeout := svc.timeouts[kind]
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var raw json.RawMessage
	err := svc.backend.Post(ctx, path, body, &raw)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, &timeoutError{timeout: timeout}
		}
		return nil, err
	}
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	return raw, nil
}

// toError collapses any failure into an *Error: the server-reported message first, then the error text,
// then the fallback of the kind.
func (svc *Service) toError(kind Kind, err error) *Error {
	var msg string
	var rErr *ResponseError
	if errors.As(err, &rErr) {
		msg = rErr.Message
	}
	if msg == "" {
		msg = err.Error()
	}
	if msg == "" {
		msg = fallbackMessages[kind]
	}
	return &Error{Kind: kind, Message: msg}
}

type timeoutError struct {
	timeout time.Duration
}

func (e *timeoutError) Error() string {
	return fmt.Sprintf("timeout of %dms exceeded", e.timeout.Milliseconds())
}

// State

func (svc *Service) begin(kind Kind) {
	svc.mu.Lock()
	st := svc.states[kind]
	st.inFlight++
	st.lastErr = ""
	svc.mu.Unlock()
}

func (svc *Service) end(kind Kind, err *Error) {
	svc.mu.Lock()
	st := svc.states[kind]
	st.inFlight--
	if err != nil {
		st.lastErr = err.Message
	}
	svc.mu.Unlock()
}

// State reports whether `kind` has requests in flight and the last error it ended with.
func (svc *Service) State(kind Kind) State {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	st, ok := svc.states[kind]
	if !ok {
		return State{}
	}
	return State{Loading: st.inFlight > 0, Error: st.lastErr}
}

// States returns the State of every kind.
func (svc *Service) States() map[Kind]State {
	states := make(map[Kind]State, len(Kinds))
	for _, k := range Kinds {
		states[k] = svc.State(k)
	}
	return states
}

// Loading reports whether any request is in flight.
func (svc *Service) Loading() bool {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	for _, st := range svc.states {
		if st.inFlight > 0 {
			return true
		}
	}
	return false
}
