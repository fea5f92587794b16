// Package orchestration runs each inbound message through the guardrail,
// intent extraction, session and activity steps, and hands the structured
// result to an Answerer for the user-facing text. The Answerer runs after the
// session lock is released, so slow data, completion or rendering calls never
// hold up the next message of the same session.
package orchestration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aixgo-dev/sentichat/internal/observability"
	"github.com/aixgo-dev/sentichat/pkg/activity"
	"github.com/aixgo-dev/sentichat/pkg/chart"
	"github.com/aixgo-dev/sentichat/pkg/dataset"
	"github.com/aixgo-dev/sentichat/pkg/guardrail"
	"github.com/aixgo-dev/sentichat/pkg/intent"
	pobs "github.com/aixgo-dev/sentichat/pkg/observability"
	"github.com/aixgo-dev/sentichat/pkg/session"
	"github.com/sirupsen/logrus"
)

// State is a step of the per-message state machine.
type State string

const (
	StateReceived         State = "RECEIVED"
	StateGuardrailChecked State = "GUARDRAIL_CHECKED"
	StateBlocked          State = "BLOCKED"
	StateIntentExtracted  State = "INTENT_EXTRACTED"
	StateChartRequested   State = "CHART_REQUESTED"
	StateDataAnswer       State = "DATA_ANSWER"
	StateBlockResponse    State = "BLOCK_RESPONSE"
	StateRecorded         State = "RECORDED"
	StateResponded        State = "RESPONDED"
)

// ErrSessionUnavailable is returned when the session store cannot be read or
// written. It is the only error Handle returns for a well-formed request.
var ErrSessionUnavailable = errors.New("session store unavailable")

// ErrEmptyMessage is returned for requests with no text.
var ErrEmptyMessage = errors.New("message is empty")

// AnswerFailedMessage replaces the answer text when the Answerer fails.
const AnswerFailedMessage = "I'm having trouble with that request. Could you try rephrasing your question or asking something else?"

// Classifier decides whether a message may be processed.
type Classifier interface {
	Classify(key, text string) guardrail.Verdict
}

// IntentExtractor reads a message against the previous intent of its session.
type IntentExtractor interface {
	Extract(text string, prior *intent.Intent) intent.Intent
}

// ActivityRecorder stores one outcome per processed message. It must not
// panic or block the caller on failure.
type ActivityRecorder interface {
	SafeRecord(r activity.Record)
}

// Answerer turns the structured outcome of an allowed message into the
// assistant's reply. It is only called for allowed messages.
type Answerer interface {
	Answer(ctx context.Context, req AnswerRequest) (*Answer, error)
}

// AnswerRequest is what an Answerer receives.
type AnswerRequest struct {
	Text      string
	Intent    intent.Intent
	ChartSpec *chart.Spec
	DataQuery *chart.DataQuery
	// History holds the session's turns before this message, oldest first.
	History []session.Turn
}

// Answer is an Answerer's reply. ChartError is set when a chart was asked
// for but could not be validated or drawn.
type Answer struct {
	Text       string            `json:"text"`
	ChartSpec  *chart.Spec       `json:"chart_spec,omitempty"`
	ChartImage []byte            `json:"chart_image,omitempty"`
	ChartError string            `json:"chart_error,omitempty"`
	Summaries  []dataset.Summary `json:"summaries,omitempty"`
}

// Request is one inbound message.
type Request struct {
	// SessionID may be empty or unknown, in which case a session is created.
	SessionID string
	// ClientKey identifies the caller for rate limiting. The session id is
	// used when it is empty.
	ClientKey string
	Text      string
	// DataOnly answers with figures even when the message asks for a chart.
	DataOnly bool
}

// Result is the structured outcome of one message.
type Result struct {
	SessionID     string             `json:"session_id"`
	Allowed       bool               `json:"allowed"`
	BlockCategory guardrail.Category `json:"block_category,omitempty"`
	// Message is the assistant text recorded in the session.
	Message   string           `json:"message"`
	Intent    *intent.Intent   `json:"intent,omitempty"`
	ChartSpec *chart.Spec      `json:"chart_spec,omitempty"`
	DataQuery *chart.DataQuery `json:"data_query,omitempty"`
	Answer    *Answer          `json:"answer,omitempty"`
	Trace     []State          `json:"trace"`
}

func (r *Result) enter(span *observability.Span, s State) {
	r.Trace = append(r.Trace, s)
	span.AddEvent(string(s), nil)
}

// Orchestrator coordinates the message pipeline.
type Orchestrator struct {
	sessions  session.Store
	guard     Classifier
	extractor IntentExtractor
	activity  ActivityRecorder
	answerer  Answerer
	locker    *session.Locker
	span      func() intent.DateRange
	now       func() time.Time
	logger    logrus.FieldLogger
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithAnswerer sets the Answerer. Without one the reply is a short
// acknowledgement of the structured request.
func WithAnswerer(a Answerer) Option {
	return func(o *Orchestrator) {
		o.answerer = a
	}
}

// WithActivity sets where outcomes are recorded.
func WithActivity(r ActivityRecorder) Option {
	return func(o *Orchestrator) {
		o.activity = r
	}
}

// WithDatasetSpan sets the source of the default chart range.
func WithDatasetSpan(span func() intent.DateRange) Option {
	return func(o *Orchestrator) {
		o.span = span
	}
}

// WithClock sets the clock used for turn and record timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// WithLogger sets the logger
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// New creates an Orchestrator. sessions, guard and extractor are required.
func New(sessions session.Store, guard Classifier, extractor IntentExtractor, opts ...Option) *Orchestrator {
	if sessions == nil || guard == nil || extractor == nil {
		panic("orchestration: sessions, guard and extractor are required")
	}
	o := &Orchestrator{
		sessions:  sessions,
		guard:     guard,
		extractor: extractor,
		locker:    session.NewLocker(),
		span:      func() intent.DateRange { return intent.DateRange{} },
		now:       time.Now,
		logger:    logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Handle processes one message. The structured steps of messages in the
// same session run one at a time; answering does not.
func (o *Orchestrator) Handle(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyMessage
	}

	ctx, span := observability.StartSpan(ctx, "orchestration.handle", map[string]any{
		"orchestration.session_supplied": req.SessionID != "",
		"orchestration.data_only":        req.DataOnly,
	})
	defer span.End()

	res, next, err := o.process(ctx, span, req)
	if err != nil {
		span.SetError(err)
		pobs.RecordPipeline("error", time.Since(start))
		return nil, err
	}

	outcome := "blocked"
	if next != nil {
		outcome = "data"
		if next.req.ChartSpec != nil {
			outcome = "chart"
		}
		o.reply(ctx, res, next)
	}

	res.enter(span, StateResponded)
	pobs.RecordPipeline(outcome, time.Since(start))
	return res, nil
}

// pending is an allowed message whose turn is stored with a provisional
// reply until the Answerer is done.
type pending struct {
	req    AnswerRequest
	turnID string
}

// process runs the structured pipeline under the session lock, up to and
// including the activity record. It returns nil pending for blocked messages.
func (o *Orchestrator) process(ctx context.Context, span *observability.Span, req Request) (*Result, *pending, error) {
	res := &Result{}
	res.enter(span, StateReceived)

	if guardrail.ValidSessionID(req.SessionID) {
		unlock := o.locker.Lock(req.SessionID)
		defer unlock()
	}
	sess, err := o.resolveSession(ctx, req.SessionID)
	if err != nil {
		return nil, nil, err
	}
	if sess.ID != req.SessionID {
		unlock := o.locker.Lock(sess.ID)
		defer unlock()
	}
	res.SessionID = sess.ID
	span.SetAttribute("orchestration.session_new", sess.ID != req.SessionID)

	key := req.ClientKey
	if key == "" {
		key = sess.ID
	}
	verdict := o.classify(key, req.Text)
	res.enter(span, StateGuardrailChecked)

	record := activity.Record{SessionID: sess.ID}
	var next *pending

	if !verdict.Allowed() {
		res.enter(span, StateBlocked)
		res.BlockCategory = verdict.Category
		res.Message = guardrail.BlockMessage(verdict.Category)
		res.enter(span, StateBlockResponse)
		span.SetAttribute("orchestration.block_category", string(verdict.Category))

		record.Blocked = true
		record.BlockCategory = verdict.Category
	} else {
		res.Allowed = true
		in := o.extract(req.Text, sess.LastIntent)
		res.Intent = &in
		res.enter(span, StateIntentExtracted)

		ar := AnswerRequest{Text: req.Text, Intent: in.Clone(), History: sess.History(0)}
		if in.WantsChart && !req.DataOnly {
			r := o.span()
			if in.DateRange != nil {
				r = in.DateRange.Resolve(r)
			}
			spec := chart.NewSpec(in.Countries, r, in.ChartType)
			res.ChartSpec = &spec
			ar.ChartSpec = &spec
			res.enter(span, StateChartRequested)
			record.QueryKind = activity.KindChart
		} else {
			dq := chart.DataQuery{Countries: append([]string{}, in.Countries...)}
			if in.DateRange != nil {
				r := *in.DateRange
				dq.DateRange = &r
			}
			res.DataQuery = &dq
			ar.DataQuery = &dq
			res.enter(span, StateDataAnswer)
			record.QueryKind = activity.KindText
			if req.DataOnly || len(in.Countries) > 0 {
				record.QueryKind = activity.KindDataQuery
			}
		}
		record.Countries = in.Countries

		res.Message = acknowledge(ar)
		next = &pending{req: ar}
	}

	// The turn and the last intent are written together so a failed write
	// leaves the session as it was.
	turn := session.NewTurn(req.Text, res.Message, !res.Allowed, o.now())
	if err := o.sessions.AppendTurn(ctx, sess.ID, turn, res.Intent); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrSessionUnavailable, err)
	}
	if next != nil {
		next.turnID = turn.ID
	}

	record.Timestamp = turn.User.Timestamp
	if o.activity != nil {
		o.activity.SafeRecord(record)
	}
	res.enter(span, StateRecorded)
	return res, next, nil
}

// reply asks the Answerer for the final text and stores it in place of the
// provisional reply. Only the store write takes the session lock.
func (o *Orchestrator) reply(ctx context.Context, res *Result, p *pending) {
	if o.answerer == nil {
		return
	}
	res.Message, res.Answer = o.answer(ctx, p.req)

	unlock := o.locker.Lock(res.SessionID)
	defer unlock()
	// The caller may have given up while the Answerer ran; the turn is still
	// worth completing.
	if err := o.sessions.SetReply(context.WithoutCancel(ctx), res.SessionID, p.turnID, res.Message); err != nil {
		o.logger.WithError(err).WithField("session_id", res.SessionID).Warn("reply not stored")
	}
}

// resolveSession returns the caller's session, or a new one when the id is
// missing, malformed, unknown or expired.
func (o *Orchestrator) resolveSession(ctx context.Context, id string) (*session.Session, error) {
	if guardrail.ValidSessionID(id) {
		sess, err := o.sessions.Get(ctx, id)
		if err == nil {
			return sess, nil
		}
		if !errors.Is(err, session.ErrSessionNotFound) {
			return nil, fmt.Errorf("%w: %w", ErrSessionUnavailable, err)
		}
	}
	sess, err := o.sessions.Create(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSessionUnavailable, err)
	}
	return sess, nil
}

// classify treats a panicking classifier as "no match".
func (o *Orchestrator) classify(key, text string) (v guardrail.Verdict) {
	defer func() {
		if p := recover(); p != nil {
			o.logger.WithField("panic", p).Error("guardrail panicked, treating message as allowed")
			v = guardrail.Verdict{Category: guardrail.CategoryNone}
		}
	}()
	return o.guard.Classify(key, text)
}

// extract treats a panicking extractor as having recognized nothing.
func (o *Orchestrator) extract(text string, prior *intent.Intent) (in intent.Intent) {
	defer func() {
		if p := recover(); p != nil {
			o.logger.WithField("panic", p).Error("intent extraction panicked, using empty intent")
			in = intent.Intent{Countries: []string{}}
		}
	}()
	return o.extractor.Extract(text, prior)
}

func (o *Orchestrator) answer(ctx context.Context, req AnswerRequest) (string, *Answer) {
	ans, err := o.answerer.Answer(ctx, req)
	if err != nil || ans == nil {
		o.logger.WithError(err).Warn("answer failed")
		return AnswerFailedMessage, nil
	}
	return ans.Text, ans
}

// acknowledge describes the structured request. It is the stored reply until
// the Answerer finishes, and the final one when there is no Answerer.
func acknowledge(req AnswerRequest) string {
	if req.ChartSpec != nil {
		return fmt.Sprintf("Preparing a %s chart for %s (%s).",
			req.ChartSpec.ChartType, countryList(req.ChartSpec.Countries), req.ChartSpec.DateRange.String())
	}
	if req.DataQuery == nil || len(req.DataQuery.Countries) == 0 {
		return "Looking up sentiment across the dataset."
	}
	period := "full dataset span"
	if req.DataQuery.DateRange != nil {
		period = req.DataQuery.DateRange.String()
	}
	return fmt.Sprintf("Looking up sentiment for %s (%s).", countryList(req.DataQuery.Countries), period)
}

func countryList(codes []string) string {
	if len(codes) == 0 {
		return "no countries"
	}
	names := make([]string, len(codes))
	for i, c := range codes {
		names[i] = intent.CountryName(c)
	}
	return strings.Join(names, ", ")
}
