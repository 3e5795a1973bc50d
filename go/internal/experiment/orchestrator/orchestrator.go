// Package orchestrator runs experiment sessions. Every session is owned by a
// single actor goroutine that processes its inbox in order; timers and
// stand-in lookups run off the actor and only post messages back to it.
package orchestrator

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/marketlab/go/internal/experiment/events"
	"github.com/mcdev12/marketlab/go/internal/experiment/ledger"
	"github.com/mcdev12/marketlab/go/internal/experiment/pairing"
	"github.com/mcdev12/marketlab/go/internal/experiment/payoff"
	"github.com/mcdev12/marketlab/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Clock is the subset of clockwork.Clock the sessions use.
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) clockwork.Timer
	NewTicker(d time.Duration) clockwork.Ticker
}

// Emitter delivers events to the connections of a session.
type Emitter interface {
	// Broadcast sends event to every connection registered for sessionCode.
	Broadcast(sessionCode string, event *events.Event)
	// SendTo sends event to a single connection.
	SendTo(sessionCode, connID string, event *events.Event)
}

// Sink persists session records. Calls happen off the session actor, in
// emission order.
type Sink interface {
	RecordSession(ctx context.Context, rec models.SessionRecord) error
	RecordAssignments(ctx context.Context, rec models.AssignmentRecord) error
	RecordRound(ctx context.Context, rec models.RoundRecord) error
	RecordCompletion(ctx context.Context, rec models.CompletionRecord) error
	// FinishedSession returns the archive of a completed session, or an
	// error wrapping models.ErrNotFound.
	FinishedSession(ctx context.Context, code string) (*models.SessionArchive, error)
}

type nopSink struct{}

func (nopSink) RecordSession(context.Context, models.SessionRecord) error       { return nil }
func (nopSink) RecordAssignments(context.Context, models.AssignmentRecord) error { return nil }
func (nopSink) RecordRound(context.Context, models.RoundRecord) error           { return nil }
func (nopSink) RecordCompletion(context.Context, models.CompletionRecord) error { return nil }
func (nopSink) FinishedSession(_ context.Context, code string) (*models.SessionArchive, error) {
	return nil, fmt.Errorf("%w: no archive for %s", models.ErrNotFound, code)
}

// Advisor suggests a decision for a stand-in.
type Advisor interface {
	SuggestDecision(ctx context.Context, req models.SuggestRequest) (float64, error)
}

// Options tune the registry and its sessions. Zero values take defaults.
type Options struct {
	Clock           Clock
	TickInterval    time.Duration
	AwayAfter       time.Duration
	AdvisorTimeout  time.Duration
	RetainCompleted time.Duration
	SinkTimeout     time.Duration
	InboxSize       int
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		Clock:           clockwork.NewRealClock(),
		TickInterval:    time.Second,
		AwayAfter:       30 * time.Second,
		AdvisorTimeout:  3 * time.Second,
		RetainCompleted: 10 * time.Minute,
		SinkTimeout:     5 * time.Second,
		InboxSize:       64,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Clock == nil {
		o.Clock = d.Clock
	}
	if o.TickInterval <= 0 {
		o.TickInterval = d.TickInterval
	}
	if o.AwayAfter <= 0 {
		o.AwayAfter = d.AwayAfter
	}
	if o.AdvisorTimeout <= 0 {
		o.AdvisorTimeout = d.AdvisorTimeout
	}
	if o.RetainCompleted <= 0 {
		o.RetainCompleted = d.RetainCompleted
	}
	if o.SinkTimeout <= 0 {
		o.SinkTimeout = d.SinkTimeout
	}
	if o.InboxSize <= 0 {
		o.InboxSize = d.InboxSize
	}
	return o
}

// Info is the published summary of a session. It is refreshed after every
// message the actor handles and can be read without touching the actor.
// Submitted and Expected count the decisions of the open phase.
type Info struct {
	models.SessionInfo
	Phase        models.Phase `json:"phase,omitempty"`
	Participants int          `json:"participants"`
	Connected    int          `json:"connected"`
	HasStandIn   bool         `json:"has_stand_in"`
	Submitted    int          `json:"submitted"`
	Expected     int          `json:"expected"`
}

// JoinRequest is a join or rejoin of one connection.
type JoinRequest struct {
	Name         string                 `json:"name"`
	Role         models.ParticipantRole `json:"role"`
	RejoinToken  string                 `json:"rejoin_token,omitempty"`
	InstructorID string                 `json:"instructor_id,omitempty"`
	ConnID       string                 `json:"-"`
}

// JoinResult is returned to the joining connection.
type JoinResult struct {
	ConnID        string               `json:"conn_id"`
	ParticipantID uuid.UUID            `json:"participant_id"`
	RejoinToken   string               `json:"rejoin_token,omitempty"`
	Status        models.SessionStatus `json:"status"`
	ReadOnly      bool                 `json:"read_only"`
	History       []models.RoundResult `json:"history,omitempty"`
}

type record struct {
	kind string
	fn   func(ctx context.Context) error
}

// Session is the actor owning one experiment session. All fields below the
// inbox are touched only by the actor goroutine.
type Session struct {
	code         string
	name         string
	instructorID string
	cfg          models.SessionConfig
	model        payoff.Model
	createdAt    time.Time

	inbox   chan message
	done    chan struct{}
	records chan record
	info    atomic.Pointer[Info]

	clock    Clock
	emitter  Emitter
	sink     Sink
	fallback *FallbackStrategy
	pairing  *pairing.Engine
	opts     Options

	status        models.SessionStatus
	round         int
	phase         models.Phase
	finishing     bool
	phaseStarted  time.Time
	phaseDuration time.Duration

	participants map[uuid.UUID]*models.Participant
	byConn       map[string]uuid.UUID
	order        []uuid.UUID
	standIn      *models.Participant
	pairs        []*models.Pair
	pairOf       map[uuid.UUID]*models.Pair
	ledger       *ledger.Ledger
	history      []models.RoundResult
	presence     map[uuid.UUID]models.PresenceStatus

	epoch         uint64
	timer         *phaseTimer
	standInCancel context.CancelFunc
}

func newSession(code, instructorID, name string, cfg models.SessionConfig, model payoff.Model, emitter Emitter, sink Sink, fallback *FallbackStrategy, opts Options) *Session {
	return &Session{
		code:         code,
		name:         name,
		instructorID: instructorID,
		cfg:          cfg,
		model:        model,
		createdAt:    opts.Clock.Now(),
		inbox:        make(chan message, opts.InboxSize),
		done:         make(chan struct{}),
		records:      make(chan record, 256),
		clock:        opts.Clock,
		emitter:      emitter,
		sink:         sink,
		fallback:     fallback,
		pairing:      pairing.NewEngine(),
		opts:         opts,
		status:       models.SessionStatusSetup,
		participants: make(map[uuid.UUID]*models.Participant),
		byConn:       make(map[string]uuid.UUID),
		pairOf:       make(map[uuid.UUID]*models.Pair),
		ledger:       ledger.New(),
		presence:     make(map[uuid.UUID]models.PresenceStatus),
	}
}

// run is the actor loop. It returns when ctx is cancelled or the session is
// evicted, then calls onExit.
func (s *Session) run(ctx context.Context, onExit func(*Session)) {
	recorderDone := make(chan struct{})
	go s.recorder(recorderDone)

	defer func() {
		s.cancelTimer()
		s.cancelStandIns()
		close(s.done)
		close(s.records)
		<-recorderDone
		if onExit != nil {
			onExit(s)
		}
		log.Info().Str("session_code", s.code).Msg("session actor stopped")
	}()

	s.publish()
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-s.inbox:
			if stop := s.handle(m); stop {
				return
			}
			s.publish()
		}
	}
}

// post delivers m to the inbox unless cancel fires or the actor has exited.
func (s *Session) post(m message, cancel <-chan struct{}) bool {
	select {
	case s.inbox <- m:
		return true
	case <-cancel:
		return false
	case <-s.done:
		return false
	}
}

// errSessionGone is returned when the actor exits while a request is queued.
var errSessionGone = fmt.Errorf("%w: session is no longer active", models.ErrNotFound)

// ask enqueues m and waits for the actor to answer on reply.
func ask[T any](ctx context.Context, s *Session, m message, reply <-chan T) (T, error) {
	var zero T
	select {
	case s.inbox <- m:
	case <-s.done:
		return zero, errSessionGone
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	select {
	case r := <-reply:
		return r, nil
	case <-s.done:
		return zero, errSessionGone
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// record queues a sink call. The recorder drains the queue in order.
func (s *Session) record(kind string, fn func(ctx context.Context) error) {
	s.records <- record{kind: kind, fn: fn}
}

func (s *Session) recorder(done chan<- struct{}) {
	defer close(done)
	for r := range s.records {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.SinkTimeout)
		if err := r.fn(ctx); err != nil {
			log.Error().
				Err(err).
				Str("session_code", s.code).
				Str("record", r.kind).
				Msg("failed to record session data")
		}
		cancel()
	}
}

// Info returns the last published summary.
func (s *Session) Info() Info {
	if info := s.info.Load(); info != nil {
		return *info
	}
	return Info{}
}

func (s *Session) publish() {
	info := &Info{
		SessionInfo: s.sessionInfo(),
		Phase:       s.phase,
		HasStandIn:  s.standIn != nil,
	}
	info.Submitted, info.Expected = s.ledger.Progress()
	for _, p := range s.participants {
		if p.Role != models.ParticipantRoleParticipant {
			continue
		}
		info.Participants++
		if p.Connected {
			info.Connected++
		}
	}
	s.info.Store(info)
}

func (s *Session) sessionInfo() models.SessionInfo {
	return models.SessionInfo{
		Code:         s.code,
		Name:         s.name,
		InstructorID: s.instructorID,
		Status:       s.status,
		CurrentRound: s.round,
		Config:       s.cfg,
		CreatedAt:    s.createdAt,
	}
}

func (s *Session) sendTo(p *models.Participant, typ events.Type, payload any) {
	if p == nil || !p.Connected || p.IsStandIn() {
		return
	}
	s.sendToConn(p.ConnID(), typ, payload)
}

func (s *Session) sendToConn(connID string, typ events.Type, payload any) {
	evt, err := events.New(s.code, typ, payload, s.clock.Now())
	if err != nil {
		log.Error().Err(err).Str("session_code", s.code).Msg("failed to build event")
		return
	}
	s.emitter.SendTo(s.code, connID, evt)
}

func (s *Session) broadcast(typ events.Type, payload any) {
	evt, err := events.New(s.code, typ, payload, s.clock.Now())
	if err != nil {
		log.Error().Err(err).Str("session_code", s.code).Msg("failed to build event")
		return
	}
	s.emitter.Broadcast(s.code, evt)
}

// each calls fn for participants in join order.
func (s *Session) each(fn func(p *models.Participant)) {
	for _, id := range s.order {
		if p, ok := s.participants[id]; ok {
			fn(p)
		}
	}
}

func (s *Session) instructors(fn func(p *models.Participant)) {
	s.each(func(p *models.Participant) {
		if p.Role == models.ParticipantRoleInstructor {
			fn(p)
		}
	})
}

// humanIDs returns the participant-role humans in join order.
func (s *Session) humanIDs() []uuid.UUID {
	var ids []uuid.UUID
	s.each(func(p *models.Participant) {
		if p.Role == models.ParticipantRoleParticipant && !p.IsStandIn() {
			ids = append(ids, p.ID)
		}
	})
	return ids
}
