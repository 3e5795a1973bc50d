package orchestrator

import (
	"context"
	crand "crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/mcdev12/marketlab/go/internal/experiment/payoff"
	"github.com/mcdev12/marketlab/go/internal/models"
	"github.com/rs/zerolog/log"
)

const (
	// CodeChars excludes characters that are easy to confuse (0/O, 1/I).
	CodeChars  = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	CodeLength = 6

	maxSessionNameLength = 80
	maxCodeAttempts      = 16
)

// Registry owns every live session actor. Lookups take a read lock and never
// touch session state; all session work happens on the session's actor.
type Registry struct {
	ctx      context.Context
	emitter  Emitter
	sink     Sink
	fallback *FallbackStrategy
	opts     Options

	mu       sync.RWMutex
	sessions map[string]*Session
	wg       sync.WaitGroup
}

// NewRegistry creates a registry whose session actors live until ctx is
// cancelled. sink and advisor may be nil.
func NewRegistry(ctx context.Context, emitter Emitter, sink Sink, advisor Advisor, opts Options) *Registry {
	opts = opts.withDefaults()
	if sink == nil {
		sink = nopSink{}
	}
	return &Registry{
		ctx:      ctx,
		emitter:  emitter,
		sink:     sink,
		fallback: NewFallbackStrategy(advisor, opts.AdvisorTimeout),
		opts:     opts,
		sessions: make(map[string]*Session),
	}
}

// NormalizeCode upper-cases and validates a session code.
func NormalizeCode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != CodeLength {
		return "", fmt.Errorf("%w: session code must be %d characters", models.ErrValidation, CodeLength)
	}
	for _, c := range code {
		if !strings.ContainsRune(CodeChars, c) {
			return "", fmt.Errorf("%w: session code contains invalid character %q", models.ErrValidation, c)
		}
	}
	return code, nil
}

func generateCode() (string, error) {
	code := make([]byte, CodeLength)
	limit := big.NewInt(int64(len(CodeChars)))
	for i := range code {
		n, err := crand.Int(crand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("%w: generate session code: %v", models.ErrInternal, err)
		}
		code[i] = CodeChars[n.Int64()]
	}
	return string(code), nil
}

// CreateSession validates cfg, starts a new session actor in the setup state
// and returns its code.
func (r *Registry) CreateSession(ctx context.Context, instructorID, name string, cfg models.SessionConfig) (string, error) {
	instructorID = strings.TrimSpace(instructorID)
	if instructorID == "" {
		return "", fmt.Errorf("%w: instructor id is required", models.ErrValidation)
	}
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > maxSessionNameLength {
		return "", fmt.Errorf("%w: session name must be 1-%d characters", models.ErrValidation, maxSessionNameLength)
	}
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	model, err := payoff.New(cfg.Model, cfg.Params)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var code string
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		candidate, err := generateCode()
		if err != nil {
			return "", err
		}
		if _, taken := r.sessions[candidate]; !taken {
			code = candidate
			break
		}
	}
	if code == "" {
		return "", fmt.Errorf("%w: could not allocate a unique session code", models.ErrInternal)
	}

	s := newSession(code, instructorID, name, cfg, model, r.emitter, r.sink, r.fallback, r.opts)
	rec := models.SessionRecord{Info: s.sessionInfo()}
	s.record("session", func(ctx context.Context) error {
		return r.sink.RecordSession(ctx, rec)
	})
	s.publish()

	r.sessions[code] = s
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		s.run(r.ctx, r.remove)
	}()

	log.Info().
		Str("session_code", code).
		Str("instructor_id", instructorID).
		Str("game", string(cfg.Game)).
		Int("rounds", cfg.Rounds).
		Msg("session created")
	return code, nil
}

func (r *Registry) remove(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[s.code]; ok && cur == s {
		delete(r.sessions, s.code)
	}
}

func (r *Registry) lookup(code string) (*Session, error) {
	code, err := NormalizeCode(code)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	s, ok := r.sessions[code]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: session %s", models.ErrNotFound, code)
	}
	return s, nil
}

func (r *Registry) instructorCommand(ctx context.Context, code, instructorID string, action instructorAction) error {
	s, err := r.lookup(code)
	if err != nil {
		return err
	}
	reply := make(chan error, 1)
	res, err := ask[error](ctx, s, instructorMsg{action: action, instructorID: instructorID, reply: reply}, reply)
	if err != nil {
		return err
	}
	return res
}

// OpenLobby moves a session from setup to lobby.
func (r *Registry) OpenLobby(ctx context.Context, code, instructorID string) error {
	return r.instructorCommand(ctx, code, instructorID, actionOpenLobby)
}

// StartSession pairs the lobby and begins round 1.
func (r *Registry) StartSession(ctx context.Context, code, instructorID string) error {
	return r.instructorCommand(ctx, code, instructorID, actionStart)
}

// EndSession completes the session immediately.
func (r *Registry) EndSession(ctx context.Context, code, instructorID string) error {
	return r.instructorCommand(ctx, code, instructorID, actionEnd)
}

// Join adds or rebinds a connection. When the session is no longer live but
// the sink has its archive, the result is a read-only view of the history.
func (r *Registry) Join(ctx context.Context, code string, req JoinRequest) (JoinResult, error) {
	s, err := r.lookup(code)
	if err == nil {
		reply := make(chan joinReply, 1)
		res, askErr := ask[joinReply](ctx, s, joinMsg{req: req, reply: reply}, reply)
		if askErr == nil {
			return res.result, res.err
		}
		if !errors.Is(askErr, models.ErrNotFound) {
			return JoinResult{}, askErr
		}
		err = askErr
	}
	if !errors.Is(err, models.ErrNotFound) {
		return JoinResult{}, err
	}

	normalized, _ := NormalizeCode(code)
	archive, archErr := r.sink.FinishedSession(ctx, normalized)
	if archErr != nil {
		if !errors.Is(archErr, models.ErrNotFound) {
			log.Error().Err(archErr).Str("session_code", normalized).Msg("failed to load session archive")
		}
		return JoinResult{}, err
	}
	return JoinResult{
		ConnID:   req.ConnID,
		Status:   models.SessionStatusComplete,
		ReadOnly: true,
		History:  archive.History,
	}, nil
}

// Leave marks the participant on connID disconnected. Unknown sessions and
// connections are ignored.
func (r *Registry) Leave(ctx context.Context, code, connID string) {
	s, err := r.lookup(code)
	if err != nil {
		return
	}
	s.post(leaveMsg{connID: connID}, ctx.Done())
}

// Heartbeat records activity for connID.
func (r *Registry) Heartbeat(ctx context.Context, code, connID string) error {
	s, err := r.lookup(code)
	if err != nil {
		return err
	}
	reply := make(chan error, 1)
	res, err := ask[error](ctx, s, heartbeatMsg{connID: connID, reply: reply}, reply)
	if err != nil {
		return err
	}
	return res
}

// SubmitDecision records a decision for the open phase. Decisions never
// close a phase early.
func (r *Registry) SubmitDecision(ctx context.Context, code, connID string, role models.DecisionRole, value float64) error {
	s, err := r.lookup(code)
	if err != nil {
		return err
	}
	reply := make(chan error, 1)
	res, err := ask[error](ctx, s, submitMsg{connID: connID, role: role, value: value, reply: reply}, reply)
	if err != nil {
		return err
	}
	return res
}

// Info returns the published summary of one session.
func (r *Registry) Info(code string) (Info, error) {
	s, err := r.lookup(code)
	if err != nil {
		return Info{}, err
	}
	return s.Info(), nil
}

// List returns the summaries of all live sessions, newest first.
func (r *Registry) List() []Info {
	r.mu.RLock()
	out := make([]Info, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.Info())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Code < out[j].Code
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Wait blocks until every session actor has stopped. Cancel the registry
// context first.
func (r *Registry) Wait() {
	r.wg.Wait()
}
