package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/marketlab/go/internal/experiment/events"
	"github.com/mcdev12/marketlab/go/internal/models"
	"github.com/stretchr/testify/require"
)

type sentEvent struct {
	connID string // empty for broadcasts
	event  *events.Event
}

// mockEmitter records every event it is asked to deliver.
type mockEmitter struct {
	mu   sync.Mutex
	sent []sentEvent
}

func (m *mockEmitter) Broadcast(_ string, event *events.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentEvent{event: event})
}

func (m *mockEmitter) SendTo(_ string, connID string, event *events.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentEvent{connID: connID, event: event})
}

// to returns the events of typ sent to connID, oldest first.
func (m *mockEmitter) to(connID string, typ events.Type) []*events.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*events.Event
	for _, s := range m.sent {
		if s.connID == connID && s.event.Type == typ {
			out = append(out, s.event)
		}
	}
	return out
}

func (m *mockEmitter) count(typ events.Type) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sent {
		if s.event.Type == typ {
			n++
		}
	}
	return n
}

// mockSink keeps records in memory and serves archives from completions.
type mockSink struct {
	mu          sync.Mutex
	sessions    []models.SessionRecord
	assignments []models.AssignmentRecord
	rounds      []models.RoundRecord
	completions []models.CompletionRecord
}

func (m *mockSink) RecordSession(_ context.Context, rec models.SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = append(m.sessions, rec)
	return nil
}

func (m *mockSink) RecordAssignments(_ context.Context, rec models.AssignmentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assignments = append(m.assignments, rec)
	return nil
}

func (m *mockSink) RecordRound(_ context.Context, rec models.RoundRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rounds = append(m.rounds, rec)
	return nil
}

func (m *mockSink) RecordCompletion(_ context.Context, rec models.CompletionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completions = append(m.completions, rec)
	return nil
}

func (m *mockSink) FinishedSession(_ context.Context, code string) (*models.SessionArchive, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.completions {
		if c.SessionCode == code {
			return &models.SessionArchive{Info: c.Info, CompletedAt: c.CompletedAt, History: c.History}, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", models.ErrNotFound, code)
}

func (m *mockSink) roundRecords() []models.RoundRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.RoundRecord(nil), m.rounds...)
}

func (m *mockSink) assignmentRecords() []models.AssignmentRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.AssignmentRecord(nil), m.assignments...)
}

func (m *mockSink) completionRecords() []models.CompletionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.CompletionRecord(nil), m.completions...)
}

// mockAdvisor answers with value, or blocks until release is closed.
type mockAdvisor struct {
	mu      sync.Mutex
	value   float64
	err     error
	release chan struct{}
	calls   []models.SuggestRequest
}

func (m *mockAdvisor) SuggestDecision(ctx context.Context, req models.SuggestRequest) (float64, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	release := m.release
	m.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return m.value, m.err
}

func (m *mockAdvisor) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

type fakeClock interface {
	Clock
	Advance(d time.Duration)
}

type harness struct {
	t       *testing.T
	reg     *Registry
	clock   fakeClock
	emitter *mockEmitter
	sink    *mockSink
}

const instructorID = "instructor-1"

func newHarness(t *testing.T, advisor Advisor) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	clock := clockwork.NewFakeClock()
	h := &harness{
		t:       t,
		clock:   clock,
		emitter: &mockEmitter{},
		sink:    &mockSink{},
	}
	h.reg = NewRegistry(ctx, h.emitter, h.sink, advisor, Options{
		Clock:           clock,
		TickInterval:    time.Second,
		AwayAfter:       30 * time.Second,
		AdvisorTimeout:  time.Second,
		RetainCompleted: time.Minute,
	})
	t.Cleanup(func() {
		cancel()
		h.reg.Wait()
	})
	return h
}

func pricingConfig() models.SessionConfig {
	return models.SessionConfig{
		Game:             models.GamePricing,
		Rounds:           1,
		PhaseDurationSec: 30,
		CountdownSec:     5,
		Model:            models.ModelLogit,
		Params: models.ModelParams{
			MarketSize: 100,
			Alpha:      0.5,
			Sigma:      1,
			Delta:      5,
		},
		DecisionBounds: models.Bounds{Min: 0, Max: 50},
	}
}

func ultimatumConfig() models.SessionConfig {
	return models.SessionConfig{
		Game:                models.GameUltimatum,
		Rounds:              1,
		PhaseDurationSec:    20,
		ResponseDurationSec: 15,
		CountdownSec:        5,
		Model:               models.ModelUltimatum,
		Params:              models.ModelParams{TotalAmount: 20},
		DecisionBounds:      models.Bounds{Min: 0, Max: 20},
	}
}

// lobby creates a session, opens its lobby and joins one participant per
// connection id. The participant names equal the connection ids.
func (h *harness) lobby(cfg models.SessionConfig, conns ...string) string {
	h.t.Helper()
	ctx := context.Background()
	code, err := h.reg.CreateSession(ctx, instructorID, "Econ 101", cfg)
	require.NoError(h.t, err)
	require.NoError(h.t, h.reg.OpenLobby(ctx, code, instructorID))
	for _, conn := range conns {
		_, err := h.reg.Join(ctx, code, JoinRequest{Name: conn, Role: models.ParticipantRoleParticipant, ConnID: conn})
		require.NoError(h.t, err)
	}
	return code
}

func (h *harness) start(code string) {
	h.t.Helper()
	require.NoError(h.t, h.reg.StartSession(context.Background(), code, instructorID))
}

// waitFor blocks until the published summary satisfies cond.
func (h *harness) waitFor(code string, cond func(Info) bool) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		info, err := h.reg.Info(code)
		return err == nil && cond(info)
	}, 2*time.Second, 5*time.Millisecond)
}

func (h *harness) waitPhase(code string, round int, phase models.Phase) {
	h.t.Helper()
	h.waitFor(code, func(i Info) bool { return i.CurrentRound == round && i.Phase == phase })
}

func (h *harness) waitStatus(code string, status models.SessionStatus) {
	h.t.Helper()
	h.waitFor(code, func(i Info) bool { return i.Status == status })
}

// assignedRole returns the role from the latest phase_started sent to conn.
func (h *harness) assignedRole(conn string) models.DecisionRole {
	h.t.Helper()
	evts := h.emitter.to(conn, events.TypePhaseStarted)
	require.NotEmpty(h.t, evts)
	var payload events.PhaseStartedPayload
	require.NoError(h.t, evts[len(evts)-1].Decode(&payload))
	return payload.AssignedRole
}

func (h *harness) waitRounds(n int) []models.RoundRecord {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return len(h.sink.roundRecords()) >= n }, 2*time.Second, 5*time.Millisecond)
	return h.sink.roundRecords()
}
