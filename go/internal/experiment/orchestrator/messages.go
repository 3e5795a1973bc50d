package orchestrator

import (
	"github.com/google/uuid"
	"github.com/mcdev12/marketlab/go/internal/models"
)

// message is the closed set of inputs a session actor processes, in order.
type message interface {
	isMessage()
}

type instructorAction string

const (
	actionOpenLobby instructorAction = "open_lobby"
	actionStart     instructorAction = "start_session"
	actionEnd       instructorAction = "end_session"
)

type joinMsg struct {
	req   JoinRequest
	reply chan joinReply
}

type joinReply struct {
	result JoinResult
	err    error
}

type leaveMsg struct {
	connID string
}

type heartbeatMsg struct {
	connID string
	reply  chan error
}

type submitMsg struct {
	connID string
	role   models.DecisionRole
	value  float64
	reply  chan error
}

type instructorMsg struct {
	action       instructorAction
	instructorID string
	reply        chan error
}

// tickMsg and expiryMsg come from the phase timer of the given epoch.
type tickMsg struct {
	epoch uint64
}

type expiryMsg struct {
	epoch uint64
}

// standInDecisionMsg carries a fallback decision computed off the actor.
type standInDecisionMsg struct {
	epoch         uint64
	participantID uuid.UUID
	role          models.DecisionRole
	phase         models.Phase
	value         float64
}

type evictMsg struct{}

func (joinMsg) isMessage()            {}
func (leaveMsg) isMessage()           {}
func (heartbeatMsg) isMessage()       {}
func (submitMsg) isMessage()          {}
func (instructorMsg) isMessage()      {}
func (tickMsg) isMessage()            {}
func (expiryMsg) isMessage()          {}
func (standInDecisionMsg) isMessage() {}
func (evictMsg) isMessage()           {}
