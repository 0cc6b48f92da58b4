// Package session implements one human client's connection: the
// explicit login state machine, the slash-command table, and the
// per-connection rate limiter guarding the reactor from a noisy peer.
//
// Grounded on the original source's talker.mixin.auth LoginMixin (the
// username/password states) and talker.mixin.topo TopoMixin (the
// command table), but restructured per the REDESIGN FLAGS guidance: an
// explicit state enum and a lookup table of transition functions,
// rather than reassigning a bound method onto the connection's line
// handler in place, since Go has no equivalent of rebinding a function
// attribute on self at runtime that reads as idiomatically as the
// original's `self.handle_line = self._username`.
package session

import (
	"fmt"
	"strings"

	logger "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/jan-g/talker/pkg/auth"
	"github.com/jan-g/talker/pkg/who"
)

var log = logger.WithFields(logger.Fields{"process": "session"})

// State names one stage of a session's login state machine.
type State int

const (
	StateUsername State = iota
	StateNewPassword
	StateConfirmPassword
	StateCheckPassword
	StateActive
)

func (s State) String() string {
	switch s {
	case StateUsername:
		return "username"
	case StateNewPassword:
		return "new-password"
	case StateConfirmPassword:
		return "confirm-password"
	case StateCheckPassword:
		return "check-password"
	case StateActive:
		return "active"
	default:
		return "unknown"
	}
}

// Link is the minimal transport surface a Session needs: write lines out,
// name itself for logging, and close the underlying connection.
type Link interface {
	SendLine(line string)
	String() string
	Disconnect()
}

// Speaker is how the wider system addresses one logged-in session: by
// name, with a single line to deliver.
type Speaker interface {
	Name() string
	Tell(line string)
}

// Registry tracks the set of currently logged-in speakers on this
// server, implemented by the owning reactor/server.
type Registry interface {
	Register(s Speaker)
	Unregister(name string)
	TellAll(line string)
	Names() []string
	Find(name string) (Speaker, bool)
}

// PeerManager exposes the peer-topology commands to a session,
// implemented by the owning reactor/server.
type PeerManager interface {
	ListPeers() []string
	Listen(host, port string) error
	Connect(host, port string) error
	Kill(host, port string) error
}

// Session is one connected human client.
type Session struct {
	link     Link
	registry Registry
	peers    PeerManager
	speech   Speaker2Speech
	who      *who.Observer
	auth     *auth.Observer
	topo     Reachable
	limiter  *rate.Limiter

	state State
	nick  string

	pendingUsername string
	pendingPassword string
	pwAttempts      int
}

// Speaker2Speech is the narrow slice of *speech.Observer a Session uses.
// Named distinctly from Speaker (a logged-in user) to avoid confusion
// between "can say things network-wide" and "is addressable by name".
type Speaker2Speech interface {
	Say(who, what string)
}

// Reachable is the narrow slice of *topology.Observer a Session uses.
type Reachable interface {
	Reachable() []string
}

const maxPasswordAttempts = 3

// New creates a Session bound to link, ready to greet the user once
// HandleNew is called.
func New(link Link, registry Registry, peers PeerManager, speech Speaker2Speech, whoObs *who.Observer, authObs *auth.Observer, topo Reachable, limiter *rate.Limiter) *Session {
	return &Session{
		link:     link,
		registry: registry,
		peers:    peers,
		speech:   speech,
		who:      whoObs,
		auth:     authObs,
		topo:     topo,
		limiter:  limiter,
		state:    StateUsername,
	}
}

// Name implements Speaker.
func (s *Session) Name() string { return s.nick }

// Tell implements Speaker: deliver one line to this user.
func (s *Session) Tell(line string) { s.link.SendLine(line) }

// Disconnect closes this session's underlying connection, letting
// /kill target a Session found only as a Speaker.
func (s *Session) Disconnect() { s.link.Disconnect() }

// HandleNew greets a freshly connected client.
func (s *Session) HandleNew() {
	s.link.SendLine(fmt.Sprintf("Enter your username, %s:", s.link.String()))
}

// HandleClose unregisters a logged-in session when its connection goes
// away.
func (s *Session) HandleClose() {
	if s.state == StateActive && s.nick != "" {
		s.registry.Unregister(s.nick)
		s.registry.TellAll(fmt.Sprintf("%s has left", s.nick))
	}
}

// HandleLine processes one inbound line of client input. It enforces the
// per-connection rate limit first (an ambient addition, not part of the
// original protocol), then dispatches by state.
func (s *Session) HandleLine(line string) {
	if s.limiter != nil && !s.limiter.Allow() {
		log.WithField("peer", s.link.String()).Warn("client exceeded line rate limit, disconnecting")
		s.link.Disconnect()
		return
	}

	switch s.state {
	case StateUsername:
		s.handleUsername(line)
	case StateNewPassword:
		s.handleNewPassword(line)
	case StateConfirmPassword:
		s.handleConfirmPassword(line)
	case StateCheckPassword:
		s.handleCheckPassword(line)
	case StateActive:
		s.handleActive(line)
	}
}

func (s *Session) handleUsername(line string) {
	user := strings.TrimSpace(line)
	if !isAlphanumeric(user) {
		s.link.SendLine("Usernames must be alphanumeric. Try again:")
		return
	}

	s.nick = user
	s.auth.CheckUser(user, func(r auth.CheckResult) {
		if r.Known {
			s.pendingUsername = user
			s.pendingPassword = r.Password
			s.pwAttempts = maxPasswordAttempts
			s.state = StateCheckPassword
			s.link.SendLine("Enter password:")
		} else {
			s.pendingUsername = user
			s.state = StateNewPassword
			s.link.SendLine("A new user! Enter your password:")
		}
	})
}

func (s *Session) handleNewPassword(line string) {
	s.pendingPassword = line
	s.state = StateConfirmPassword
	s.link.SendLine("Confirm your password:")
}

func (s *Session) handleConfirmPassword(line string) {
	if line != s.pendingPassword {
		s.rejectWithMessage("Passwords do not match.")
		return
	}
	s.auth.NewUser(s.pendingUsername, s.pendingPassword)
	s.greet()
}

func (s *Session) handleCheckPassword(line string) {
	if line == s.pendingPassword {
		s.greet()
		return
	}

	s.pwAttempts--
	if s.pwAttempts > 0 {
		s.link.SendLine("Enter password:")
		return
	}
	s.rejectWithMessage("Incorrect password.")
}

func (s *Session) greet() {
	s.pendingPassword = ""
	s.link.SendLine(fmt.Sprintf("Welcome, %s", s.nick))
	s.state = StateActive
	s.registry.Register(s)
	s.registry.TellAll(fmt.Sprintf("%s has joined", s.nick))
}

func (s *Session) rejectWithMessage(message string) {
	s.link.SendLine(message)
	s.link.Disconnect()
}

func (s *Session) handleActive(line string) {
	if strings.HasPrefix(line, "/") {
		s.handleCommand(line)
		return
	}
	s.speech.Say(s.nick, line)
}

func isAlphanumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
			return false
		}
	}
	return true
}
