// Package reactor wires a Mesh and its observers to real TCP sockets and
// runs the single control loop that owns all of it.
//
// Grounded on the teacher's pkg/p2p/peer/peermgr package doc comment
// ("uses channels to simulate the queue handler with the actor model")
// and pkg/p2p/peer/connmgr/connmgr.go's actionch/loop pattern: every
// mutation of server-owned state is a closure sent down one buffered
// channel, drained by a single goroutine, so Mesh/topology/scatter state
// is never touched from more than one goroutine at a time.
package reactor

import (
	"fmt"
	"net"
	"sort"
	"time"

	logger "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/jan-g/talker/pkg/auth"
	"github.com/jan-g/talker/pkg/config"
	"github.com/jan-g/talker/pkg/mesh"
	"github.com/jan-g/talker/pkg/peerlink"
	"github.com/jan-g/talker/pkg/scatter"
	"github.com/jan-g/talker/pkg/session"
	"github.com/jan-g/talker/pkg/speech"
	"github.com/jan-g/talker/pkg/topology"
	"github.com/jan-g/talker/pkg/who"
)

var log = logger.WithFields(logger.Fields{"process": "reactor"})

// Server owns a Mesh, its registered observers, the set of logged-in
// speakers, and every peer/user socket. All of it is mutated only by
// closures drained from actionch on the goroutine started by Run.
type Server struct {
	cfg *config.Config
	id  string

	mesh   *mesh.Mesh
	topo   *topology.Observer
	gather *scatter.Observer
	speech *speech.Observer
	who    *who.Observer
	auth   *auth.Observer

	actionch chan func()
	quit     chan struct{}

	speakers     map[string]session.Speaker
	peerLinks    map[string]*peerlink.Link
	peerServers  map[string]*peerlink.Listener
	userListener *peerlink.Listener

	ready chan struct{}
	addr  net.Addr
}

// New builds a Server from cfg, constructing the Mesh and enrolling
// every observer this system defines.
func New(cfg *config.Config) *Server {
	id := cfg.PeerID
	if id == "" {
		id = generatePeerID()
	}

	m := mesh.New(id, cfg.SeenCacheCapacity, cfg.CacheExpiry)
	topo := topology.New(m)
	gather := scatter.New(m, topo, cfg.CallbackCacheExpiry)

	s := &Server{
		cfg:         cfg,
		id:          id,
		mesh:        m,
		topo:        topo,
		gather:      gather,
		actionch:    make(chan func(), 300),
		quit:        make(chan struct{}),
		speakers:    make(map[string]session.Speaker),
		peerLinks:   make(map[string]*peerlink.Link),
		peerServers: make(map[string]*peerlink.Listener),
		ready:       make(chan struct{}),
	}

	s.speech = speech.New(m, s)
	s.who = who.New(m, s, gather)
	s.auth = auth.New(m, gather, func() float64 { return float64(time.Now().Unix()) })

	m.RegisterObserver(topo)
	m.RegisterObserver(gather)
	m.RegisterObserver(s.speech)
	m.RegisterObserver(s.who)
	m.RegisterObserver(s.auth)

	return s
}

// ID is this server's peer id.
func (s *Server) ID() string { return s.id }

// enqueue sends f to the reactor loop. Called from any goroutine.
func (s *Server) enqueue(f func()) {
	s.actionch <- f
}

func (s *Server) loop() {
	for {
		select {
		case f := <-s.actionch:
			f()
		case <-s.quit:
			return
		}
	}
}

func (s *Server) tickLoop() {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			s.enqueue(func() { s.mesh.Tick(now) })
		case <-s.quit:
			return
		}
	}
}

// Run starts the reactor loop and the tick timer, then listens for
// client connections on cfg.Port. It blocks until that listener fails.
func (s *Server) Run() error {
	go s.loop()
	go s.tickLoop()

	addr := fmt.Sprintf(":%d", s.cfg.Port)
	ln, err := peerlink.Listen(addr)
	if err != nil {
		return fmt.Errorf("reactor: listen on %s: %w", addr, err)
	}
	s.userListener = ln
	s.addr = ln.Addr()
	close(s.ready)

	log.WithField("addr", ln.Addr()).WithField("id", s.id).Info("talker server listening")
	return ln.Serve(s.onUserAccept)
}

// Addr blocks until the client-facing listener is bound, then returns
// its address. Useful for tests that bind to port 0 and need to learn
// the chosen port.
func (s *Server) Addr() net.Addr {
	<-s.ready
	return s.addr
}

// Stop tears down the reactor loop and tick timer. Open sockets are left
// to the OS to reclaim on process exit, matching the teacher's own lack
// of a graceful-drain shutdown path.
func (s *Server) Stop() {
	close(s.quit)
}

func (s *Server) onUserAccept(link *peerlink.Link) {
	limiter := rate.NewLimiter(rate.Limit(s.cfg.LineRateLimit), s.cfg.LineRateBurst)
	sess := session.New(link, s, s, s.speech, s.who, s.auth, s.topo, limiter)
	link.Run(&clientReceiver{server: s, session: sess})
	s.enqueue(sess.HandleNew)
}

func (s *Server) onPeerAccept(link *peerlink.Link) {
	link.Run(&peerReceiver{server: s})
	s.enqueue(func() { s.registerPeer(link) })
}

// registerPeer must only be called from the reactor goroutine.
func (s *Server) registerPeer(link *peerlink.Link) {
	s.mesh.RegisterPeer(link)
	s.peerLinks[link.String()] = link
}

// peerReceiver funnels one peer connection's inbound lines and closure
// onto the reactor's action channel.
type peerReceiver struct {
	server *Server
}

func (r *peerReceiver) OnLine(l *peerlink.Link, line string) {
	r.server.enqueue(func() { r.server.mesh.Receive(l, line) })
}

func (r *peerReceiver) OnClose(l *peerlink.Link) {
	r.server.enqueue(func() {
		r.server.mesh.UnregisterPeer(l)
		delete(r.server.peerLinks, l.String())
	})
}

// clientReceiver funnels one user connection's inbound lines and closure
// onto the reactor's action channel.
type clientReceiver struct {
	server  *Server
	session *session.Session
}

func (r *clientReceiver) OnLine(l *peerlink.Link, line string) {
	r.server.enqueue(func() { r.session.HandleLine(line) })
}

func (r *clientReceiver) OnClose(l *peerlink.Link) {
	r.server.enqueue(func() { r.session.HandleClose() })
}

// Register implements session.Registry. Called only from the reactor
// goroutine (via Session, itself only ever driven from clientReceiver).
func (s *Server) Register(sp session.Speaker) {
	s.speakers[sp.Name()] = sp
}

// Unregister implements session.Registry.
func (s *Server) Unregister(name string) {
	delete(s.speakers, name)
}

// TellAll implements session.Registry.
func (s *Server) TellAll(line string) {
	for _, sp := range s.speakers {
		sp.Tell(line)
	}
}

// Names implements session.Registry.
func (s *Server) Names() []string {
	out := make([]string, 0, len(s.speakers))
	for n := range s.speakers {
		out = append(out, n)
	}
	return out
}

// Find implements session.Registry.
func (s *Server) Find(name string) (session.Speaker, bool) {
	sp, ok := s.speakers[name]
	return sp, ok
}

// SpeakerNames implements who.Directory.
func (s *Server) SpeakerNames() []string { return s.Names() }

// TellSpeakers implements speech.Sink.
func (s *Server) TellSpeakers(line string) { s.TellAll(line) }

// ListPeers implements session.PeerManager.
func (s *Server) ListPeers() []string {
	out := make([]string, 0, len(s.peerLinks))
	for addr := range s.peerLinks {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}

// Listen implements session.PeerManager: it opens a new listening socket
// dedicated to accepting inbound peer connections, mirroring the
// original's "/peer-listen" command adding a second ServerSocket bound
// to the peer client factory rather than the chat client one.
func (s *Server) Listen(host, port string) error {
	addr := net.JoinHostPort(host, port)
	ln, err := peerlink.Listen(addr)
	if err != nil {
		return err
	}
	s.peerServers[addr] = ln
	log.WithField("addr", addr).Info("listening for peer connections")
	go func() {
		if err := ln.Serve(s.onPeerAccept); err != nil {
			log.WithField("addr", addr).WithError(err).Info("peer listener stopped")
		}
	}()
	return nil
}

// Connect implements session.PeerManager: it dials out to host:port and
// enrolls the resulting link as a peer. The dial itself runs on the
// caller's own goroutine (typically the reactor goroutine, via a
// session's command dispatch) the same way the original's
// single-threaded event loop blocks on its own socket connect — an
// accepted simplification, not a retry-worthy failure mode. Enrollment
// is always handed back to the reactor goroutine via enqueue, so
// Connect is itself safe to call from any goroutine.
func (s *Server) Connect(host, port string) error {
	addr := net.JoinHostPort(host, port)
	link, err := peerlink.Dial(addr)
	if err != nil {
		return err
	}
	link.Run(&peerReceiver{server: s})
	s.enqueue(func() { s.registerPeer(link) })
	return nil
}

// Kill implements session.PeerManager: it disconnects the peer link
// whose remote address is host:port, if one is connected.
func (s *Server) Kill(host, port string) error {
	addr := net.JoinHostPort(host, port)
	link, ok := s.peerLinks[addr]
	if !ok {
		return fmt.Errorf("no such peer: %s", addr)
	}
	link.Disconnect()
	return nil
}
