package peerlink

import "net"

// Listener accepts inbound peer connections and hands each accepted
// connection to onAccept as a *Link, grounded on the teacher's
// pkg/p2p/peer/connector.go accept loop.
type Listener struct {
	ln net.Listener
}

// Listen binds addr ("host:port" or ":port") and returns a Listener.
func Listen(addr string) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Listener{ln: ln}, nil
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Close stops accepting new connections.
func (l *Listener) Close() error { return l.ln.Close() }

// Serve accepts connections in a loop, calling onAccept for each until the
// listener is closed. It blocks and is meant to be run in its own
// goroutine by the caller.
func (l *Listener) Serve(onAccept func(*Link)) error {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			return err
		}
		onAccept(Accept(conn))
	}
}
