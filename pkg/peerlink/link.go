// Package peerlink implements one live connection to another talker
// server: framing text lines both ways over a plain TCP socket.
//
// The read and write loops are each their own goroutine, following the
// teacher's pkg/p2p/peer/peermgr.Peer split between an inbound queue
// (inch) and an outbound queue (outch) drained by dedicated goroutines;
// here the "queue handler" that those goroutines feed is the Mesh's own
// reactor action channel (see pkg/reactor), not a local channel of
// closures, since the Mesh itself is what must stay single-threaded.
package peerlink

import (
	"bufio"
	"net"
	"sync/atomic"

	logger "github.com/sirupsen/logrus"
)

var log = logger.WithFields(logger.Fields{"process": "peerlink"})

// Receiver is notified of each inbound line and of the link's eventual
// closure. It is implemented by the owning Mesh/reactor pairing, kept
// narrow here so peerlink has no dependency on mesh or reactor.
type Receiver interface {
	// OnLine is called with each inbound line (CRLF stripped).
	OnLine(l *Link, line string)
	// OnClose is called exactly once, when the link's connection goes away.
	OnClose(l *Link)
}

// Link is one peer-to-peer TCP connection.
type Link struct {
	conn net.Conn
	addr string

	receiver Receiver

	out chan string

	closed int32
	done   chan struct{}
}

// Dial opens an outbound connection to addr ("host:port") and wraps it.
// The returned Link is not yet reading or writing; call Run once its
// Receiver has been set up (typically immediately, by the caller that
// also registers it with the Mesh).
func Dial(addr string) (*Link, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return newLink(conn), nil
}

func newLink(conn net.Conn) *Link {
	return &Link{
		conn: conn,
		addr: conn.RemoteAddr().String(),
		out:  make(chan string, 256),
		done: make(chan struct{}),
	}
}

// Accept wraps an already-accepted connection (from a Listener's Accept
// loop; see Listen in this package).
func Accept(conn net.Conn) *Link {
	return newLink(conn)
}

// Run starts the link's read and write loops. receiver.OnLine is invoked
// on the goroutine started here, never synchronously from Run; the caller
// is expected to have already funnelled receiver's methods into their
// reactor's single action channel.
func (l *Link) Run(receiver Receiver) {
	l.receiver = receiver
	go l.writeLoop()
	go l.readLoop()
}

// String names the link by its remote address, matching the interface
// expected by pkg/observer.Link.
func (l *Link) String() string { return l.addr }

// SendLine enqueues one line (without its CRLF terminator) for delivery.
// It never blocks the caller for long: the output channel is buffered,
// and a persistently slow peer is this design's one explicit unbounded
// resource, per spec §5's documented back-pressure simplification.
func (l *Link) SendLine(line string) {
	if atomic.LoadInt32(&l.closed) != 0 {
		return
	}
	select {
	case l.out <- line:
	case <-l.done:
	}
}

// Disconnect closes the underlying connection. It is idempotent and safe
// to call from any goroutine, mirroring peermgr.Peer.Disconnect's atomic
// guard.
func (l *Link) Disconnect() {
	if !atomic.CompareAndSwapInt32(&l.closed, 0, 1) {
		return
	}
	close(l.done)
	l.conn.Close()
	log.WithField("peer", l.addr).Info("peer link disconnected")
}

func (l *Link) readLoop() {
	scanner := bufio.NewScanner(l.conn)
	scanner.Buffer(make([]byte, 4096), 1<<20)
	scanner.Split(scanLinesCRLF)

	for scanner.Scan() {
		line := scanner.Text()
		if l.receiver != nil {
			l.receiver.OnLine(l, line)
		}
	}

	l.Disconnect()
	if l.receiver != nil {
		l.receiver.OnClose(l)
	}
}

func (l *Link) writeLoop() {
	for {
		select {
		case line := <-l.out:
			if _, err := l.conn.Write([]byte(line + "\r\n")); err != nil {
				log.WithField("peer", l.addr).WithError(err).Info("write failed, disconnecting")
				l.Disconnect()
				return
			}
		case <-l.done:
			return
		}
	}
}

// scanLinesCRLF is a bufio.SplitFunc that splits on "\r\n", dropping the
// terminator, matching the line-buffered protocol of spec §6.
func scanLinesCRLF(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	for i := 0; i+1 < len(data); i++ {
		if data[i] == '\r' && data[i+1] == '\n' {
			return i + 2, data[:i], nil
		}
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
