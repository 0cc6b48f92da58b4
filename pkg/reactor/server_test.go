package reactor

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jan-g/talker/pkg/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Port:                0,
		LogLevel:            "info",
		CacheExpiry:         500 * time.Millisecond,
		CallbackCacheExpiry: 300 * time.Millisecond,
		TickInterval:        50 * time.Millisecond,
		SeenCacheCapacity:   1024,
		LineRateLimit:       1000,
		LineRateBurst:       1000,
	}
}

func startServer(t *testing.T) *Server {
	t.Helper()
	srv := New(testConfig())
	go func() {
		_ = srv.Run()
	}()
	t.Cleanup(srv.Stop)
	return srv
}

type testClient struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func dialClient(t *testing.T, addr net.Addr) *testClient {
	t.Helper()
	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &testClient{t: t, conn: conn, r: bufio.NewReader(conn)}
}

func (c *testClient) send(line string) {
	_, err := c.conn.Write([]byte(line + "\r\n"))
	require.NoError(c.t, err)
}

func (c *testClient) readLine() string {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := c.r.ReadString('\n')
	require.NoError(c.t, err)
	return trimCRLF(line)
}

func trimCRLF(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

func (c *testClient) login(username, password string) {
	c.readLine() // greeting
	c.send(username)
	resp := c.readLine()
	require.Contains(c.t, resp, "password")
	c.send(password)
	resp = c.readLine()
	if resp == "Confirm your password:" {
		c.send(password)
		resp = c.readLine()
	}
	require.Contains(c.t, resp, "Welcome")
}

func waitForCondition(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.Fail(t, "condition never became true")
}

func TestSingleServerBasicWho(t *testing.T) {
	srv := startServer(t)
	c := dialClient(t, srv.Addr())

	c.login("jan", "hunter2")

	c.send("/who")
	assert.Equal(t, "There are 1 users online on 1 servers:", c.readLine())
	assert.Equal(t, "  Server: "+srv.ID(), c.readLine())
	assert.Equal(t, "    jan", c.readLine())
}

func TestTwoServerMeshWho(t *testing.T) {
	srv1 := startServer(t)
	srv2 := startServer(t)

	require.NoError(t, srv1.Listen("127.0.0.1", "19201"))
	require.NoError(t, srv2.Connect("127.0.0.1", "19201"))

	waitForCondition(t, 2*time.Second, func() bool {
		return len(srv1.topo.Reachable()) == 2 && len(srv2.topo.Reachable()) == 2
	})

	c := dialClient(t, srv1.Addr())
	c.login("jan", "hunter2")

	c.send("/who")
	line := c.readLine()
	assert.Equal(t, "There are 1 users online on 2 servers:", line)
}

func TestPeerConnectToNonListeningAddressFails(t *testing.T) {
	srv := startServer(t)
	err := srv.Connect("127.0.0.1", "1")
	assert.Error(t, err)
}

func TestLoginAfterDisconnect(t *testing.T) {
	srv := startServer(t)

	c1 := dialClient(t, srv.Addr())
	c1.login("jan", "hunter2")
	c1.conn.Close()
	time.Sleep(100 * time.Millisecond) // let HandleClose propagate

	c2 := dialClient(t, srv.Addr())
	c2.readLine() // greeting
	c2.send("jan")
	assert.Equal(t, "Enter password:", c2.readLine())
	c2.send("hunter2")
	assert.Contains(t, c2.readLine(), "Welcome")
}
