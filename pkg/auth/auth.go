// Package auth implements the network-wide account directory: a
// CHECK_USER scatter-gather request that asks every node whether it
// knows a username (and its most recently set password), and a
// NEW_USER broadcast that announces a freshly created account.
//
// Grounded directly on the original source's talker.mixin.auth
// LoginObserver. Account storage is a plain in-memory map: the spec's
// Non-goals exclude persistent or replicated storage, so the most
// recent NEW_USER timestamp for a name is simply the latest-write-wins
// answer, same as the original.
package auth

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/jan-g/talker/pkg/observer"
	"github.com/jan-g/talker/pkg/scatter"
)

// Name is this observer's registration name on the Mesh.
const Name = "Auth"

const methodNewUser = "new_user"

// account is one username's most-recently-known credential, timestamped
// so that conflicting NEW_USER announcements (or CHECK_USER answers)
// converge on the newest.
type account struct {
	timestamp float64
	password  string
}

// CheckResult is the collated answer to a username lookup across the
// network.
type CheckResult struct {
	// Known is true if any reachable node (including this one) has seen
	// this username before.
	Known    bool
	Password string
}

// CheckFunc is run once a CHECK_USER request's responses are complete.
type CheckFunc func(CheckResult)

// Observer tracks known accounts and answers/issues CHECK_USER and
// NEW_USER traffic.
type Observer struct {
	observer.Base

	mu       sync.Mutex
	accounts map[string]account

	gather *scatter.Observer
	clock  func() float64
}

// New creates an auth Observer. gather is the Mesh's scatter-gather
// observer, used to issue CHECK_USER requests.
func New(mesh observer.Broadcaster, gather *scatter.Observer, clock func() float64) *Observer {
	o := &Observer{
		accounts: make(map[string]account),
		gather:   gather,
		clock:    clock,
	}
	o.Base = observer.NewBase(Name, mesh)
	o.Register(methodNewUser, o.recvNewUser)
	return o
}

// Notify implements observer.Observer. A CHECK_USER request carries no
// method tag (it's scatter-gather framing, same shape as pkg/who), so
// it's recognised and handled before falling back to Base.Dispatch's
// method table for NEW_USER broadcasts.
func (o *Observer) Notify(peer observer.Link, source string, id int64, payload string) {
	if requestID, username, err := scatter.ParseRequest(payload); err == nil && looksLikeCheckUser(payload) {
		o.respondCheckUser(source, requestID, username)
		return
	}
	o.Base.Dispatch(peer, source, id, payload, splitMethodTag, nil)
}

// looksLikeCheckUser distinguishes a scatter-gather request payload
// ("<id>|<username>") from a method-tagged NEW_USER broadcast
// ("new_user|<ts>;<user>;<pw>"): the method tag is never a bare integer.
func looksLikeCheckUser(payload string) bool {
	tag, _, _ := strings.Cut(payload, "|")
	_, err := strconv.ParseInt(tag, 10, 64)
	return err == nil
}

func splitMethodTag(payload string) (string, string) {
	method, rest, found := strings.Cut(payload, "|")
	if !found {
		return method, ""
	}
	return method, rest
}

func (o *Observer) respondCheckUser(origin string, requestID int64, username string) {
	o.mu.Lock()
	a, known := o.accounts[username]
	o.mu.Unlock()

	var result string
	if known {
		result = fmt.Sprintf("%s;%s;%s", formatFloat(a.timestamp), username, a.password)
	}
	scatter.Respond(&o.Base, origin, requestID, result)
}

// CheckUser asks every reachable node whether username is known, and
// calls result with the newest answer once all responses (or a timeout)
// are in. If the network-wide answer says the name is new, the caller
// is expected to register it with NewUser.
func (o *Observer) CheckUser(username string, result CheckFunc) {
	o.gather.Request(Name, username, func(responses map[string]string, complete bool) {
		var (
			newestTS float64 = -1
			pw       string
			known    bool
		)
		for _, answer := range responses {
			if answer == "" {
				continue
			}
			ts, user, pass, err := parseCheckAnswer(answer)
			if err != nil || user != username {
				continue
			}
			if !known || ts > newestTS {
				newestTS, pw, known = ts, pass, true
			}
		}
		if known {
			o.mu.Lock()
			o.accounts[username] = account{timestamp: newestTS, password: pw}
			o.mu.Unlock()
		}
		result(CheckResult{Known: known, Password: pw})
	})
}

// NewUser registers username/password locally and announces it to the
// whole network.
func (o *Observer) NewUser(username, password string) {
	ts := o.clock()
	o.mu.Lock()
	o.accounts[username] = account{timestamp: ts, password: password}
	o.mu.Unlock()
	o.Broadcast(methodNewUser, fmt.Sprintf("%s;%s;%s", formatFloat(ts), username, password))
}

func (o *Observer) recvNewUser(peer observer.Link, source string, id int64, args string) {
	ts, username, password, err := parseCheckAnswer(args)
	if err != nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if existing, ok := o.accounts[username]; !ok || ts > existing.timestamp {
		o.accounts[username] = account{timestamp: ts, password: password}
	}
}

func parseCheckAnswer(s string) (ts float64, username, password string, err error) {
	parts := strings.SplitN(s, ";", 3)
	if len(parts) != 3 {
		return 0, "", "", fmt.Errorf("auth: malformed account record %q", s)
	}
	ts, err = strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0, "", "", fmt.Errorf("auth: malformed timestamp in %q: %w", s, err)
	}
	return ts, parts[1], parts[2], nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// PeerAdded, PeerRemoved, Tick: auth has no peer-lifecycle or periodic
// work of its own; scatter.Observer owns the timeout rollover.
func (o *Observer) PeerAdded(observer.Link)   {}
func (o *Observer) PeerRemoved(observer.Link) {}
func (o *Observer) Tick(int64)                {}
