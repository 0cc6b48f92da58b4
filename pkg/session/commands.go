package session

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jan-g/talker/pkg/who"
)

// handleCommand dispatches one "/word ..." line to its handler, matching
// the original's args := line.split(); COMMANDS[args[0]](...) lookup,
// but as a Go method table rather than a module-level dict of free
// functions.
func (s *Session) handleCommand(line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}
	name, args := fields[0], fields[1:]

	fn, ok := commandTable[name]
	if !ok {
		s.link.SendLine("Unknown command: " + name)
		return
	}
	if err := fn(s, args); err != nil {
		s.link.SendLine("Something went wrong trying to do that: " + err.Error())
	}
}

type commandFunc func(s *Session, args []string) error

var commandTable = map[string]commandFunc{
	"/help":         (*Session).cmdHelp,
	"/quit":         (*Session).cmdQuit,
	"/who":          (*Session).cmdWho,
	"/nick":         (*Session).cmdNick,
	"/tell":         (*Session).cmdTell,
	"/kill":         (*Session).cmdKill,
	"/peers":        (*Session).cmdPeers,
	"/peer-listen":  (*Session).cmdPeerListen,
	"/peer-connect": (*Session).cmdPeerConnect,
	"/peer-kill":    (*Session).cmdPeerKill,
	"/broadcast":    (*Session).cmdBroadcast,
	"/reachable":    (*Session).cmdReachable,
}

func (s *Session) cmdHelp(args []string) error {
	s.link.SendLine("Commands:")
	names := make([]string, 0, len(commandTable))
	for name := range commandTable {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s.link.SendLine("  " + name)
	}
	return nil
}

func (s *Session) cmdQuit(args []string) error {
	s.link.Disconnect()
	return nil
}

func (s *Session) cmdWho(args []string) error {
	s.who.Who(func(r who.Result) {
		count := 0
		for _, names := range r.BySpeaker {
			count += len(names)
		}
		s.link.SendLine(fmt.Sprintf("There are %d users online on %d servers:", count, len(r.BySpeaker)))
		servers := make([]string, 0, len(r.BySpeaker))
		for server := range r.BySpeaker {
			servers = append(servers, server)
		}
		sort.Strings(servers)
		for _, server := range servers {
			s.link.SendLine("  Server: " + server)
			names := append([]string(nil), r.BySpeaker[server]...)
			sort.Strings(names)
			for _, name := range names {
				s.link.SendLine("    " + name)
			}
		}
	})
	return nil
}

func (s *Session) cmdNick(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: /nick NAME")
	}
	if !isAlphanumeric(args[0]) {
		return fmt.Errorf("names must be alphanumeric")
	}
	old := s.nick
	s.registry.Unregister(old)
	s.nick = args[0]
	s.registry.Register(s)
	s.registry.TellAll(fmt.Sprintf("%s is now known as %s", old, s.nick))
	return nil
}

func (s *Session) cmdTell(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: /tell NAME TEXT...")
	}
	target, ok := s.registry.Find(args[0])
	if !ok {
		return fmt.Errorf("no such user: %s", args[0])
	}
	target.Tell(fmt.Sprintf("%s tells you: %s", s.nick, strings.Join(args[1:], " ")))
	return nil
}

func (s *Session) cmdKill(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: /kill NAME")
	}
	target, ok := s.registry.Find(args[0])
	if !ok {
		return fmt.Errorf("no such user: %s", args[0])
	}
	target.Tell(fmt.Sprintf("You have been disconnected by %s", s.nick))
	if killable, ok := target.(interface{ Disconnect() }); ok {
		killable.Disconnect()
	}
	return nil
}

func (s *Session) cmdPeers(args []string) error {
	peers := s.peers.ListPeers()
	s.link.SendLine(fmt.Sprintf("There are %d peers directly connected", len(peers)))
	for _, p := range peers {
		s.link.SendLine(p)
	}
	return nil
}

func (s *Session) cmdPeerListen(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: /peer-listen HOST PORT")
	}
	return s.peers.Listen(args[0], args[1])
}

func (s *Session) cmdPeerConnect(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: /peer-connect HOST PORT")
	}
	return s.peers.Connect(args[0], args[1])
}

func (s *Session) cmdPeerKill(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: /peer-kill HOST PORT")
	}
	return s.peers.Kill(args[0], args[1])
}

func (s *Session) cmdBroadcast(args []string) error {
	s.speech.Say(s.nick, strings.Join(args, " "))
	return nil
}

func (s *Session) cmdReachable(args []string) error {
	reachable := s.topo.Reachable()
	s.link.SendLine(fmt.Sprintf("There are %d reachable peers:", len(reachable)))
	for _, node := range reachable {
		s.link.SendLine(node)
	}
	return nil
}
