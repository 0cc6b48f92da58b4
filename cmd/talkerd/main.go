// Command talkerd runs one talker server process: a Mesh node that
// accepts chat clients on --port and, on request, peer connections to
// and from other talkerd processes.
package main

import (
	"flag"
	"fmt"
	"os"

	logger "github.com/sirupsen/logrus"

	"github.com/jan-g/talker/pkg/config"
	"github.com/jan-g/talker/pkg/reactor"
)

func main() {
	port := flag.Int("port", 0, "TCP port to listen on for client connections (default 8889)")
	id := flag.String("id", "", "explicit peer id (default: a random one)")
	logLevel := flag.String("log-level", "", "logrus level (default info)")
	flag.Parse()

	cfg := config.Load(*port, *id, *logLevel)
	config.Set(cfg)

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "talkerd: bad --log-level %q: %v\n", cfg.LogLevel, err)
		os.Exit(1)
	}
	logger.SetLevel(level)

	srv := reactor.New(cfg)
	if err := srv.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "talkerd: %v\n", err)
		os.Exit(1)
	}
}
