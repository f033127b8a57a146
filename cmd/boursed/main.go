// Command boursed runs the Bourse exchange server.
//
// Usage: boursed -p <port>
package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"bourse/internal/config"
	"bourse/internal/connreg"
	"bourse/internal/ledger"
	"bourse/internal/logging"
	"bourse/internal/matching"
	"bourse/internal/server"
	"bourse/internal/traders"
)

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Usage: %s -p <port>\n", os.Args[0])
		os.Exit(1)
	}

	log := logging.New(nil)

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		log.Errorf("listen on port %d: %v", cfg.Port, err)
		os.Exit(1)
	}

	led := ledger.New()
	registry := traders.New(led, log.WithPrefix("traders"))
	engine := matching.New(registry, log.WithPrefix("matching"))
	engine.Start()

	conns := connreg.New()
	srv := server.New(ln, registry, engine, conns, log.WithPrefix("server"))

	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve() }()

	log.Infof("Bourse server listening on port %d", cfg.Port)

	select {
	case <-sighup:
		log.Infof("received SIGHUP, shutting down")
	case err := <-serveErr:
		log.Errorf("accept loop exited: %v", err)
	}

	terminate(srv, engine, log)
}

// terminate runs the shutdown sequence: stop accepting connections, force
// every in-flight connection closed and wait for its service goroutine to
// exit, then tear down the matching engine, freeing any orders still
// resting in the books (mirrors the original's terminate()).
func terminate(srv *server.Server, engine *matching.Engine, log *logging.Logger) {
	srv.Shutdown()
	log.Infof("all service connections terminated")

	engine.Stop()
	log.Infof("Bourse server terminating")
}
