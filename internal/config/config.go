// Package config parses the Bourse CLI surface: a single required -p
// <port> flag. No third-party CLI library is used here — none of the
// retrieval pack's repos pull one in, and the standard flag package is
// sufficient for one required integer flag (see SPEC_FULL.md, Ambient
// Stack / Configuration).
package config

import (
	"errors"
	"flag"
)

// Config is the parsed command-line configuration.
type Config struct {
	Port int
}

// ErrPortRequired is returned by Parse when -p was not supplied.
var ErrPortRequired = errors.New("config: -p <port> is required")

// ErrPortRange is returned by Parse when -p is outside 0-65535.
var ErrPortRange = errors.New("config: port must be in range 0-65535")

// Parse parses args (excluding the program name) into a Config.
func Parse(args []string) (Config, error) {
	fs := flag.NewFlagSet("boursed", flag.ContinueOnError)
	port := fs.Int("p", -1, "port to listen on (required)")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if *port == -1 {
		return Config{}, ErrPortRequired
	}
	if *port < 0 || *port > 65535 {
		return Config{}, ErrPortRange
	}
	return Config{Port: *port}, nil
}
