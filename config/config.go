// Package config parses the CLI flags into an immutable runtime object
// shared (read-only) by every other component.
package config

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

// Config is the immutable set of runtime parameters. It is built once by
// Parse and never mutated afterward.
type Config struct {
	dir          string
	dbFilename   string
	port         uint16
	masterHost   string
	masterPort   string
	hasReplicaOf bool
}

// Dir returns the configured dump directory, or "" if unset.
func (c *Config) Dir() string { return c.dir }

// DBFilename returns the configured dump file name, or "" if unset.
func (c *Config) DBFilename() string { return c.dbFilename }

// Port returns the listening port (default 6379).
func (c *Config) Port() uint16 { return c.port }

// IsReplica reports whether --replicaof was supplied.
func (c *Config) IsReplica() bool { return c.hasReplicaOf }

// MasterAddr returns the ("host", "port") of the configured master. Only
// meaningful when IsReplica is true. "localhost" is rewritten to
// "127.0.0.1" since the handshake always dials an address, never a name
// resolved through any local hosts alias the caller might not share.
func (c *Config) MasterAddr() (host, port string) {
	host = c.masterHost
	if host == "localhost" {
		host = "127.0.0.1"
	}
	return host, c.masterPort
}

// DumpPath returns the derived dump file path, and whether both Dir and
// DBFilename are set (the path is only defined when both are).
func (c *Config) DumpPath() (path string, ok bool) {
	if c.dir == "" || c.dbFilename == "" {
		return "", false
	}
	return filepath.Join(c.dir, c.dbFilename), true
}

// Parse parses args (typically os.Args[1:]) into a Config. An unrecognized
// flag causes pflag to print usage to stderr and the process to exit(2).
func Parse(args []string) (*Config, error) {
	fs := pflag.NewFlagSet("redcask-server", pflag.ExitOnError)

	dir := fs.String("dir", "", "directory containing the dump file")
	dbFilename := fs.String("dbfilename", "", "name of the dump file")
	port := fs.Uint16("port", 6379, "listening port")
	replicaOf := fs.String("replicaof", "", `master address, "<host> <port>"`)

	if err := fs.Parse(args); err != nil {
		return nil, errors.Wrap(err, "config: parsing flags")
	}

	cfg := &Config{
		dir:        *dir,
		dbFilename: *dbFilename,
		port:       *port,
	}

	if *replicaOf != "" {
		host, mport, err := splitMasterAddr(*replicaOf)
		if err != nil {
			return nil, err
		}
		cfg.hasReplicaOf = true
		cfg.masterHost = host
		cfg.masterPort = mport
	}

	return cfg, nil
}

func splitMasterAddr(s string) (host, port string, err error) {
	parts := strings.Fields(s)
	if len(parts) != 2 {
		return "", "", errors.Errorf("config: --replicaof must be \"<host> <port>\", got %q", s)
	}
	if _, err := strconv.ParseUint(parts[1], 10, 16); err != nil {
		return "", "", errors.Wrapf(err, "config: --replicaof port %q", parts[1])
	}
	return parts[0], parts[1], nil
}
