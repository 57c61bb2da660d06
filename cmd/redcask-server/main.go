// Command redcask-server runs the single-node key/value server.
package main

import (
	"os"

	"go.uber.org/automaxprocs/maxprocs"

	"github.com/redcask/redcask/config"
	"github.com/redcask/redcask/dump"
	"github.com/redcask/redcask/handler"
	"github.com/redcask/redcask/internal/sigs"
	"github.com/redcask/redcask/logger"
	"github.com/redcask/redcask/replica"
	"github.com/redcask/redcask/server"
	"github.com/redcask/redcask/store"
)

func main() {
	os.Exit(run())
}

func run() int {
	if _, err := maxprocs.Set(maxprocs.Logger(logger.Infof)); err != nil {
		logger.Warnf("maxprocs: %v", err)
	}

	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		logger.Errorf("config: %v", err)
		return 1
	}

	s := store.New()
	restore(cfg, s)

	if cfg.IsReplica() {
		host, port := cfg.MasterAddr()
		logger.Infof("connecting to master %s:%s", host, port)
		if err := replica.Handshake(host, port, cfg.Port()); err != nil {
			logger.Errorf("replica handshake failed: %v", err)
			return 1
		}
		logger.Infof("replica handshake with %s:%s complete", host, port)
	}

	d := handler.New(s, cfg)

	sig := sigs.Terminate()
	go func() {
		<-sig
		logger.Infof("shutting down, saving dataset")
		saveOnExit(cfg, s)
		os.Exit(0)
	}()

	loop, err := server.NewLoop(cfg.Port(), d, nil)
	if err != nil {
		logger.Errorf("binding 127.0.0.1:%d: %v", cfg.Port(), err)
		return 1
	}
	defer loop.Close()

	logger.Infof("listening on 127.0.0.1:%d", cfg.Port())
	if err := loop.Run(); err != nil {
		logger.Errorf("server: %v", err)
		return 1
	}
	return 0
}

// restore loads a dump file into s at startup, if one is configured and
// present. A missing or unparseable dump file is logged and ignored — the
// server starts with an empty dataset rather than refusing to start.
func restore(cfg *config.Config, s *store.Store) {
	path, ok := cfg.DumpPath()
	if !ok {
		return
	}

	f, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warnf("opening dump file %s: %v", path, err)
		}
		return
	}
	defer f.Close()

	db, err := dump.Read(f, true)
	if err != nil {
		logger.Warnf("reading dump file %s: %v", path, err)
		return
	}
	if db == nil {
		return
	}

	entries := make([]store.Entry, len(db.Entries))
	for i, e := range db.Entries {
		entries[i] = store.Entry{Key: e.Key, Value: e.Value, ExpiresAtMs: e.ExpiresAtMs}
	}
	s.Import(entries)
	logger.Infof("loaded %d keys from %s", len(entries), path)
}

// saveOnExit writes the current dataset to the configured dump path on a
// best-effort basis; a write failure is logged but does not block exit.
func saveOnExit(cfg *config.Config, s *store.Store) {
	path, ok := cfg.DumpPath()
	if !ok {
		return
	}

	f, err := os.Create(path)
	if err != nil {
		logger.Warnf("saving dump file %s: %v", path, err)
		return
	}
	defer f.Close()

	exported := s.Export()
	entries := make([]dump.ValueEntry, len(exported))
	for i, e := range exported {
		entries[i] = dump.ValueEntry{Key: e.Key, Value: e.Value, ExpiresAtMs: e.ExpiresAtMs}
	}
	if err := dump.Write(f, entries, nil, true); err != nil {
		logger.Warnf("saving dump file %s: %v", path, err)
	}
}
