// Package handler implements command dispatch against the store and
// configuration: arity/argument validation, per-command behaviour, and a
// three-way classification of dispatch errors.
package handler

import (
	"crypto/rand"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/redcask/redcask/config"
	"github.com/redcask/redcask/dump"
	"github.com/redcask/redcask/logger"
	"github.com/redcask/redcask/resp"
	"github.com/redcask/redcask/store"
)

// Kind classifies a dispatch error: whether the connection stays open
// (Client), is dropped (Conn), or the failure is purely internal and
// logged (Server).
type Kind int

const (
	KindClient Kind = iota
	KindConn
	KindServer
)

type classified struct {
	kind Kind
	err  error
}

func (c *classified) Error() string { return c.err.Error() }
func (c *classified) Cause() error  { return c.err }
func (c *classified) Unwrap() error { return c.err }

// ClassifyOf returns the Kind attached to err by this package, or
// KindServer if err was not produced here (the conservative default: an
// unclassified failure is treated as internal, never silently dropped).
func ClassifyOf(err error) Kind {
	var c *classified
	if errors.As(err, &c) {
		return c.kind
	}
	return KindServer
}

func clientErr(format string, args ...interface{}) error {
	return &classified{kind: KindClient, err: errors.Errorf(format, args...)}
}

// replicaID is a fixed 40-character identifier, reported by both INFO's
// replid field and PSYNC's FULLRESYNC reply.
var replicaID = generateReplID()

func generateReplID() string {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	buf := make([]byte, 40)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing is effectively unreachable on any real OS;
		// fall back to a fixed id rather than panicking at package init.
		return strings.Repeat("0", 40)
	}
	for i, b := range buf {
		buf[i] = alphabet[int(b)%len(alphabet)]
	}
	return string(buf)
}

// Dispatcher owns the store and configuration the handler reads and
// mutates. It is never shared across goroutines — the event loop calls
// Handle from the single reactor thread only.
type Dispatcher struct {
	Store *store.Store
	Cfg   *config.Config
}

// New builds a Dispatcher over the given store and configuration.
func New(s *store.Store, cfg *config.Config) *Dispatcher {
	return &Dispatcher{Store: s, Cfg: cfg}
}

// Handle interprets one already-decoded request (command name plus
// arguments, per resp.Reader.ReadRequest) and returns exactly one response
// frame, or an error classified via Kind. A returned error never also
// carries a meaningful resp.Value — the caller (server.Loop) is
// responsible for turning a KindClient error into a RESP error frame.
func (d *Dispatcher) Handle(name string, args []string) (resp.Value, error) {
	switch strings.ToUpper(name) {
	case "PING":
		return d.ping(args)
	case "ECHO":
		return d.echo(args)
	case "GET":
		return d.get(args)
	case "SET":
		return d.set(args)
	case "KEYS":
		return d.keys(args)
	case "CONFIG":
		return d.config(args)
	case "INFO":
		return d.info(args)
	case "SAVE":
		return d.save(args)
	case "REPLCONF":
		return d.replconf(args)
	case "PSYNC":
		return d.psync(args)
	default:
		return resp.Value{}, clientErr("ERR unknown command '%s'", name)
	}
}

// full arity includes the command name itself.
func arity(args []string, want int) error {
	if len(args)+1 != want {
		return clientErr("ERR wrong number of arguments")
	}
	return nil
}

func (d *Dispatcher) ping(args []string) (resp.Value, error) {
	if err := arity(args, 1); err != nil {
		return resp.Value{}, err
	}
	return resp.SimpleStringValue("PONG"), nil
}

func (d *Dispatcher) echo(args []string) (resp.Value, error) {
	if err := arity(args, 2); err != nil {
		return resp.Value{}, err
	}
	return resp.BulkStringValue([]byte(args[0])), nil
}

func (d *Dispatcher) get(args []string) (resp.Value, error) {
	if err := arity(args, 2); err != nil {
		return resp.Value{}, err
	}
	v, ok := d.Store.Get(args[0])
	if !ok {
		return resp.NullBulkString(), nil
	}
	return resp.BulkStringValue(v), nil
}

func (d *Dispatcher) set(args []string) (resp.Value, error) {
	if len(args) != 2 && len(args) != 4 {
		return resp.Value{}, clientErr("ERR wrong number of arguments for 'set' command")
	}
	key, value := args[0], args[1]

	var ttlMs *int64
	if len(args) == 4 {
		if !strings.EqualFold(args[2], "PX") {
			return resp.Value{}, clientErr("ERR syntax error")
		}
		ms, err := strconv.ParseInt(args[3], 10, 64)
		if err != nil || ms <= 0 {
			return resp.Value{}, clientErr("ERR value is not a positive integer")
		}
		ttlMs = &ms
	}

	d.Store.Set(key, []byte(value), ttlMs)
	// Replies with a bulk string "OK", not a simple string.
	return resp.BulkStringValue([]byte("OK")), nil
}

func (d *Dispatcher) keys(args []string) (resp.Value, error) {
	if err := arity(args, 2); err != nil {
		return resp.Value{}, err
	}
	keys := d.Store.Keys()
	elems := make([]resp.Value, len(keys))
	for i, k := range keys {
		elems[i] = resp.BulkStringValue([]byte(k))
	}
	return resp.ArrayValue(elems), nil
}

func (d *Dispatcher) config(args []string) (resp.Value, error) {
	if err := arity(args, 3); err != nil {
		return resp.Value{}, err
	}
	if !strings.EqualFold(args[0], "GET") {
		return resp.Value{}, clientErr("ERR unsupported CONFIG subcommand")
	}

	var value string
	switch strings.ToLower(args[1]) {
	case "dir":
		value = d.Cfg.Dir()
	case "dbfilename":
		value = d.Cfg.DBFilename()
	default:
		return resp.Value{}, clientErr("ERR unknown CONFIG parameter '%s'", args[1])
	}

	return resp.ArrayValue([]resp.Value{
		resp.BulkStringValue([]byte(args[1])),
		resp.BulkStringValue([]byte(value)),
	}), nil
}

func (d *Dispatcher) info(args []string) (resp.Value, error) {
	if len(args) != 0 && len(args) != 1 {
		return resp.Value{}, clientErr("ERR wrong number of arguments for 'info' command")
	}
	if len(args) == 1 && !strings.EqualFold(args[0], "replication") {
		return resp.Value{}, clientErr("ERR unsupported INFO section '%s'", args[0])
	}

	var payload string
	if d.Cfg.IsReplica() {
		payload = "role:slave"
	} else {
		payload = "role:master\r\nmaster_replid:" + replicaID + "\r\nmaster_repl_offset:0"
	}
	return resp.BulkStringValue([]byte(payload)), nil
}

func (d *Dispatcher) save(args []string) (resp.Value, error) {
	if err := arity(args, 1); err != nil {
		return resp.Value{}, err
	}

	path, ok := d.Cfg.DumpPath()
	if ok {
		if err := d.writeDump(path); err != nil {
			// A write failure here is internal, not the client's fault:
			// log it and still answer OK.
			logger.Errorf("SAVE: writing dump to %s failed: %v", path, err)
		}
	}
	return resp.SimpleStringValue("OK"), nil
}

func (d *Dispatcher) writeDump(path string) error {
	entries := d.Store.Export()
	dumpEntries := make([]dump.ValueEntry, len(entries))
	for i, e := range entries {
		dumpEntries[i] = dump.ValueEntry{Key: e.Key, Value: e.Value, ExpiresAtMs: e.ExpiresAtMs}
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "handler: creating dump file")
	}
	defer f.Close()

	return dump.Write(f, dumpEntries, nil, true)
}

func (d *Dispatcher) replconf(args []string) (resp.Value, error) {
	if err := arity(args, 3); err != nil {
		return resp.Value{}, err
	}

	switch strings.ToLower(args[0]) {
	case "listening-port":
		if _, err := strconv.ParseUint(args[1], 10, 16); err != nil {
			return resp.Value{}, clientErr("ERR invalid listening-port '%s'", args[1])
		}
	case "capa":
		// any capability value is accepted.
	default:
		return resp.Value{}, clientErr("ERR unrecognized REPLCONF option '%s'", args[0])
	}

	return resp.SimpleStringValue("OK"), nil
}

func (d *Dispatcher) psync(args []string) (resp.Value, error) {
	if err := arity(args, 3); err != nil {
		return resp.Value{}, err
	}
	return resp.SimpleStringValue("FULLRESYNC " + replicaID + " 0"), nil
}
