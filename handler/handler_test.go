package handler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redcask/redcask/config"
	"github.com/redcask/redcask/resp"
	"github.com/redcask/redcask/store"
)

func newTestDispatcher(t *testing.T, flags ...string) *Dispatcher {
	t.Helper()
	cfg, err := config.Parse(flags)
	require.NoError(t, err)
	return New(store.New(), cfg)
}

func TestPing(t *testing.T) {
	d := newTestDispatcher(t)
	v, err := d.Handle("PING", nil)
	require.NoError(t, err)
	assert.Equal(t, resp.SimpleStringValue("PONG"), v)
}

func TestPingCaseInsensitive(t *testing.T) {
	d := newTestDispatcher(t)
	for _, name := range []string{"ping", "PiNg", "PING"} {
		v, err := d.Handle(name, nil)
		require.NoError(t, err)
		assert.Equal(t, resp.SimpleStringValue("PONG"), v)
	}
}

func TestEcho(t *testing.T) {
	d := newTestDispatcher(t)
	v, err := d.Handle("ECHO", []string{"hello"})
	require.NoError(t, err)
	assert.Equal(t, resp.BulkStringValue([]byte("hello")), v)
}

func TestSetGet(t *testing.T) {
	d := newTestDispatcher(t)
	v, err := d.Handle("SET", []string{"foo", "bar"})
	require.NoError(t, err)
	assert.Equal(t, resp.BulkStringValue([]byte("OK")), v)

	v, err = d.Handle("GET", []string{"foo"})
	require.NoError(t, err)
	assert.Equal(t, resp.BulkStringValue([]byte("bar")), v)
}

func TestGetMissing(t *testing.T) {
	d := newTestDispatcher(t)
	v, err := d.Handle("GET", []string{"missing"})
	require.NoError(t, err)
	assert.True(t, v.Null)
}

func TestSetWithPX(t *testing.T) {
	d := newTestDispatcher(t)
	_, err := d.Handle("SET", []string{"k", "v", "PX", "100000"})
	require.NoError(t, err)
	v, err := d.Handle("GET", []string{"k"})
	require.NoError(t, err)
	assert.Equal(t, resp.BulkStringValue([]byte("v")), v)
}

func TestSetWithBadPXSubcommand(t *testing.T) {
	d := newTestDispatcher(t)
	_, err := d.Handle("SET", []string{"k", "v", "EX", "100"})
	require.Error(t, err)
	assert.Equal(t, KindClient, ClassifyOf(err))
}

func TestSetWithNonPositivePX(t *testing.T) {
	d := newTestDispatcher(t)
	_, err := d.Handle("SET", []string{"k", "v", "PX", "0"})
	require.Error(t, err)
	assert.Equal(t, KindClient, ClassifyOf(err))
}

func TestKeys(t *testing.T) {
	d := newTestDispatcher(t)
	_, err := d.Handle("SET", []string{"a", "1"})
	require.NoError(t, err)
	_, err = d.Handle("SET", []string{"b", "2"})
	require.NoError(t, err)

	v, err := d.Handle("KEYS", []string{"*"})
	require.NoError(t, err)
	require.Len(t, v.Elems, 2)

	got := map[string]bool{}
	for _, e := range v.Elems {
		got[string(e.Bulk)] = true
	}
	assert.True(t, got["a"])
	assert.True(t, got["b"])
}

func TestConfigGetDir(t *testing.T) {
	d := newTestDispatcher(t, "--dir", "/tmp")
	v, err := d.Handle("CONFIG", []string{"GET", "dir"})
	require.NoError(t, err)
	require.Len(t, v.Elems, 2)
	assert.Equal(t, "dir", string(v.Elems[0].Bulk))
	assert.Equal(t, "/tmp", string(v.Elems[1].Bulk))
}

func TestConfigGetUnknownParam(t *testing.T) {
	d := newTestDispatcher(t)
	_, err := d.Handle("CONFIG", []string{"GET", "maxmemory"})
	require.Error(t, err)
	assert.Equal(t, KindClient, ClassifyOf(err))
}

func TestInfoMaster(t *testing.T) {
	d := newTestDispatcher(t)
	v, err := d.Handle("INFO", nil)
	require.NoError(t, err)
	assert.Contains(t, string(v.Bulk), "role:master")
}

func TestInfoReplica(t *testing.T) {
	d := newTestDispatcher(t, "--replicaof", "localhost 6380")
	v, err := d.Handle("INFO", []string{"replication"})
	require.NoError(t, err)
	assert.Equal(t, "role:slave", string(v.Bulk))
}

func TestSaveWritesDumpFile(t *testing.T) {
	dir := t.TempDir()
	d := newTestDispatcher(t, "--dir", dir, "--dbfilename", "dump.rdb")
	_, err := d.Handle("SET", []string{"a", "1"})
	require.NoError(t, err)

	v, err := d.Handle("SAVE", nil)
	require.NoError(t, err)
	assert.Equal(t, resp.SimpleStringValue("OK"), v)

	_, statErr := os.Stat(filepath.Join(dir, "dump.rdb"))
	assert.NoError(t, statErr)
}

func TestSaveWithoutDumpPathStillRespondsOK(t *testing.T) {
	d := newTestDispatcher(t)
	v, err := d.Handle("SAVE", nil)
	require.NoError(t, err)
	assert.Equal(t, resp.SimpleStringValue("OK"), v)
}

func TestReplconfListeningPort(t *testing.T) {
	d := newTestDispatcher(t)
	v, err := d.Handle("REPLCONF", []string{"listening-port", "6380"})
	require.NoError(t, err)
	assert.Equal(t, resp.SimpleStringValue("OK"), v)
}

func TestReplconfCapa(t *testing.T) {
	d := newTestDispatcher(t)
	v, err := d.Handle("REPLCONF", []string{"capa", "psync2"})
	require.NoError(t, err)
	assert.Equal(t, resp.SimpleStringValue("OK"), v)
}

func TestReplconfUnknownSubcommand(t *testing.T) {
	d := newTestDispatcher(t)
	_, err := d.Handle("REPLCONF", []string{"bogus", "x"})
	require.Error(t, err)
	assert.Equal(t, KindClient, ClassifyOf(err))
}

func TestPsync(t *testing.T) {
	d := newTestDispatcher(t)
	v, err := d.Handle("PSYNC", []string{"?", "-1"})
	require.NoError(t, err)
	assert.Contains(t, v.Str, "FULLRESYNC")
}

func TestUnknownCommand(t *testing.T) {
	d := newTestDispatcher(t)
	_, err := d.Handle("FOO", nil)
	require.Error(t, err)
	assert.Equal(t, KindClient, ClassifyOf(err))
	assert.Contains(t, err.Error(), "FOO")
}

func TestWrongArity(t *testing.T) {
	d := newTestDispatcher(t)
	_, err := d.Handle("GET", nil)
	require.Error(t, err)
	assert.Equal(t, KindClient, ClassifyOf(err))
}
