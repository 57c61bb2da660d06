package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, uint16(6379), cfg.Port())
	assert.False(t, cfg.IsReplica())
	_, ok := cfg.DumpPath()
	assert.False(t, ok)
}

func TestParseDumpPath(t *testing.T) {
	cfg, err := Parse([]string{"--dir", "/tmp", "--dbfilename", "dump.rdb"})
	require.NoError(t, err)
	path, ok := cfg.DumpPath()
	require.True(t, ok)
	assert.Equal(t, "/tmp/dump.rdb", path)
}

func TestParseReplicaOfRewritesLocalhost(t *testing.T) {
	cfg, err := Parse([]string{"--replicaof", "localhost 6380"})
	require.NoError(t, err)
	require.True(t, cfg.IsReplica())
	host, port := cfg.MasterAddr()
	assert.Equal(t, "127.0.0.1", host)
	assert.Equal(t, "6380", port)
}

func TestParseReplicaOfMalformed(t *testing.T) {
	_, err := Parse([]string{"--replicaof", "not-a-valid-spec"})
	assert.Error(t, err)
}

func TestParseCustomPort(t *testing.T) {
	cfg, err := Parse([]string{"--port", "7000"})
	require.NoError(t, err)
	assert.Equal(t, uint16(7000), cfg.Port())
}
