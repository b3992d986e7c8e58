package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateRejectsSmallMTU(t *testing.T) {
	c := &Config{Channel: "x", QueueCapacity: 1, DefaultRingCapacity: 1, ReplicationMTU: 10, LogLevel: "info", LogFormat: "json"}
	assert.Error(t, c.Validate())
}

func TestValidateRejectsUnknownLogLevel(t *testing.T) {
	c := &Config{Channel: "x", QueueCapacity: 1, DefaultRingCapacity: 1, ReplicationMTU: 1400, LogLevel: "verbose", LogFormat: "json"}
	assert.Error(t, c.Validate())
}

func TestValidateAcceptsDefaults(t *testing.T) {
	c := &Config{Channel: "x", QueueCapacity: 256, DefaultRingCapacity: 1024, ReplicationMTU: 1400, LogLevel: "info", LogFormat: "console"}
	assert.NoError(t, c.Validate())
}
