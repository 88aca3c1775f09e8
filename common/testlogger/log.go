package testlogger

import (
	"os"
	"testing"

	"github.com/drand/ceremony/common/log"
)

// Level returns log.DebugLevel when CEREMONY_TEST_LOGS=DEBUG, log.InfoLevel otherwise.
func Level(t testing.TB) int {
	if v, ok := os.LookupEnv(log.TestLogsEnv); ok && v == "DEBUG" {
		t.Log("Enabling DebugLevel logs")
		return log.DebugLevel
	}
	return log.InfoLevel
}

// New returns a logger tagged with the running test's name.
func New(t testing.TB) log.Logger {
	return log.New(nil, Level(t), true).With("testName", t.Name())
}
