package monitoring

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

// capture installs a logger that records formatted lines and restores the
// previous loggers when the test ends.
func capture(t *testing.T) *[]string {
	t.Helper()
	prevLog, prevDebug := Logf, Debugf
	t.Cleanup(func() {
		Logf, Debugf = prevLog, prevDebug
	})
	var lines []string
	SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})
	return &lines
}

func TestSetLogger_Redirects(t *testing.T) {
	lines := capture(t)

	Logf("[sweep] run %s finished", "abc")
	assert.Equal(t, []string{"[sweep] run abc finished"}, *lines)
}

func TestSetLogger_NilMutes(t *testing.T) {
	lines := capture(t)

	SetLogger(nil)
	assert.NotPanics(t, func() { Logf("[vds] set %s = %g", "gate", 0.5) })
	assert.Empty(t, *lines)
}

func TestLogf_DefaultIsUsable(t *testing.T) {
	assert.NotNil(t, Logf)
	assert.NotNil(t, Debugf)
}

func TestSetVerbose(t *testing.T) {
	lines := capture(t)
	SetVerbose(false)

	Debugf("[axis] %s step %d", "gate", 1)
	assert.Empty(t, *lines, "debug output is muted by default")

	SetVerbose(true)
	Debugf("[axis] %s step %d", "gate", 2)
	assert.Equal(t, []string{"[debug] [axis] gate step 2"}, *lines)

	SetVerbose(false)
	Debugf("[axis] %s step %d", "gate", 3)
	assert.Len(t, *lines, 1)
}

func TestSetVerbose_FollowsLaterLogger(t *testing.T) {
	first := capture(t)
	SetVerbose(true)

	var second []string
	SetLogger(func(format string, v ...interface{}) {
		second = append(second, fmt.Sprintf(format, v...))
	})
	Debugf("[scpi] %s", "*IDN?")

	assert.Empty(t, *first)
	assert.Equal(t, []string{"[debug] [scpi] *IDN?"}, second)
}
