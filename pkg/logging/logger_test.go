package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevelsWriteToConfiguredOutputs(t *testing.T) {
	var out, errOut bytes.Buffer
	InitLoggingWithOutput(&out, &errOut, true)
	t.Cleanup(func() { InitLoggingWithOutput(&bytes.Buffer{}, &bytes.Buffer{}, false) })

	Debugf("dbg %d", 1)
	Infof("inf %d", 2)
	Warnf("wrn %d", 3)
	Errorf("err %d", 4)

	assert.Contains(t, out.String(), "DEBUG: ")
	assert.Contains(t, out.String(), "dbg 1")
	assert.Contains(t, out.String(), "INFO: ")
	assert.Contains(t, out.String(), "inf 2")
	assert.Contains(t, out.String(), "WARN: ")
	assert.Contains(t, out.String(), "wrn 3")
	assert.NotContains(t, out.String(), "err 4")
	assert.Contains(t, errOut.String(), "ERROR: ")
	assert.Contains(t, errOut.String(), "err 4")
}

func TestDebugDisabledByDefault(t *testing.T) {
	var out bytes.Buffer
	InitLoggingWithOutput(&out, &out, false)

	Debugf("hidden")
	Infof("shown")

	assert.NotContains(t, out.String(), "hidden")
	assert.Contains(t, out.String(), "shown")
}

func TestNilLoggersAreNoOps(t *testing.T) {
	DebugLogger, InfoLogger, WarnLogger, ErrorLogger = nil, nil, nil, nil

	assert.NotPanics(t, func() {
		Debugf("x")
		Infof("x")
		Warnf("x")
		Errorf("x")
	})
}
