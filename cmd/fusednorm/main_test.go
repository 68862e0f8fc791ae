package main

import (
	"bytes"
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunVersionAndHelp(t *testing.T) {
	var out, errOut bytes.Buffer
	require.NoError(t, run([]string{"version"}, &out, &errOut))
	assert.Contains(t, out.String(), version)

	out.Reset()
	require.NoError(t, run(nil, &out, &errOut))
	assert.Contains(t, out.String(), "Commands:")
}

func TestRunUnknownCommand(t *testing.T) {
	var out, errOut bytes.Buffer
	err := run([]string{"frobnicate"}, &out, &errOut)
	require.Error(t, err)
	assert.Contains(t, errOut.String(), "Commands:")
}

func TestRunCheck(t *testing.T) {
	for _, dtype := range []string{"float32", "float64"} {
		t.Run(dtype, func(t *testing.T) {
			var out, errOut bytes.Buffer
			err := run([]string{"check", "-batch", "5", "-channels", "300", "-dtype", dtype, "-workers", "2"}, &out, &errOut)
			require.NoError(t, err, out.String())
			assert.Equal(t, 6, strings.Count(out.String(), " ok"))
		})
	}
}

func TestRunCheckBadDtype(t *testing.T) {
	var out, errOut bytes.Buffer
	assert.Error(t, run([]string{"check", "-dtype", "int8"}, &out, &errOut))
}

func TestRunBench(t *testing.T) {
	var out, errOut bytes.Buffer
	require.NoError(t, run([]string{"bench", "-batch", "4", "-channels", "64", "-n", "2"}, &out, &errOut))
	assert.Contains(t, out.String(), "forward")
	assert.Contains(t, out.String(), "backward")

	assert.Error(t, run([]string{"bench", "-n", "0"}, &out, &errOut))
}

func TestRunFitReducesLoss(t *testing.T) {
	var out, errOut bytes.Buffer
	args := []string{"fit", "-batch", "8", "-channels", "16", "-dtype", "float64", "-steps", "100", "-lr", "0.05"}
	require.NoError(t, run(args, &out, &errOut))

	var losses []float64
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		fields := strings.Fields(line)
		require.Len(t, fields, 4, line)
		loss, err := strconv.ParseFloat(fields[3], 64)
		require.NoError(t, err)
		losses = append(losses, loss)
	}
	require.Len(t, losses, 11)
	assert.Less(t, losses[len(losses)-1], losses[0]/10)
}

func TestRunFitUnknownOptimizer(t *testing.T) {
	var out, errOut bytes.Buffer
	assert.Error(t, run([]string{"fit", "-optim", "lbfgs", "-batch", "2", "-channels", "4"}, &out, &errOut))
}

type failingCloser struct{ err error }

func (c failingCloser) Close() error { return c.err }

func TestCloseIntoReportsCloseError(t *testing.T) {
	errClose := errors.New("stream failed")

	var err error
	closeInto(failingCloser{errClose}, &err)
	assert.ErrorIs(t, err, errClose)

	errRun := errors.New("run failed")
	err = errRun
	closeInto(failingCloser{errClose}, &err)
	assert.Equal(t, errRun, err)

	err = nil
	closeInto(failingCloser{}, &err)
	assert.NoError(t, err)
}
