package errhandler

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asamint/goxcp"
)

type spyHooks struct {
	waitT7Calls     int
	synchCalls      int
	restoreMTACalls int
	unlockCalls     int
	displayed       []error
	synchErr        error
}

func (h *spyHooks) WaitT7()                { h.waitT7Calls++ }
func (h *spyHooks) Synch() error            { h.synchCalls++; return h.synchErr }
func (h *spyHooks) RestoreMTA() error       { h.restoreMTACalls++; return nil }
func (h *spyHooks) RestoreDaqPtr() error    { return nil }
func (h *spyHooks) UnlockSlave() error      { h.unlockCalls++; return nil }
func (h *spyHooks) ReinitDaq() error        { return nil }
func (h *spyHooks) Redownload() error       { return nil }
func (h *spyHooks) DisplayError(err error)  { h.displayed = append(h.displayed, err) }

func TestRunReturnsImmediatelyOnSuccess(t *testing.T) {
	h := New(NewDefaultTable(), 3)
	hooks := &spyHooks{}
	calls := 0
	payload, err := h.Run(xcp.CmdGetStatus, hooks, func() ([]byte, error) {
		calls++
		return []byte{0xFF}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF}, payload)
	assert.Equal(t, 1, calls)
}

func TestRunPropagatesUnrecoverableError(t *testing.T) {
	h := New(NewDefaultTable(), 3)
	hooks := &spyHooks{}
	sentinel := errors.New("boom")
	_, err := h.Run(xcp.CmdGetStatus, hooks, func() ([]byte, error) {
		return nil, sentinel
	})
	assert.Equal(t, sentinel, err)
}

func TestRunRetriesSynchOnce(t *testing.T) {
	h := New(NewDefaultTable(), 3)
	hooks := &spyHooks{}
	calls := 0
	_, err := h.Run(xcp.CmdUpload, hooks, func() ([]byte, error) {
		calls++
		if calls == 1 {
			return nil, &xcp.XcpResponseError{Command: "UPLOAD", Code: xcp.ErrCmdSynch}
		}
		return []byte{0xFF}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, hooks.synchCalls)
}

func TestRunAbortsAfterOneSynchRetryOnRepeatedFailure(t *testing.T) {
	h := New(NewDefaultTable(), 3)
	hooks := &spyHooks{}
	calls := 0
	_, err := h.Run(xcp.CmdUpload, hooks, func() ([]byte, error) {
		calls++
		return nil, &xcp.XcpResponseError{Command: "UPLOAD", Code: xcp.ErrCmdSynch}
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls) // one original attempt + one retry, then abort
}

func TestRunDisplaysErrorForSyntaxError(t *testing.T) {
	h := New(NewDefaultTable(), 3)
	hooks := &spyHooks{}
	_, err := h.Run(xcp.CmdDownload, hooks, func() ([]byte, error) {
		return nil, &xcp.XcpResponseError{Command: "DOWNLOAD", Code: xcp.ErrCmdSyntax}
	})
	require.Error(t, err)
	require.Len(t, hooks.displayed, 1)
}

func TestRunUnlocksOnAccessLocked(t *testing.T) {
	h := New(NewDefaultTable(), 3)
	hooks := &spyHooks{}
	calls := 0
	_, err := h.Run(xcp.CmdSetMTA, hooks, func() ([]byte, error) {
		calls++
		if calls == 1 {
			return nil, &xcp.XcpResponseError{Command: "SET_MTA", Code: xcp.ErrAccessLocked}
		}
		return []byte{0xFF}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, hooks.unlockCalls)
}

func TestRunBoundsRepeatInfTimesByMaxRetries(t *testing.T) {
	h := New(NewDefaultTable(), 2)
	hooks := &spyHooks{}
	calls := 0
	_, err := h.Run(xcp.CmdGetStatus, hooks, func() ([]byte, error) {
		calls++
		return nil, &xcp.XcpResponseError{Command: "GET_STATUS", Code: xcp.ErrCmdBusy}
	})
	require.Error(t, err)
	// initial attempt + maxRetries retries
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, hooks.waitT7Calls)
}

func TestRunTreatsTimeoutAsRecoverable(t *testing.T) {
	h := New(NewDefaultTable(), 1)
	hooks := &spyHooks{}
	calls := 0
	_, err := h.Run(xcp.CmdGetStatus, hooks, func() ([]byte, error) {
		calls++
		return nil, &xcp.XcpTimeoutError{Command: "GET_STATUS", Timeout: 1}
	})
	require.Error(t, err)
	assert.GreaterOrEqual(t, calls, 2)
	assert.GreaterOrEqual(t, hooks.synchCalls, 1)
}
