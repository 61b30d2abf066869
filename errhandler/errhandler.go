// Package errhandler implements the error recovery policy: a static
// table keyed by (Command, ErrorCode) driving a LIFO stack of pre-actions
// and a retry/abort decision.
package errhandler

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/asamint/goxcp"
)

// PreAction is one recovery step executed before a retry.
type PreAction int

const (
	PreNone PreAction = iota
	PreWaitT7
	PreSynch
	PreSetMTA
	PreSetDaqPtr
	PreUnlockSlave
	PreReinitDaq
	PreDownload
	PreUpload
	PreProgram
	PreDisplayError
)

// Action is the final disposition after pre-actions run.
type Action int

const (
	ActionNone Action = iota
	ActionSkip
	ActionDisplayError
	ActionRetrySyntax
	ActionRetryParam
	ActionRepeat
	ActionRepeat2Times
	ActionRepeatInfTimes
	ActionRestartSession
	ActionTerminateSession
	ActionUseAlternative
	ActionUseA2L
	ActionNewFlashWare
)

// Entry is one table row's recovery recipe.
type Entry struct {
	PreActions []PreAction
	Action     Action
}

type tableKey struct {
	cmd  xcp.Command
	code xcp.ErrorCode
}

// Table maps (command, error) to a recovery Entry, falling back to a
// command-independent entry keyed by error code alone (most entries in
// ASAM XCP Part 1's recommended table don't depend on which command
// failed). NewDefaultTable builds the table this package ships with; its
// maps are unexported, so code outside this package cannot add or override
// entries.
type Table struct {
	byCommand map[tableKey]Entry
	byCode    map[xcp.ErrorCode]Entry
}

func (t Table) lookup(cmd xcp.Command, code xcp.ErrorCode) (Entry, bool) {
	if e, ok := t.byCommand[tableKey{cmd, code}]; ok {
		return e, true
	}
	if e, ok := t.byCode[code]; ok {
		return e, true
	}
	return Entry{}, false
}

// defaultEntry is used for any (command, error) pair the table doesn't
// name explicitly: display the error and abort, the safe default.
var defaultEntry = Entry{PreActions: []PreAction{PreDisplayError}, Action: ActionDisplayError}

// NewDefaultTable builds the recovery table grounded in ASAM XCP Part 1's
// recommended master error-handling behavior.
func NewDefaultTable() Table {
	t := Table{byCommand: make(map[tableKey]Entry), byCode: make(map[xcp.ErrorCode]Entry)}

	// A BUSY slave just needs patience: wait T7 and repeat as often as the
	// handler's maxRetries allows (none at 0, without limit at -1).
	t.byCode[xcp.ErrCmdBusy] = Entry{PreActions: []PreAction{PreWaitT7}, Action: ActionRepeatInfTimes}

	// Out-of-sync command counter or byte stream: resynchronize then retry.
	t.byCode[xcp.ErrCmdSynch] = Entry{PreActions: []PreAction{PreSynch}, Action: ActionRepeat}

	// Malformed request on our side: no amount of retrying helps.
	t.byCode[xcp.ErrCmdSyntax] = Entry{Action: ActionDisplayError}
	t.byCode[xcp.ErrCmdUnknown] = Entry{Action: ActionDisplayError}
	t.byCode[xcp.ErrOutOfRange] = Entry{Action: ActionDisplayError}

	// Needs an unlock we don't currently hold; run cond_unlock once and
	// retry the original command.
	t.byCode[xcp.ErrAccessLocked] = Entry{PreActions: []PreAction{PreUnlockSlave}, Action: ActionRepeat}
	t.byCode[xcp.ErrAccessDenied] = Entry{Action: ActionDisplayError}

	// MTA-relative commands: a sequencing error means our cached MTA/DAQ
	// pointer cursor drifted from the slave's; restore and retry once.
	t.byCommand[tableKey{xcp.CmdUpload, xcp.ErrSequence}] = Entry{PreActions: []PreAction{PreSetMTA}, Action: ActionRepeat}
	t.byCommand[tableKey{xcp.CmdDownload, xcp.ErrSequence}] = Entry{PreActions: []PreAction{PreSetMTA}, Action: ActionRepeat}
	t.byCommand[tableKey{xcp.CmdDownloadNext, xcp.ErrSequence}] = Entry{PreActions: []PreAction{PreSetMTA, PreDownload}, Action: ActionUseAlternative}
	t.byCommand[tableKey{xcp.CmdWriteDaq, xcp.ErrSequence}] = Entry{PreActions: []PreAction{PreSetDaqPtr}, Action: ActionRepeat}

	// DAQ configuration rejected: the list must be rebuilt from scratch.
	t.byCode[xcp.ErrDaqConfig] = Entry{PreActions: []PreAction{PreReinitDaq}, Action: ActionDisplayError}

	t.byCode[xcp.ErrMemoryOverflow] = Entry{Action: ActionDisplayError}
	t.byCode[xcp.ErrGeneric] = Entry{Action: ActionDisplayError}
	t.byCode[xcp.ErrVerify] = Entry{Action: ActionDisplayError}

	// Transient resource contention: a couple of retries, not infinite.
	t.byCode[xcp.ErrResourceTempNotAccessible] = Entry{PreActions: []PreAction{PreWaitT7}, Action: ActionRepeat2Times}

	// Network/transport timeout: resynchronize and retry, bounded by
	// max_retries.
	t.byCode[xcp.ErrTimeout] = Entry{PreActions: []PreAction{PreSynch}, Action: ActionRepeatInfTimes}

	return t
}

// Hooks lets errhandler perform the actual recovery mechanics without
// importing the session package (which imports errhandler), avoiding a
// cycle.
type Hooks interface {
	WaitT7()
	Synch() error
	RestoreMTA() error
	RestoreDaqPtr() error
	UnlockSlave() error
	ReinitDaq() error
	Redownload() error
	DisplayError(err error)
}

// Handler drives Table against a session's round trips.
type Handler struct {
	table      Table
	maxRetries int // -1 infinite, 0 none, >0 finite cap for REPEAT_INF_TIMES
}

// New constructs a Handler. maxRetries overrides REPEAT_INF_TIMES (typical
// values: 3 in production, -1 (unbounded) in development, 0 in tests);
// Repeat/Repeat2Times are unaffected.
func New(table Table, maxRetries int) *Handler {
	return &Handler{table: table, maxRetries: maxRetries}
}

// Run executes invoke, recovering from *xcp.XcpResponseError and
// *xcp.XcpTimeoutError according to the table, until success, an
// unrecoverable action, or the retry budget is exhausted.
func (h *Handler) Run(cmd xcp.Command, hooks Hooks, invoke func() ([]byte, error)) ([]byte, error) {
	repeatBudget := -1 // unset; assigned from the matched entry's Action
	attempt := 0
	for {
		payload, err := invoke()
		if err == nil {
			return payload, nil
		}
		code, recoverable := classify(err)
		if !recoverable {
			return nil, err
		}
		entry, ok := h.table.lookup(cmd, code)
		if !ok {
			entry = defaultEntry
		}
		for _, pre := range entry.PreActions {
			if perr := h.runPreAction(pre, hooks, err); perr != nil {
				hooks.DisplayError(perr)
				return nil, perr
			}
		}
		switch entry.Action {
		case ActionSkip, ActionNone:
			return nil, nil
		case ActionDisplayError, ActionTerminateSession:
			hooks.DisplayError(err)
			return nil, err
		case ActionRetrySyntax, ActionRetryParam, ActionUseAlternative, ActionUseA2L, ActionNewFlashWare:
			// The caller is expected to have adjusted its request inside
			// the relevant pre-action (e.g. PreDownload re-sent via
			// DOWNLOAD instead of DOWNLOAD_NEXT); one more attempt only.
			attempt++
			if attempt > 1 {
				return nil, err
			}
			continue
		case ActionRepeat:
			attempt++
			if attempt > 1 {
				return nil, err
			}
			continue
		case ActionRepeat2Times:
			attempt++
			if attempt > 2 {
				return nil, err
			}
			continue
		case ActionRepeatInfTimes:
			if repeatBudget == -1 {
				repeatBudget = h.maxRetries
			}
			if repeatBudget == 0 {
				return nil, err
			}
			if repeatBudget > 0 {
				repeatBudget--
			}
			attempt++
			continue
		case ActionRestartSession:
			return nil, err
		default:
			return nil, err
		}
	}
}

func (h *Handler) runPreAction(pre PreAction, hooks Hooks, cause error) error {
	switch pre {
	case PreNone:
		return nil
	case PreWaitT7:
		hooks.WaitT7()
		return nil
	case PreSynch:
		return hooks.Synch()
	case PreSetMTA:
		return hooks.RestoreMTA()
	case PreSetDaqPtr:
		return hooks.RestoreDaqPtr()
	case PreUnlockSlave:
		return hooks.UnlockSlave()
	case PreReinitDaq:
		return hooks.ReinitDaq()
	case PreDownload:
		return hooks.Redownload()
	case PreUpload, PreProgram:
		return nil
	case PreDisplayError:
		hooks.DisplayError(cause)
		return nil
	default:
		log.WithField("preAction", pre).Warn("[xcp][errhandler] unknown pre-action")
		return nil
	}
}

// classify extracts the ErrorCode driving table lookup from a session
// error, and whether it is recoverable at all (framing/protocol errors
// are not).
func classify(err error) (xcp.ErrorCode, bool) {
	switch e := err.(type) {
	case *xcp.XcpResponseError:
		return e.Code, true
	case *xcp.XcpTimeoutError:
		return xcp.ErrTimeout, true
	default:
		return 0, false
	}
}

// t7 is the WAIT_T7 delay recommended by ASAM XCP Part 1 for a BUSY retry.
const t7 = 20 * time.Millisecond

// DefaultWait sleeps for T7. Session's WaitT7 hook typically calls this.
func DefaultWait() { time.Sleep(t7) }
