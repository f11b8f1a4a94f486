package cursor

import (
	"fmt"

	"github.com/joao-brasil/mssql-cursor-exchange/internal/classify"
	"github.com/joao-brasil/mssql-cursor-exchange/internal/connstate"
	"github.com/joao-brasil/mssql-cursor-exchange/internal/exchange"
	"github.com/joao-brasil/mssql-cursor-exchange/internal/metrics"
	"github.com/joao-brasil/mssql-cursor-exchange/internal/prepare"
	"github.com/joao-brasil/mssql-cursor-exchange/internal/rpc"
	"github.com/joao-brasil/mssql-cursor-exchange/internal/tds"
	"github.com/joao-brasil/mssql-cursor-exchange/internal/valuecodec"
)

// kind identifies which of the three entry points started the exchange;
// it determines the surfaced-ReturnValue ordinal threshold and which
// ordinal (if any) carries the cursor id and prepared handle.
type kind int

const (
	kindDirect kind = iota
	kindCursorOpen
	kindCursorPrepExec
	kindCursorExecute
	kindCursorFetch
	kindCursorClose
)

// surfacedThreshold returns the procedure-specific ordinal threshold
// below which a ReturnValue is suppressed rather than forwarded
// downstream (spec §4.5 step 2, §9 second open question).
func (k kind) surfacedThreshold() uint16 {
	if k == kindCursorPrepExec {
		return 7
	}
	return 5
}

func (k kind) cursorIDOrdinal() (uint16, bool) {
	switch k {
	case kindCursorOpen:
		return 0, true
	case kindCursorPrepExec, kindCursorExecute:
		return 1, true
	default:
		return 0, false
	}
}

func (k kind) handleOrdinal() (uint16, bool) {
	if k == kindCursorPrepExec {
		return 0, true
	}
	return 0, false
}

// Downstream receives every message (and synthesized IntermediateCount)
// the reducer decides to forward to the subscriber, in arrival order,
// terminated by a call to Complete.
type Downstream interface {
	Deliver(msg any)
	Complete(err error)
}

// Deps bundles the engine's collaborators so each subscription's Engine
// doesn't have to be handed them one at a time.
type Deps struct {
	Builder   *rpc.Builder
	Cache     prepare.Cache
	ConnState *connstate.Listener
	FetchSize int32

	// OnRetry, if set, is called once when the silent prepare-retry
	// protocol fires, letting the caller correlate it against whatever
	// subscription trace it logged at Subscribe time.
	OnRetry func(reason string)
}

// subscription captures everything needed to retry or continue the
// exchange this engine instance is driving: the original query text,
// formal parameter definitions, and named parameters, so a prepare-retry
// can rebuild a fresh sp_cursorprepexec from scratch.
type subscription struct {
	query           string
	formalParamDefs string
	named           []rpc.Param
	fingerprint     prepare.Fingerprint
}

// Engine drives one subscription's exchange. It implements
// exchange.Processor: the exchange channel calls Process once per
// inbound message, synchronously, and the engine returns the next
// outbound frame (if any) plus whether this is the exchange's last
// frame.
type Engine struct {
	deps Deps
	down Downstream
	sub  subscription

	kind  kind
	state State
}

// NewDirect starts a sp_executesql exchange (spec §4.5 "Direct").
func NewDirect(deps Deps, down Downstream, query, formalParamDefs string, named []rpc.Param) (*Engine, []byte) {
	e := &Engine{
		deps: deps,
		down: down,
		sub:  subscription{query: query, formalParamDefs: formalParamDefs, named: named},
		kind: kindDirect,
	}
	e.state.DirectMode = true
	req := deps.Builder.ExecuteSQL(currentTxDesc(deps), query, formalParamDefs, named)
	return e, encode(req)
}

// NewCursorOpen starts a sp_cursoropen exchange (spec §4.5 "Cursored text").
func NewCursorOpen(deps Deps, down Downstream, query string) (*Engine, []byte) {
	e := &Engine{
		deps: deps,
		down: down,
		sub:  subscription{query: query},
		kind: kindCursorOpen,
	}
	req := deps.Builder.CursorOpen(currentTxDesc(deps), query)
	return e, encode(req)
}

// NewCursorParameterized starts a sp_cursorprepexec or sp_cursorexecute
// exchange depending on whether the prepared-statement cache already
// holds a handle for this fingerprint (spec §4.5 "Cursored parameterized").
func NewCursorParameterized(deps Deps, down Downstream, query, formalParamDefs string, paramTypes []string, named []rpc.Param) (*Engine, []byte) {
	fp := prepare.NewFingerprint(query, paramTypes)
	e := &Engine{
		deps: deps,
		down: down,
		sub:  subscription{query: query, formalParamDefs: formalParamDefs, named: named, fingerprint: fp},
	}

	if handle, ok := deps.Cache.GetHandle(fp); ok {
		metrics.PrepareCacheResult.WithLabelValues("hit").Inc()
		e.kind = kindCursorExecute
		req := deps.Builder.CursorExecute(currentTxDesc(deps), handle, named)
		return e, encode(req)
	}

	metrics.PrepareCacheResult.WithLabelValues("miss").Inc()
	e.kind = kindCursorPrepExec
	req := deps.Builder.CursorPrepExec(currentTxDesc(deps), query, formalParamDefs, named)
	return e, encode(req)
}

func currentTxDesc(deps Deps) [8]byte {
	var td [8]byte
	if deps.ConnState != nil {
		td = [8]byte(deps.ConnState.Snapshot().TransactionDescriptor)
	}
	return td
}

func encode(req *rpc.Request) []byte {
	params := make([]tds.RPCParam, len(req.Params))
	for i, p := range req.Params {
		params[i] = tds.RPCParam{Name: p.Name, Out: p.Direction == rpc.Out, Value: p.Value}
	}
	return tds.EncodeRPC(uint16(req.ProcID), req.TransactionDescriptor, req.OptionFlags, params)
}

var _ exchange.Processor = (*Engine)(nil)

// Process implements the reducer described in spec §4.5, applied to
// every inbound message in order.
func (e *Engine) Process(msg tds.Message) (next []byte, hasNext bool, isLast bool) {
	// Listener updates must be visible before the triggering token is
	// surfaced downstream (spec §5); connstate.Apply is synchronous.
	if e.deps.ConnState != nil {
		if err := e.deps.ConnState.Apply(msg); err != nil {
			e.down.Complete(err)
			return nil, false, true
		}
	}

	// Step 1: maintain hasSeenRows / error tracking.
	switch m := msg.(type) {
	case tds.RowMessage:
		e.state.HasSeenRows = true
		metrics.RowsObserved.Inc()
	case tds.ErrorMessage:
		e.state.HasSeenError = true
		errCopy := m
		e.state.ErrorToken = &errCopy
	}

	// Prepare-retry: suppress everything until the retry's DoneProc
	// arrives, at which point a fresh prepexec is issued.
	if e.state.Phase == PhasePrepareRetry {
		if done, ok := msg.(tds.DoneMessage); ok && done.Proc {
			return e.restartAfterPrepareRetry()
		}
		return nil, false, false
	}

	if errMsg, ok := msg.(tds.ErrorMessage); ok {
		retriable := e.kind == kindCursorPrepExec || e.kind == kindCursorExecute
		if classify.Classify(errMsg.Number) == classify.TransientReprepare && retriable && !e.state.prepareRetried {
			e.state.Phase = PhasePrepareRetry
			e.state.HasSeenError = false
			e.state.ErrorToken = nil
			e.state.prepareRetried = true
			return nil, false, false
		}
	}

	// Step 2: ReturnValue ordinal handling.
	if rv, ok := msg.(tds.ReturnValueMessage); ok {
		return e.handleReturnValue(rv)
	}

	// Step 3: direct-mode signal.
	if info, ok := msg.(tds.InfoMessage); ok && info.Number == 16954 {
		e.state.DirectMode = true
	}

	// Step 4: suppress zero-column ColumnMetadata.
	if cm, ok := msg.(tds.ColMetadataMessage); ok && cm.ColumnCount == 0 {
		return nil, false, false
	}

	// Step 6: attention-ack DONE.
	if done, ok := msg.(tds.DoneMessage); ok && !done.Proc && !done.InProc && done.Status&doneAttnBit() != 0 {
		e.state.Phase = PhaseClosed
		e.down.Deliver(msg)
		return nil, false, true
	}

	// Step 5: DoneInProc handling.
	if done, ok := msg.(tds.DoneMessage); ok && done.InProc {
		e.state.HasMore = done.More()
		if e.state.DirectMode {
			e.down.Deliver(msg)
		} else if (e.state.Phase == PhaseFetching || e.state.Phase == PhaseNone) && done.Status&doneCountBit() != 0 {
			// Spec names this "during FETCHING", but the opening window
			// (sp_cursoropen/prepexec's own result set, before the first
			// sp_cursorfetch) produces its row count while phase is still
			// NONE — scenario 2 expects an intermediate count for that
			// window too, so both phases are covered here.
			e.down.Deliver(IntermediateCount{RowCount: done.RowCount})
		}
		return nil, false, false
	}

	// Step 7: forward everything else except DoneProc (handled below).
	if done, ok := msg.(tds.DoneMessage); ok && done.Proc {
		// Step 8: error observed before this DoneProc moves phase to ERROR.
		if e.state.HasSeenError {
			e.state.Phase = PhaseError
		}
		e.down.Deliver(msg)

		isDone := !done.More()
		if isDone {
			return e.onDone()
		}
		return nil, false, false
	}

	e.down.Deliver(msg)
	return nil, false, false
}

// handleReturnValue implements reducer step 2.
func (e *Engine) handleReturnValue(rv tds.ReturnValueMessage) (next []byte, hasNext bool, isLast bool) {
	if ord, ok := e.kind.cursorIDOrdinal(); ok && rv.ParamOrdinal == ord {
		if v, err := valuecodec.Int32(rv.Value); err == nil {
			e.state.CursorID = v
		}
	}
	if ord, ok := e.kind.handleOrdinal(); ok && rv.ParamOrdinal == ord {
		if v, err := valuecodec.Int32(rv.Value); err == nil && e.deps.Cache != nil {
			e.deps.Cache.PutHandle(e.sub.fingerprint, v)
		}
	}

	if rv.ParamOrdinal < e.kind.surfacedThreshold() {
		return nil, false, false
	}
	e.down.Deliver(rv)
	return nil, false, false
}

// onDone implements the onDone decision table in spec §4.5.
func (e *Engine) onDone() (next []byte, hasNext bool, isLast bool) {
	if e.state.Phase == PhaseClosing || e.state.Phase == PhaseClosed || e.state.Phase == PhaseError ||
		((e.state.Phase == PhaseNone || e.state.Phase == PhaseFetching) && e.state.CursorID == 0) {
		wasError := e.state.Phase == PhaseError
		e.state.Phase = PhaseClosed
		if wasError {
			metrics.ExchangeErrors.WithLabelValues("server-surfaced").Inc()
		}
		e.down.Complete(terminalErr(e.state))
		return nil, false, true
	}

	if e.state.Phase == PhaseNone || e.state.Phase == PhaseFetching {
		wantsMore := !e.state.CancelRequested
		if ((e.state.Phase == PhaseNone && e.state.HasMore) || e.state.HasSeenRows) && wantsMore {
			e.state.Phase = PhaseFetching
			e.state.HasSeenRows = false
			req := e.deps.Builder.CursorFetch(currentTxDesc(e.deps), e.state.CursorID, e.deps.FetchSize)
			metrics.FetchRoundTrips.WithLabelValues("continue").Inc()
			return encode(req), true, false
		}

		e.state.Phase = PhaseClosing
		req := e.deps.Builder.CursorClose(currentTxDesc(e.deps), e.state.CursorID)
		metrics.FetchRoundTrips.WithLabelValues("close").Inc()
		return encode(req), true, false
	}

	// Unreachable: every other phase was handled by the first branch.
	e.state.Phase = PhaseClosed
	e.down.Complete(nil)
	return nil, false, true
}

// restartAfterPrepareRetry invalidates the stale cache entry and emits a
// fresh sp_cursorprepexec, resetting phase to NONE (spec §4.5 Prepare-
// retry protocol).
func (e *Engine) restartAfterPrepareRetry() (next []byte, hasNext bool, isLast bool) {
	e.state.Phase = PhaseNone
	e.state.HasSeenError = false
	e.state.ErrorToken = nil
	if e.deps.Cache != nil {
		e.deps.Cache.Invalidate(e.sub.fingerprint)
	}
	metrics.PrepareRetries.Inc()
	if e.deps.OnRetry != nil {
		e.deps.OnRetry("transient reprepare")
	}

	e.kind = kindCursorPrepExec
	req := e.deps.Builder.CursorPrepExec(currentTxDesc(e.deps), e.sub.query, e.sub.formalParamDefs, e.sub.named)
	return encode(req), true, false
}

// Cancel marks the subscription's cancel flag; the next onDone routes to
// the CLOSING branch rather than issuing another fetch (spec §4.5
// Cancellation).
func (e *Engine) Cancel() {
	e.state.CancelRequested = true
}

// State returns a copy of the engine's current CursorState, for
// observability and tests.
func (e *Engine) State() State { return e.state }

func terminalErr(s State) error {
	if s.ErrorToken != nil {
		return fmt.Errorf("cursor: exchange completed in ERROR phase: %w", *s.ErrorToken)
	}
	return nil
}

// doneAttnBit/doneCountBit return the two DONE status bits the reducer
// branches on, read from tds's exported DoneAttnFlag/DoneCountFlag
// aliases (the rest of tds's DONE bits stay unexported).
func doneAttnBit() uint16  { return tds.DoneAttnFlag }
func doneCountBit() uint16 { return tds.DoneCountFlag }
