package syncclient

import (
	"errors"
	"fmt"
)

// AckFunction is the completion callback for any outbound request (UPLOAD, MARK, QUERY, ...).
// Per spec.md §9, all callbacks are wrapped to check for nil and recover from panics before
// being invoked, mirroring the teacher's "safe callback" convention throughout transfer.go.
type AckFunction func(err error)

// ErrorAction mirrors the server's directive on a protocol-level ERROR message (spec.md §6.1).
type ErrorAction int

const (
	ActionNoAction ErrorAction = iota
	ActionProtocolViolation
	ActionApplicationBug
	ActionWarning
	ActionTransient
	ActionDeleteRealm
	ActionClientReset
	ActionClientResetNoRecovery
)

func (a ErrorAction) String() string {
	switch a {
	case ActionNoAction:
		return "no_action"
	case ActionProtocolViolation:
		return "protocol_violation"
	case ActionApplicationBug:
		return "application_bug"
	case ActionWarning:
		return "warning"
	case ActionTransient:
		return "transient"
	case ActionDeleteRealm:
		return "delete_realm"
	case ActionClientReset:
		return "client_reset"
	case ActionClientResetNoRecovery:
		return "client_reset_no_recovery"
	default:
		return "unknown_action"
	}
}

// ErrorKind enumerates every distinguishable failure this engine can produce or observe,
// spanning the taxonomies in spec.md §7: transport, WebSocket close codes, client-side
// protocol violations, and server-reported protocol errors.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota

	// transport / connection termination reasons (spec.md §4.1, §4.2)
	KindClosedVoluntarily
	KindReadOrWriteError
	KindPongTimeout
	KindConnectOperationFailed
	KindHttpResponseNonfatal
	KindSyncConnectTimeout
	KindServerSaidTryAgainLater
	KindSslCertificateRejected
	KindSslProtocolViolation
	KindWebsocketProtocolViolation
	KindHttpResponseFatal
	KindBadHeaders
	KindSyncProtocolViolation
	KindServerSaidDoNotReconnect
	KindMissingProtocolFeature

	// client-side protocol violations (spec.md §4.3, §7)
	KindUnknownMessage
	KindBadSyntax
	KindLimitsExceeded
	KindBadChangeset
	KindBadProgress
	KindBadServerVersion
	KindBadClientVersion
	KindBadOriginFileIdent
	KindBadTimestamp
	KindAutoClientResetFailure

	// server-reported protocol error, connection or session scoped
	KindServerProtocolError

	// compensating write, deferred until its DOWNLOAD batch arrives
	KindCompensatingWrite

	// auth
	KindAuthenticationFailed
	KindBadToken
)

// Retryable reports whether this kind of failure is, by itself, recoverable by reconnecting
// (true) or requires the session to go Inactive / surface to the application (false). This is
// the coarse split the propagation policy in spec.md §7 makes before consulting an explicit
// `Action` when one was supplied by the server.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindClosedVoluntarily, KindReadOrWriteError, KindPongTimeout,
		KindConnectOperationFailed, KindHttpResponseNonfatal, KindSyncConnectTimeout,
		KindServerSaidTryAgainLater:
		return true
	default:
		return false
	}
}

// ProtocolError is the result-sum-type replacement mandated by spec.md §9 for the exception-
// based control flow of the source material. Every protocol-handling function that can fail
// returns one of these (wrapped as a plain `error`) instead of panicking.
type ProtocolError struct {
	Kind                ErrorKind
	Message             string
	TryAgain            bool
	Action              ErrorAction
	ResumptionDelayInfo *ResumptionDelayInfo
	SessionIdent        uint64
}

func (e *ProtocolError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.kindString(), e.Message)
	}
	return e.kindString()
}

func (e *ProtocolError) kindString() string {
	return fmt.Sprintf("syncclient error kind=%d action=%s", e.Kind, e.Action)
}

func NewProtocolError(kind ErrorKind, message string) *ProtocolError {
	return &ProtocolError{Kind: kind, Message: message}
}

func IsProtocolError(err error, kind ErrorKind) bool {
	var pe *ProtocolError
	if !errors.As(err, &pe) {
		return false
	}
	return pe.Kind == kind
}

var (
	ErrBadToken       = NewProtocolError(KindBadToken, "could not parse token")
	ErrSessionClosed  = errors.New("session closed")
	ErrConnectionGone = errors.New("connection gone")
)
