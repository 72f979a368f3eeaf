// Package errors re-exports github.com/cockroachdb/errors and declares the
// sentinel errors shared by the sync subsystem.
//
// Usage:
//
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "failed to do something")
//	}
//
//	if errors.Is(err, errors.ErrMalformedResponse) {
//	    // count as a failed exchange
//	}
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
	WithHint     = crdb.WithHint
	WithHintf    = crdb.WithHintf
	WithDetail   = crdb.WithDetail
	WithDetailf  = crdb.WithDetailf
)

var (
	Is          = crdb.Is
	IsAny       = crdb.IsAny
	As          = crdb.As
	Unwrap      = crdb.Unwrap
	UnwrapAll   = crdb.UnwrapAll
	GetAllHints = crdb.GetAllHints
	Mark        = crdb.Mark
)

// Sentinels. Wrap them; compare with Is.
var (
	// ErrPeerNotFound means the relay has no counterpart registered.
	ErrPeerNotFound = New("peer not found")

	// ErrMalformedResponse covers missing statusUpdates, non-array payloads
	// and absent blocks. Treated exactly like a transport failure.
	ErrMalformedResponse = New("malformed peer response")

	// ErrChainMismatch is raised when an inbound block does not extend the local tip.
	ErrChainMismatch = New("chain mismatch")

	// ErrRelayStatus is wrapped around non-2xx relay responses.
	ErrRelayStatus = New("unexpected relay status")

	// ErrNotFound is returned by lookups that found nothing.
	ErrNotFound = New("not found")
)
