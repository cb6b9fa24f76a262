// Copyright 2020 Converter Systems LLC. All rights reserved.

package uasc

// State is the lifecycle state of a SecureChannel.
type State int

const (
	// StateClosed is the state before Open is called and after Close completes.
	StateClosed State = iota
	// StateOpening is the state from the start of Open (dial and
	// Hello/Acknowledge included) until the first OpenSecureChannel response.
	StateOpening
	// StateOpen is the steady state in which service requests may be sent.
	StateOpen
	// StateRenewing is StateOpen with a renew OpenSecureChannel request outstanding.
	// Requests may still be sent while renewing.
	StateRenewing
	// StateClosing is the state between sending CloseSecureChannel and the
	// underlying connection actually closing.
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "Closed"
	case StateOpening:
		return "Opening"
	case StateOpen:
		return "Open"
	case StateRenewing:
		return "Renewing"
	case StateClosing:
		return "Closing"
	default:
		return "Unknown"
	}
}
