// Copyright 2020 Converter Systems LLC. All rights reserved.

package uasc

import "github.com/nagarsumit/milo/ua"

// statusOf extracts the StatusCode carried by err, unwrapping the shapes a
// failed request can arrive in: a bare StatusCode, a ServiceFault returned
// by a rejected handshake, or an AbortedError delivered for an in-flight
// request. Anything else classifies as BadConnectionClosed, the fallback for
// a transport failure that carries no status of its own.
func statusOf(err error) ua.StatusCode {
	switch e := err.(type) {
	case ua.StatusCode:
		return e
	case *ua.ServiceFault:
		return e.ResponseHeader.ServiceResult
	case *ua.AbortedError:
		return e.Status
	default:
		return ua.BadConnectionClosed
	}
}

// classifyReadError maps a failure from the framing reader, chunk decoder or
// chunk assembler to the StatusCode the channel closes with, which is the
// error every pending request is then failed with.
func classifyReadError(err error) ua.StatusCode {
	return statusOf(err)
}
