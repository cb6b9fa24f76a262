// Copyright 2020 Converter Systems LLC. All rights reserved.

package ua

import "fmt"

// StatusCode is a numeric code carrying the result of an operation. A StatusCode
// of Good means success; all other values are themselves errors, so StatusCode
// satisfies the error interface directly instead of being wrapped by one.
type StatusCode uint32

// Error implements the error interface.
func (s StatusCode) Error() string {
	if name, ok := statusCodeNames[s]; ok {
		return name
	}
	return fmt.Sprintf("StatusCode(0x%08X)", uint32(s))
}

// IsGood returns true if the code's severity bits indicate success.
func (s StatusCode) IsGood() bool {
	return s&0x80000000 == 0
}

// IsBad returns true if the code's severity bits indicate failure.
func (s StatusCode) IsBad() bool {
	return s&0x80000000 != 0
}

// Good is the canonical successful result.
const Good StatusCode = 0

// Status codes referenced by the secure channel core. Values follow the
// severity/facility layout of the OPC UA status code table; only the
// subset this layer actually raises is reproduced here.
const (
	BadUnexpectedError            StatusCode = 0x80010000
	BadInternalError              StatusCode = 0x80020000
	BadEncodingError              StatusCode = 0x80060000
	BadDecodingError              StatusCode = 0x80070000
	BadEncodingLimitsExceeded     StatusCode = 0x80080000
	BadRequestTooLarge            StatusCode = 0x80B80000
	BadUnknownResponse            StatusCode = 0x80B00000
	BadTimeout                    StatusCode = 0x800A0000
	BadRequestTimeout             StatusCode = 0x800B0000
	BadConnectionClosed           StatusCode = 0x80AE0000
	BadSecureChannelClosed        StatusCode = 0x80220000
	BadSecureChannelIDInvalid     StatusCode = 0x80210000
	BadSecureChannelTokenUnknown  StatusCode = 0x80310000
	BadTCPMessageTypeInvalid      StatusCode = 0x80230000
	BadTCPMessageTooLarge         StatusCode = 0x80240000
	BadTCPSecureChannelUnknown    StatusCode = 0x80250000
	BadSecurityChecksFailed       StatusCode = 0x80130000
	BadSecurityPolicyRejected     StatusCode = 0x80550000
	BadProtocolVersionUnsupported StatusCode = 0x80BE0000
	BadCertificateInvalid         StatusCode = 0x80160000
	BadCertificateTimeInvalid     StatusCode = 0x80140000
	BadCertificateHostNameInvalid StatusCode = 0x80180000
	BadCertificateChainIncomplete StatusCode = 0x810D0000
	BadCertificateUseNotAllowed   StatusCode = 0x80190000
	BadOutOfMemory                StatusCode = 0x80030000
)

var statusCodeNames = map[StatusCode]string{
	Good:                          "Good",
	BadUnexpectedError:            "BadUnexpectedError",
	BadInternalError:              "BadInternalError",
	BadEncodingError:              "BadEncodingError",
	BadDecodingError:              "BadDecodingError",
	BadEncodingLimitsExceeded:     "BadEncodingLimitsExceeded",
	BadRequestTooLarge:            "BadRequestTooLarge",
	BadUnknownResponse:            "BadUnknownResponse",
	BadTimeout:                    "BadTimeout",
	BadRequestTimeout:             "BadRequestTimeout",
	BadConnectionClosed:           "BadConnectionClosed",
	BadSecureChannelClosed:        "BadSecureChannelClosed",
	BadSecureChannelIDInvalid:     "BadSecureChannelIdInvalid",
	BadSecureChannelTokenUnknown:  "BadSecureChannelTokenUnknown",
	BadTCPMessageTypeInvalid:      "BadTcpMessageTypeInvalid",
	BadTCPMessageTooLarge:         "BadTcpMessageTooLarge",
	BadTCPSecureChannelUnknown:    "BadTcpSecureChannelUnknown",
	BadSecurityChecksFailed:       "BadSecurityChecksFailed",
	BadSecurityPolicyRejected:     "BadSecurityPolicyRejected",
	BadProtocolVersionUnsupported: "BadProtocolVersionUnsupported",
	BadCertificateInvalid:         "BadCertificateInvalid",
	BadCertificateTimeInvalid:     "BadCertificateTimeInvalid",
	BadCertificateHostNameInvalid: "BadCertificateHostNameInvalid",
	BadCertificateChainIncomplete: "BadCertificateChainIncomplete",
	BadCertificateUseNotAllowed:   "BadCertificateUseNotAllowed",
	BadOutOfMemory:                "BadOutOfMemory",
}

// AbortedError is returned to a pending request when the server sends an
// abort chunk instead of completing the message normally.
type AbortedError struct {
	RequestID uint32
	Status    StatusCode
	Reason    string
}

func (e *AbortedError) Error() string {
	return fmt.Sprintf("message aborted: requestId=%d status=%s reason=%q", e.RequestID, e.Status, e.Reason)
}
