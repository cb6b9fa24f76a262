// Copyright 2020 Converter Systems LLC. All rights reserved.

package ua

import "time"

// MessageSecurityMode selects how symmetric chunks are protected. Values
// match the OPC UA MessageSecurityMode enumeration so they travel on the
// wire unchanged.
type MessageSecurityMode uint32

const (
	MessageSecurityModeInvalid        MessageSecurityMode = 0
	MessageSecurityModeNone           MessageSecurityMode = 1
	MessageSecurityModeSign           MessageSecurityMode = 2
	MessageSecurityModeSignAndEncrypt MessageSecurityMode = 3
)

// SecurityTokenRequestType distinguishes the first OpenSecureChannel of a
// channel's lifetime from a later renewal.
type SecurityTokenRequestType uint32

const (
	SecurityTokenRequestTypeIssue SecurityTokenRequestType = 0
	SecurityTokenRequestTypeRenew SecurityTokenRequestType = 1
)

// RequestHeader is common to every service request.
type RequestHeader struct {
	AuthenticationToken NodeID
	Timestamp           time.Time
	RequestHandle       uint32
	ReturnDiagnostics    uint32
	AuditEntryID        string
	TimeoutHint         uint32
	AdditionalHeader    interface{}
}

// ResponseHeader is common to every service response.
type ResponseHeader struct {
	Timestamp          time.Time
	RequestHandle      uint32
	ServiceResult      StatusCode
	ServiceDiagnostics interface{}
	StringTable        []string
	AdditionalHeader   interface{}
}

// ServiceRequest is satisfied by every outbound message this layer encodes.
type ServiceRequest interface {
	Header() *RequestHeader
}

// ServiceResponse is satisfied by every inbound message this layer decodes.
type ServiceResponse interface {
	Header() *ResponseHeader
}

// ChannelSecurityToken identifies a set of symmetric keys and their lifetime.
type ChannelSecurityToken struct {
	ChannelID       uint32
	TokenID         uint32
	CreatedAt       time.Time
	RevisedLifetime uint32
}

// OpenSecureChannelRequest begins or renews a secure channel.
type OpenSecureChannelRequest struct {
	RequestHeader         RequestHeader
	ClientProtocolVersion uint32
	RequestType           SecurityTokenRequestType
	SecurityMode          MessageSecurityMode
	ClientNonce           ByteString
	RequestedLifetime     uint32
}

// Header implements ServiceRequest.
func (r *OpenSecureChannelRequest) Header() *RequestHeader { return &r.RequestHeader }

// OpenSecureChannelResponse is the server's reply, carrying the new token.
type OpenSecureChannelResponse struct {
	ResponseHeader        ResponseHeader
	ServerProtocolVersion uint32
	SecurityToken         ChannelSecurityToken
	ServerNonce           ByteString
}

// Header implements ServiceResponse.
func (r *OpenSecureChannelResponse) Header() *ResponseHeader { return &r.ResponseHeader }

// CloseSecureChannelRequest asks the server to close the channel.
type CloseSecureChannelRequest struct {
	RequestHeader RequestHeader
}

// Header implements ServiceRequest.
func (r *CloseSecureChannelRequest) Header() *RequestHeader { return &r.RequestHeader }

// CloseSecureChannelResponse acknowledges a close. Servers typically close
// the socket instead of replying; the client synthesizes this locally.
type CloseSecureChannelResponse struct {
	ResponseHeader ResponseHeader
}

// Header implements ServiceResponse.
func (r *CloseSecureChannelResponse) Header() *ResponseHeader { return &r.ResponseHeader }

// ServiceFault is returned in place of the expected response type when a
// service fails at the application level; the channel itself stays open.
type ServiceFault struct {
	ResponseHeader ResponseHeader
}

// Header implements ServiceResponse.
func (r *ServiceFault) Header() *ResponseHeader { return &r.ResponseHeader }

// Error implements the error interface.
func (r *ServiceFault) Error() string { return r.ResponseHeader.ServiceResult.Error() }

// NewServiceFault synthesizes a ServiceFault from a response header whose
// ServiceResult is not Good, for responses that didn't already decode to one.
func NewServiceFault(header ResponseHeader) *ServiceFault {
	return &ServiceFault{ResponseHeader: header}
}

// ErrorMessage is the payload of a TCP-level Error chunk (outside any secure
// channel), used while a handshake is still pending.
type ErrorMessage struct {
	Error  StatusCode
	Reason string
}
