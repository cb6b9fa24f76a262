// Copyright 2020 Converter Systems LLC. All rights reserved.

package ua

import "io"

func writeRequestHeader(w io.Writer, h *RequestHeader) error {
	if err := WriteNodeID(w, h.AuthenticationToken); err != nil {
		return err
	}
	if err := WriteDateTime(w, h.Timestamp); err != nil {
		return err
	}
	if err := WriteUInt32(w, h.RequestHandle); err != nil {
		return err
	}
	if err := WriteUInt32(w, h.ReturnDiagnostics); err != nil {
		return err
	}
	if err := WriteString(w, h.AuditEntryID); err != nil {
		return err
	}
	if err := WriteUInt32(w, h.TimeoutHint); err != nil {
		return err
	}
	// AdditionalHeader is an ExtensionObject; an absent one encodes as a null NodeID.
	return WriteNodeID(w, NewNodeIDNumeric(0, 0))
}

func readRequestHeader(r io.Reader, h *RequestHeader) error {
	if err := ReadNodeID(r, &h.AuthenticationToken); err != nil {
		return err
	}
	if err := ReadDateTime(r, &h.Timestamp); err != nil {
		return err
	}
	if err := ReadUInt32(r, &h.RequestHandle); err != nil {
		return err
	}
	if err := ReadUInt32(r, &h.ReturnDiagnostics); err != nil {
		return err
	}
	if err := ReadString(r, &h.AuditEntryID); err != nil {
		return err
	}
	if err := ReadUInt32(r, &h.TimeoutHint); err != nil {
		return err
	}
	var discard NodeID
	return ReadNodeID(r, &discard)
}

// writeResponseHeader writes the ServiceDiagnostics as an empty DiagnosticInfo
// (a single zero encoding mask byte) and the StringTable as a null array,
// which is what every response this layer originates actually carries.
func writeResponseHeader(w io.Writer, h *ResponseHeader) error {
	if err := WriteDateTime(w, h.Timestamp); err != nil {
		return err
	}
	if err := WriteUInt32(w, h.RequestHandle); err != nil {
		return err
	}
	if err := WriteUInt32(w, uint32(h.ServiceResult)); err != nil {
		return err
	}
	if _, err := w.Write([]byte{0x00}); err != nil {
		return BadEncodingError
	}
	if err := WriteInt32(w, -1); err != nil {
		return err
	}
	return WriteNodeID(w, NewNodeIDNumeric(0, 0))
}

// readResponseHeader reads past a DiagnosticInfo encoded with the common
// encoding-mask-byte form (only the no-fields-present mask 0x00 is expected
// from servers this layer talks to) and a StringTable of plain strings.
func readResponseHeader(r io.Reader, h *ResponseHeader) error {
	if err := ReadDateTime(r, &h.Timestamp); err != nil {
		return err
	}
	if err := ReadUInt32(r, &h.RequestHandle); err != nil {
		return err
	}
	var result uint32
	if err := ReadUInt32(r, &result); err != nil {
		return err
	}
	h.ServiceResult = StatusCode(result)

	var mask [1]byte
	if _, err := io.ReadFull(r, mask[:]); err != nil {
		return BadDecodingError
	}
	if mask[0] != 0 {
		return BadDecodingError
	}

	var n int32
	if err := ReadInt32(r, &n); err != nil {
		return err
	}
	if n > 0 {
		table := make([]string, n)
		for i := range table {
			if err := ReadString(r, &table[i]); err != nil {
				return err
			}
		}
		h.StringTable = table
	}

	var discard NodeID
	return ReadNodeID(r, &discard)
}

func writeOpenSecureChannelRequest(w io.Writer, req *OpenSecureChannelRequest) error {
	if err := writeRequestHeader(w, &req.RequestHeader); err != nil {
		return err
	}
	if err := WriteUInt32(w, req.ClientProtocolVersion); err != nil {
		return err
	}
	if err := WriteUInt32(w, uint32(req.RequestType)); err != nil {
		return err
	}
	if err := WriteUInt32(w, uint32(req.SecurityMode)); err != nil {
		return err
	}
	if err := WriteByteString(w, req.ClientNonce); err != nil {
		return err
	}
	return WriteUInt32(w, req.RequestedLifetime)
}

func readOpenSecureChannelRequest(r io.Reader) (*OpenSecureChannelRequest, error) {
	req := &OpenSecureChannelRequest{}
	if err := readRequestHeader(r, &req.RequestHeader); err != nil {
		return nil, err
	}
	if err := ReadUInt32(r, &req.ClientProtocolVersion); err != nil {
		return nil, err
	}
	var requestType, mode uint32
	if err := ReadUInt32(r, &requestType); err != nil {
		return nil, err
	}
	req.RequestType = SecurityTokenRequestType(requestType)
	if err := ReadUInt32(r, &mode); err != nil {
		return nil, err
	}
	req.SecurityMode = MessageSecurityMode(mode)
	if err := ReadByteString(r, &req.ClientNonce); err != nil {
		return nil, err
	}
	if err := ReadUInt32(r, &req.RequestedLifetime); err != nil {
		return nil, err
	}
	return req, nil
}

func writeOpenSecureChannelResponse(w io.Writer, resp *OpenSecureChannelResponse) error {
	if err := writeResponseHeader(w, &resp.ResponseHeader); err != nil {
		return err
	}
	if err := WriteUInt32(w, resp.ServerProtocolVersion); err != nil {
		return err
	}
	if err := WriteUInt32(w, resp.SecurityToken.ChannelID); err != nil {
		return err
	}
	if err := WriteUInt32(w, resp.SecurityToken.TokenID); err != nil {
		return err
	}
	if err := WriteDateTime(w, resp.SecurityToken.CreatedAt); err != nil {
		return err
	}
	if err := WriteUInt32(w, resp.SecurityToken.RevisedLifetime); err != nil {
		return err
	}
	return WriteByteString(w, resp.ServerNonce)
}

func readOpenSecureChannelResponse(r io.Reader) (*OpenSecureChannelResponse, error) {
	resp := &OpenSecureChannelResponse{}
	if err := readResponseHeader(r, &resp.ResponseHeader); err != nil {
		return nil, err
	}
	if err := ReadUInt32(r, &resp.ServerProtocolVersion); err != nil {
		return nil, err
	}
	if err := ReadUInt32(r, &resp.SecurityToken.ChannelID); err != nil {
		return nil, err
	}
	if err := ReadUInt32(r, &resp.SecurityToken.TokenID); err != nil {
		return nil, err
	}
	if err := ReadDateTime(r, &resp.SecurityToken.CreatedAt); err != nil {
		return nil, err
	}
	if err := ReadUInt32(r, &resp.SecurityToken.RevisedLifetime); err != nil {
		return nil, err
	}
	if err := ReadByteString(r, &resp.ServerNonce); err != nil {
		return nil, err
	}
	return resp, nil
}

func writeCloseSecureChannelRequest(w io.Writer, req *CloseSecureChannelRequest) error {
	return writeRequestHeader(w, &req.RequestHeader)
}

func readCloseSecureChannelRequest(r io.Reader) (*CloseSecureChannelRequest, error) {
	req := &CloseSecureChannelRequest{}
	if err := readRequestHeader(r, &req.RequestHeader); err != nil {
		return nil, err
	}
	return req, nil
}

func writeCloseSecureChannelResponse(w io.Writer, resp *CloseSecureChannelResponse) error {
	return writeResponseHeader(w, &resp.ResponseHeader)
}

func readCloseSecureChannelResponse(r io.Reader) (*CloseSecureChannelResponse, error) {
	resp := &CloseSecureChannelResponse{}
	if err := readResponseHeader(r, &resp.ResponseHeader); err != nil {
		return nil, err
	}
	return resp, nil
}

func writeServiceFault(w io.Writer, f *ServiceFault) error {
	return writeResponseHeader(w, &f.ResponseHeader)
}

func readServiceFault(r io.Reader) (*ServiceFault, error) {
	f := &ServiceFault{}
	if err := readResponseHeader(r, &f.ResponseHeader); err != nil {
		return nil, err
	}
	return f, nil
}
