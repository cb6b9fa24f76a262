// Copyright 2020 Converter Systems LLC. All rights reserved.

package ua

import (
	"fmt"

	"github.com/google/uuid"
)

// IDType identifies which union member of a NodeID is populated.
type IDType byte

const (
	IDTypeNumeric IDType = 0
	IDTypeString  IDType = 1
	IDTypeGUID    IDType = 2
	IDTypeOpaque  IDType = 3
)

// NodeID identifies a node, a type, or (as used here) an authentication
// token or a message's binary encoding id.
type NodeID struct {
	namespaceIndex uint16
	idType         IDType
	numeric        uint32
	str            string
	guid           uuid.UUID
	opaque         ByteString
}

// NewNodeIDNumeric constructs a numeric NodeID.
func NewNodeIDNumeric(ns uint16, id uint32) NodeID {
	return NodeID{namespaceIndex: ns, idType: IDTypeNumeric, numeric: id}
}

// NewNodeIDString constructs a string NodeID.
func NewNodeIDString(ns uint16, id string) NodeID {
	return NodeID{namespaceIndex: ns, idType: IDTypeString, str: id}
}

// NewNodeIDGUID constructs a GUID NodeID.
func NewNodeIDGUID(ns uint16, id uuid.UUID) NodeID {
	return NodeID{namespaceIndex: ns, idType: IDTypeGUID, guid: id}
}

// NewNodeIDOpaque constructs an opaque (ByteString) NodeID.
func NewNodeIDOpaque(ns uint16, id ByteString) NodeID {
	return NodeID{namespaceIndex: ns, idType: IDTypeOpaque, opaque: id}
}

// NilNodeID is the zero value: namespace 0, numeric identifier 0.
var NilNodeID = NodeID{}

// NamespaceIndex returns the namespace index.
func (n NodeID) NamespaceIndex() uint16 { return n.namespaceIndex }

// IDType returns which union member is populated.
func (n NodeID) IDType() IDType { return n.idType }

// IsNil reports whether this is the null NodeID (ns=0, numeric=0).
func (n NodeID) IsNil() bool {
	return n.namespaceIndex == 0 && n.idType == IDTypeNumeric && n.numeric == 0
}

// Numeric returns the numeric identifier; only meaningful when IDType() == IDTypeNumeric.
func (n NodeID) Numeric() uint32 { return n.numeric }

func (n NodeID) String() string {
	switch n.idType {
	case IDTypeNumeric:
		return fmt.Sprintf("ns=%d;i=%d", n.namespaceIndex, n.numeric)
	case IDTypeString:
		return fmt.Sprintf("ns=%d;s=%s", n.namespaceIndex, n.str)
	case IDTypeGUID:
		return fmt.Sprintf("ns=%d;g=%s", n.namespaceIndex, n.guid)
	case IDTypeOpaque:
		return fmt.Sprintf("ns=%d;b=%x", n.namespaceIndex, []byte(n.opaque))
	default:
		return "ns=0;i=0"
	}
}
