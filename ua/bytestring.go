// Copyright 2020 Converter Systems LLC. All rights reserved.

package ua

// ByteString is a counted byte sequence; a nil ByteString is distinct on the
// wire from an empty, non-nil one (UA encodes the former as length -1).
type ByteString []byte
