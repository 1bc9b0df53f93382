// SPDX-License-Identifier: MIT

package db

import (
	"github.com/videocatalog/videocatalog/internal/fault"
)

// ErrUnknownDrive is returned when a drive label is not in the registry.
func ErrUnknownDrive(label string) error {
	return fault.Newf(fault.NotFound, "unknown drive %q", label)
}

// ErrShardMissing is returned when a known drive's shard file is absent,
// distinct from an unknown label so callers can tell "never catalogued"
// from "drive catalogued but shard lost".
func ErrShardMissing(label string) error {
	return fault.Newf(fault.NotFound, "shard database missing for drive %q", label)
}

// WrapDBError redacts the underlying failure: the cause (which may contain
// file paths) is retained for logs, the client-facing message is generic.
func WrapDBError(op string, cause error) error {
	return fault.Wrap(fault.Internal, "database error: "+op, cause)
}
