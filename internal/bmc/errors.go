package bmc

import "codeberg.org/mutker/bmcmon/internal/errors"

// Transport, auth and timeout failures use the shared taxonomy codes from
// internal/errors so the evaluator can classify them. Vendor mapping problems
// are configuration errors local to this package.
const (
	ErrCommandFailed        = errors.ErrorCode("bmc_command_failed")
	ErrUnsupportedVendor    = errors.ErrorCode("bmc_unsupported_vendor")
	ErrVendorNotImplemented = errors.ErrorCode("bmc_vendor_not_implemented")
)
