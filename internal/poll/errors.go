package poll

import "codeberg.org/mutker/bmcmon/internal/errors"

const (
	ErrAlreadyStarted = errors.ErrorCode("poll_already_started")
	ErrNotStarted     = errors.ErrorCode("poll_not_started")
)
