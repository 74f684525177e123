package purge

import "errors"

var (
	ErrUnknownCategory = errors.New("unknown purge category")
	// ErrHoldViolation reports a force purge whose every requested
	// record sits under an active legal hold. There is no bypass.
	ErrHoldViolation = errors.New("record protected by an active legal hold")
	ErrNoRecordIDs   = errors.New("force purge requires at least one record id")
)
