package syncer

import (
	"github.com/cyface-de/uplink/upload"
)

// Actions the sync loop takes on an upload Result.
const (
	ACTION_MARK_SYNCED  = 0x01 // accepted (or already known) on the collector
	ACTION_MARK_SKIPPED = 0x02 // permanent, exclude from future passes
	ACTION_RETRY_LATER  = 0x03 // transient, leave FINISHED for the next pass
	ACTION_RETRY_NOW    = 0x04 // negotiate a fresh session and go again
	ACTION_REAUTH       = 0x05 // invalidate the token, login, retry once
	ACTION_ABORT_PASS   = 0x06 // interrupted, unwind without error
)

// ActionFor implements the caller side of the error taxonomy: which of the
// retry/skip/report policies applies to one attempt's Result.
func ActionFor(res upload.Result) uint {
	switch res.Outcome {
	case upload.UPLOAD_SUCCESSFUL:
		return ACTION_MARK_SYNCED
	case upload.UPLOAD_SKIPPED:
		return ACTION_MARK_SKIPPED
	}

	switch upload.KindOf(res.Cause) {
	case upload.KindConflict:
		// the driver already maps 409 to success, kept here for the
		// taxonomy's sake
		return ACTION_MARK_SYNCED
	case upload.KindUnauthorized:
		return ACTION_REAUTH
	case upload.KindUploadSessionExpired:
		return ACTION_RETRY_NOW
	case upload.KindInternalServerError,
		upload.KindTooManyRequests,
		upload.KindHostUnresolvable,
		upload.KindServerUnavailable,
		upload.KindNetworkUnavailable:
		return ACTION_RETRY_LATER
	case upload.KindMeasurementTooLarge:
		return ACTION_MARK_SKIPPED
	case upload.KindSynchronizationInterrupted:
		return ACTION_ABORT_PASS
	}
	// BadRequest, Forbidden, EntityNotParsable, AccountNotActivated,
	// UnexpectedResponseCode and anything unknown: permanent, report
	return ACTION_MARK_SKIPPED
}
