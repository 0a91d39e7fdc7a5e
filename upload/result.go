package upload

// Three-way outcome of one upload attempt, shared between the driver and the
// sync loop.
const (
	UPLOAD_SUCCESSFUL = 0x01 // accepted by the collector, or already there
	UPLOAD_FAILED     = 0x02 // not accepted; Cause decides the retry policy
	UPLOAD_SKIPPED    = 0x03 // excluded, e.g. over the size limit
)

// Result is produced once per attempt and consumed exactly once by the
// caller to decide between retry, mark-synced and mark-skipped.
type Result struct {
	Outcome uint
	Cause   error // nil for UPLOAD_SUCCESSFUL, an *ApiError otherwise
}

func (r Result) String() string {
	switch r.Outcome {
	case UPLOAD_SUCCESSFUL:
		return "successful"
	case UPLOAD_FAILED:
		return "failed"
	case UPLOAD_SKIPPED:
		return "skipped"
	}
	return "unknown"
}

func successful() Result {
	return Result{Outcome: UPLOAD_SUCCESSFUL}
}

func failed(cause *ApiError) Result {
	return Result{Outcome: UPLOAD_FAILED, Cause: cause}
}

func skipped(cause *ApiError) Result {
	return Result{Outcome: UPLOAD_SKIPPED, Cause: cause}
}
