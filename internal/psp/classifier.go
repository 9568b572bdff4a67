package psp

type Decision int

const (
	Retry Decision = iota + 1
	ScheduleStatusCheck
	FinalizeSuccess
	FinalizeFailure
)

func (d Decision) String() string {
	switch d {
	case Retry:
		return "RETRY"
	case ScheduleStatusCheck:
		return "SCHEDULE_STATUS_CHECK"
	case FinalizeSuccess:
		return "FINALIZE_SUCCESS"
	case FinalizeFailure:
		return "FINALIZE_FAILURE"
	}
	return "UNDEFINED"
}

func (d Decision) IsTerminal() bool {
	return d == FinalizeSuccess || d == FinalizeFailure
}

// Classify decides the next step for an order after a PSP call. Retries and
// status checks both stop at maxRetry attempts.
func Classify(code Status, retryCount, maxRetry int) Decision {
	code = ParseStatus(string(code))

	switch {
	case code.IsSuccess():
		return FinalizeSuccess
	case code.IsFinalFailure():
		return FinalizeFailure
	case code.IsTransient():
		if retryCount < maxRetry {
			return Retry
		}
		return FinalizeFailure
	default:
		if retryCount < maxRetry {
			return ScheduleStatusCheck
		}
		return FinalizeFailure
	}
}
