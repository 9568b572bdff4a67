package psp

// Status is an outcome code reported by (or derived for) a PSP call.
type Status string

const (
	StatusSuccessful        Status = "SUCCESSFUL"
	StatusDeclined          Status = "DECLINED"
	StatusInsufficientFunds Status = "INSUFFICIENT_FUNDS"
	StatusCardExpired       Status = "CARD_EXPIRED"
	StatusFraudSuspected    Status = "FRAUD_SUSPECTED"
	StatusTimeout           Status = "PSP_TIMEOUT"
	StatusUnavailable       Status = "PSP_UNAVAILABLE"
	StatusTransientError    Status = "TRANSIENT_ERROR"
	StatusAuthNeeded        Status = "AUTH_NEEDED"
	StatusCapturePending    Status = "CAPTURE_PENDING"
	StatusUnknown           Status = "UNKNOWN"
)

var knownStatuses = map[Status]struct{}{
	StatusSuccessful:        {},
	StatusDeclined:          {},
	StatusInsufficientFunds: {},
	StatusCardExpired:       {},
	StatusFraudSuspected:    {},
	StatusTimeout:           {},
	StatusUnavailable:       {},
	StatusTransientError:    {},
	StatusAuthNeeded:        {},
	StatusCapturePending:    {},
	StatusUnknown:           {},
}

// ParseStatus maps any string a PSP may send to a known code. Anything
// outside the set is UNKNOWN.
func ParseStatus(s string) Status {
	st := Status(s)
	if _, ok := knownStatuses[st]; ok {
		return st
	}
	return StatusUnknown
}

func (s Status) String() string {
	return string(s)
}

func (s Status) IsSuccess() bool {
	return s == StatusSuccessful
}

// IsTransient reports codes for which charging again may succeed.
func (s Status) IsTransient() bool {
	switch s {
	case StatusTimeout, StatusUnavailable, StatusTransientError:
		return true
	}
	return false
}

// NeedsStatusCheck reports codes whose outcome must be asked for again
// without charging.
func (s Status) NeedsStatusCheck() bool {
	switch s {
	case StatusAuthNeeded, StatusCapturePending, StatusUnknown:
		return true
	}
	return false
}

func (s Status) IsFinalFailure() bool {
	switch s {
	case StatusDeclined, StatusInsufficientFunds, StatusCardExpired, StatusFraudSuspected:
		return true
	}
	return false
}
