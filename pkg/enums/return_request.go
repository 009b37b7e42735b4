package enums

import "fmt"

// ReturnType distinguishes goods-back returns from complaints.
type ReturnType string

const (
	ReturnTypeReturn    ReturnType = "return"
	ReturnTypeComplaint ReturnType = "complaint"
)

var validReturnTypes = []ReturnType{ReturnTypeReturn, ReturnTypeComplaint}

func (t ReturnType) String() string {
	return string(t)
}

func (t ReturnType) IsValid() bool {
	for _, candidate := range validReturnTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

func ParseReturnType(value string) (ReturnType, error) {
	for _, candidate := range validReturnTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid return type %q", value)
}

// ReturnStatus tracks a return/complaint case.
type ReturnStatus string

const (
	ReturnStatusRequested       ReturnStatus = "requested"
	ReturnStatusApproved        ReturnStatus = "approved"
	ReturnStatusInfoRequested   ReturnStatus = "info_requested"
	ReturnStatusPartialProposed ReturnStatus = "partial_proposed"
	ReturnStatusCompleted       ReturnStatus = "completed"
	ReturnStatusRejected        ReturnStatus = "rejected"
)

var validReturnStatuses = []ReturnStatus{
	ReturnStatusRequested,
	ReturnStatusApproved,
	ReturnStatusInfoRequested,
	ReturnStatusPartialProposed,
	ReturnStatusCompleted,
	ReturnStatusRejected,
}

// OpenReturnStatuses block new cases on the same order items.
var OpenReturnStatuses = []ReturnStatus{
	ReturnStatusRequested,
	ReturnStatusApproved,
	ReturnStatusInfoRequested,
	ReturnStatusPartialProposed,
}

func (s ReturnStatus) String() string {
	return string(s)
}

func (s ReturnStatus) IsValid() bool {
	for _, candidate := range validReturnStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsOpen reports whether the case still blocks its items.
func (s ReturnStatus) IsOpen() bool {
	for _, candidate := range OpenReturnStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

func ParseReturnStatus(value string) (ReturnStatus, error) {
	for _, candidate := range validReturnStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid return status %q", value)
}

// MessageAuthor identifies which side of a case wrote a message.
type MessageAuthor string

const (
	MessageAuthorBuyer  MessageAuthor = "buyer"
	MessageAuthorSeller MessageAuthor = "seller"
)

func (a MessageAuthor) IsValid() bool {
	return a == MessageAuthorBuyer || a == MessageAuthorSeller
}

func ParseMessageAuthor(value string) (MessageAuthor, error) {
	switch MessageAuthor(value) {
	case MessageAuthorBuyer, MessageAuthorSeller:
		return MessageAuthor(value), nil
	}
	return "", fmt.Errorf("invalid message author %q", value)
}
