package enums

import "fmt"

// EscrowStatus tracks where the money of a suborder currently sits.
type EscrowStatus string

const (
	EscrowStatusHeld             EscrowStatus = "held"
	EscrowStatusReleasedToBuyer  EscrowStatus = "released_to_buyer"
	EscrowStatusReleasedToSeller EscrowStatus = "released_to_seller"
)

var validEscrowStatuses = []EscrowStatus{
	EscrowStatusHeld,
	EscrowStatusReleasedToBuyer,
	EscrowStatusReleasedToSeller,
}

func (s EscrowStatus) String() string {
	return string(s)
}

func (s EscrowStatus) IsValid() bool {
	for _, candidate := range validEscrowStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

func ParseEscrowStatus(value string) (EscrowStatus, error) {
	for _, candidate := range validEscrowStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid escrow status %q", value)
}
