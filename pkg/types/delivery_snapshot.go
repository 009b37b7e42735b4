package types

import "strings"

// DeliverySnapshot freezes the buyer's delivery address on the order so later
// address edits do not rewrite history.
type DeliverySnapshot struct {
	FullName   string  `json:"full_name"`
	Line1      string  `json:"line1"`
	Line2      *string `json:"line2,omitempty"`
	City       string  `json:"city"`
	PostalCode string  `json:"postal_code"`
	Region     string  `json:"region,omitempty"`
	Country    string  `json:"country"`
	Phone      *string `json:"phone,omitempty"`
}

// CountryCode returns the upper-cased ISO country code.
func (d DeliverySnapshot) CountryCode() string {
	return strings.ToUpper(strings.TrimSpace(d.Country))
}
