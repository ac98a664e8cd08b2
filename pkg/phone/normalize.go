// Package phone normalises vendor phone numbers before they are dialled.
package phone

import (
	"errors"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

const DefaultRegion = "IN"

var ErrInvalidNumber = errors.New("invalid phone number")

// NormalizeE164 formats a number to E.164 using region for numbers without a
// country code. Numbers that cannot be parsed or are not dialable are rejected.
func NormalizeE164(input, region string) (string, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return "", ErrInvalidNumber
	}
	if strings.TrimSpace(region) == "" {
		region = DefaultRegion
	}

	number, err := phonenumbers.Parse(trimmed, strings.ToUpper(region))
	if err != nil {
		return "", errors.Join(ErrInvalidNumber, err)
	}
	if !phonenumbers.IsValidNumber(number) {
		return "", ErrInvalidNumber
	}

	return phonenumbers.Format(number, phonenumbers.E164), nil
}
