package provider

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidIdentity wraps every identity validation failure.
var ErrInvalidIdentity = errors.New("invalid member identity")

// earliestDOB is the oldest date of birth providers accept.
var earliestDOB = time.Date(1950, 1, 1, 0, 0, 0, 0, time.UTC)

// ValidateDOB checks that dob is a YYYY-MM-DD date between 1950-01-01 and
// today.
func ValidateDOB(dob string) error {
	d, err := time.Parse(time.DateOnly, strings.TrimSpace(dob))
	if err != nil {
		return fmt.Errorf("%w: date of birth must be in YYYY-MM-DD format", ErrInvalidIdentity)
	}
	if d.Before(earliestDOB) {
		return fmt.Errorf("%w: date of birth cannot be before 1950-01-01", ErrInvalidIdentity)
	}
	if d.After(time.Now().UTC()) {
		return fmt.Errorf("%w: date of birth cannot be in the future", ErrInvalidIdentity)
	}
	return nil
}

// Validate checks that every identity field is present and dob is valid.
func (id Identity) Validate() error {
	if strings.TrimSpace(id.MemberID) == "" {
		return fmt.Errorf("%w: member_id is required", ErrInvalidIdentity)
	}
	if strings.TrimSpace(id.LastName) == "" {
		return fmt.Errorf("%w: last_name is required", ErrInvalidIdentity)
	}
	return ValidateDOB(id.DOB)
}
