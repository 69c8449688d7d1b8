package calendar

import "errors"

var (
	ErrForbidden       = errors.New("calendar: forbidden")
	ErrNotFound        = errors.New("calendar: not found")
	ErrValidation      = errors.New("calendar: invalid input")
	ErrInvalidRule     = errors.New("calendar: invalid recurrence rule")
	ErrInvalidMode     = errors.New("calendar: invalid edit mode")
	ErrInvalidSplit    = errors.New("calendar: edited series would start before the split date")
	ErrNotAnOccurrence = errors.New("calendar: date is not an occurrence of the series")
	ErrParentCycle     = errors.New("calendar: parent would create a cycle")
	ErrAlreadyMember   = errors.New("calendar: already a member of the room")
)
