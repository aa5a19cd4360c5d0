package santa

import (
	"errors"

	"secretsanta/internal/matching"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrNoEvent        = errors.New("there is no secret santa event in this server")
	ErrEventExists    = errors.New("a secret santa event already exists in this server")
	ErrNotOpen        = errors.New("signups are not open")
	ErrStillOpen      = errors.New("signups are still open")
	ErrAlreadyMatched = errors.New("participants have already been matched")
	ErrNotMatched     = errors.New("you are not part of a matched secret santa event")
	ErrNotJoined      = errors.New("you have not joined this event")
	ErrNotEligible    = errors.New("you are not eligible to join this event")
	ErrCountry        = errors.New("a country is required")
	ErrCountryLength  = errors.New("country is too long")
	ErrWishlistLength = errors.New("wishlist is too long")
	ErrEmptyMessage   = errors.New("message is empty")

	ErrInsufficientParticipants = matching.ErrInsufficientParticipants
	ErrMatchingExhausted        = matching.ErrMatchingExhausted
)
