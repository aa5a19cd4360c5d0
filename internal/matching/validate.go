package matching

import (
	"errors"
	"fmt"
)

var ErrInvalidAssignment = errors.New("invalid assignment")

// Check that the assignment is a permutation of the participants without
// fixed points
func Validate(participants []Participant, assignment Assignment) error {

	if len(assignment) != len(participants) {
		return fmt.Errorf("%d givers for %d participants: %w", len(assignment), len(participants), ErrInvalidAssignment)
	}

	ids := make(map[string]struct{}, len(participants))
	for _, p := range participants {
		ids[p.Id] = struct{}{}
	}

	received := make(map[string]string, len(assignment))
	for giver, recipient := range assignment {
		if _, ok := ids[giver]; !ok {
			return fmt.Errorf("giver %s is not a participant: %w", giver, ErrInvalidAssignment)
		}
		if _, ok := ids[recipient]; !ok {
			return fmt.Errorf("recipient %s is not a participant: %w", recipient, ErrInvalidAssignment)
		}
		if giver == recipient {
			return fmt.Errorf("%s is assigned to themselves: %w", giver, ErrInvalidAssignment)
		}
		if other, ok := received[recipient]; ok {
			return fmt.Errorf("%s receives from both %s and %s: %w", recipient, other, giver, ErrInvalidAssignment)
		}
		received[recipient] = giver
	}
	return nil
}

// Number of pairs where giver and recipient share a country
func SameCountryPairs(participants []Participant, assignment Assignment) int {
	countries := make(map[string]string, len(participants))
	for _, p := range participants {
		countries[p.Id] = p.Country
	}
	count := 0
	for giver, recipient := range assignment {
		if countries[giver] == countries[recipient] {
			count++
		}
	}
	return count
}
