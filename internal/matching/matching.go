package matching

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"

	"github.com/rs/zerolog/log"
)

// Default number of shuffles tried in the cross-country pass
const DefaultMaxAttempts = 1000

var (
	ErrInsufficientParticipants = errors.New("at least 2 participants are required")
	ErrMatchingExhausted        = errors.New("could not build a valid assignment, try again")
	ErrInvalidParticipant       = errors.New("invalid participant")
)

type Participant struct {
	Id      string
	Country string
}

// Giver id -> recipient id
type Assignment map[string]string

type Engine struct {
	maxAttempts int
}

type Option func(*Engine)

func WithMaxAttempts(attempts int) Option {
	return func(e *Engine) {
		if attempts > 0 {
			e.maxAttempts = attempts
		}
	}
}

func NewEngine(opts ...Option) Engine {
	engine := Engine{maxAttempts: DefaultMaxAttempts}
	for _, opt := range opts {
		opt(&engine)
	}
	return engine
}

func (e Engine) MaxAttempts() int {
	return e.maxAttempts
}

// Compute a derangement of the participants, preferring givers and recipients
// that share a country. A nil rng is replaced by a freshly seeded one.
func (e Engine) Compute(participants []Participant, rng *rand.Rand) (Assignment, error) {

	if len(participants) < 2 {
		return nil, ErrInsufficientParticipants
	}
	if err := checkParticipants(participants); err != nil {
		return nil, err
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	assignment := make(Assignment, len(participants))
	used := make(map[string]bool, len(participants))

	// Phase 1: same country, givers in random order
	order := rng.Perm(len(participants))
	deferred := make([]string, 0)
	for _, gi := range order {
		giver := participants[gi]
		candidates := make([]string, 0)
		for _, recipient := range participants {
			if recipient.Id != giver.Id && !used[recipient.Id] && recipient.Country == giver.Country {
				candidates = append(candidates, recipient.Id)
			}
		}
		if len(candidates) == 0 {
			deferred = append(deferred, giver.Id)
			continue
		}
		chosen := candidates[rng.IntN(len(candidates))]
		assignment[giver.Id] = chosen
		used[chosen] = true
	}

	remaining := make([]string, 0, len(deferred))
	for _, p := range participants {
		if !used[p.Id] {
			remaining = append(remaining, p.Id)
		}
	}
	log.Debug().Msg(fmt.Sprintf("Same country pass assigned %d givers, %d deferred", len(assignment), len(deferred)))

	// Phase 2: cross country
	switch len(deferred) {
	case 0:
		return assignment, nil
	case 1:
		if err := e.single(assignment, deferred[0], remaining, rng); err != nil {
			return nil, err
		}
		return assignment, nil
	default:
		if err := e.derange(assignment, deferred, remaining, rng); err != nil {
			return nil, err
		}
		return assignment, nil
	}
}

// Rejection sampling over shuffles of the unused recipients
func (e Engine) derange(assignment Assignment, givers []string, recipients []string, rng *rand.Rand) error {

	if len(givers) != len(recipients) {
		return fmt.Errorf("%d deferred givers but %d free recipients: %w", len(givers), len(recipients), ErrMatchingExhausted)
	}

	shuffled := make([]string, len(recipients))
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		copy(shuffled, recipients)
		rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
		valid := true
		for i := range givers {
			if givers[i] == shuffled[i] {
				valid = false
				break
			}
		}
		if valid {
			for i := range givers {
				assignment[givers[i]] = shuffled[i]
			}
			log.Debug().Msg(fmt.Sprintf("Cross country pass succeeded after %d attempts", attempt))
			return nil
		}
	}

	log.Warn().Msg(fmt.Sprintf("Cross country pass gave up after %d attempts", e.maxAttempts))
	return ErrMatchingExhausted
}

// One giver left over. If the only free recipient is the giver itself, splice
// it into an existing pair x -> y so that it becomes x -> giver -> y.
func (e Engine) single(assignment Assignment, giver string, recipients []string, rng *rand.Rand) error {

	if len(recipients) != 1 {
		return fmt.Errorf("1 deferred giver but %d free recipients: %w", len(recipients), ErrMatchingExhausted)
	}
	if recipients[0] != giver {
		assignment[giver] = recipients[0]
		return nil
	}

	givers := make([]string, 0, len(assignment))
	for id := range assignment {
		givers = append(givers, id)
	}
	if len(givers) == 0 {
		return ErrInsufficientParticipants
	}
	slices.Sort(givers)
	x := givers[rng.IntN(len(givers))]
	assignment[giver] = assignment[x]
	assignment[x] = giver
	log.Debug().Msg(fmt.Sprintf("Spliced leftover giver %s after %s", giver, x))
	return nil
}

func checkParticipants(participants []Participant) error {
	seen := make(map[string]struct{}, len(participants))
	for _, p := range participants {
		if p.Id == "" {
			return fmt.Errorf("participant with empty id: %w", ErrInvalidParticipant)
		}
		if p.Country == "" {
			return fmt.Errorf("participant %s has no country: %w", p.Id, ErrInvalidParticipant)
		}
		if _, ok := seen[p.Id]; ok {
			return fmt.Errorf("participant %s appears twice: %w", p.Id, ErrInvalidParticipant)
		}
		seen[p.Id] = struct{}{}
	}
	return nil
}
