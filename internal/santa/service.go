package santa

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"secretsanta/internal/matching"
	"secretsanta/internal/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const defaultMaxRuns = 3

// Discord embed fields hold up to 1024 characters
const (
	MaxCountryLength  = 56
	MaxWishlistLength = 1000
)

type Service struct {
	store    Store
	notifier Notifier
	engine   matching.Engine
	maxRuns  int
	levels   LevelProvider
	minLevel int
	metrics  *metrics.Manager
	now      func() time.Time

	seedMu sync.Mutex
	seed   *rand.Rand // Seeds one generator per match run, nil for OS entropy

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

type Option func(*Service)

func WithEngine(engine matching.Engine) Option {
	return func(s *Service) { s.engine = engine }
}

// How many times the engine is invoked before giving up on a match
func WithMaxRuns(runs int) Option {
	return func(s *Service) {
		if runs > 0 {
			s.maxRuns = runs
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithRand(seed *rand.Rand) Option {
	return func(s *Service) { s.seed = seed }
}

// Only users at or above minLevel can join. Without a provider nobody is gated
func WithLevelProvider(levels LevelProvider, minLevel int) Option {
	return func(s *Service) {
		s.levels = levels
		s.minLevel = minLevel
	}
}

func WithMetrics(m *metrics.Manager) Option {
	return func(s *Service) { s.metrics = m }
}

func NewService(store Store, notifier Notifier, opts ...Option) *Service {
	s := &Service{
		store:    store,
		notifier: notifier,
		engine:   matching.NewEngine(),
		maxRuns:  defaultMaxRuns,
		now:      time.Now,
		locks:    map[string]*sync.Mutex{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Serialise every change to a guild's event
func (s *Service) lock(guildId string) func() {
	s.locksMu.Lock()
	mu, ok := s.locks[guildId]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[guildId] = mu
	}
	s.locksMu.Unlock()
	mu.Lock()
	return mu.Unlock
}

func (s *Service) newRand() *rand.Rand {
	if s.seed == nil {
		return nil
	}
	s.seedMu.Lock()
	defer s.seedMu.Unlock()
	return rand.New(rand.NewPCG(s.seed.Uint64(), s.seed.Uint64()))
}

func (s *Service) getEvent(ctx context.Context, guildId string) (Event, error) {
	event, err := s.store.GetEvent(ctx, guildId)
	if errors.Is(err, ErrNotFound) {
		return Event{}, ErrNoEvent
	}
	if err != nil {
		return Event{}, fmt.Errorf("could not read event of guild %s: %w", guildId, err)
	}
	return event, nil
}

// Open signups. A positive duration sets a deadline after which signups close
// on their own
func (s *Service) Open(ctx context.Context, guildId string, channelId string, duration time.Duration) (Event, error) {
	defer s.lock(guildId)()

	if _, err := s.store.GetEvent(ctx, guildId); err == nil {
		return Event{}, ErrEventExists
	} else if !errors.Is(err, ErrNotFound) {
		return Event{}, fmt.Errorf("could not read event of guild %s: %w", guildId, err)
	}

	now := s.now()
	event := Event{GuildId: guildId, ChannelId: channelId, State: StateOpen, OpenedAt: now}
	if duration > 0 {
		event.ClosesAt = now.Add(duration)
	}
	if err := s.store.SaveEvent(ctx, event); err != nil {
		return Event{}, fmt.Errorf("could not save event of guild %s: %w", guildId, err)
	}
	log.Info().Str("guild", guildId).Msg("Signups opened")
	return event, nil
}

func (s *Service) Close(ctx context.Context, guildId string) (Event, error) {
	defer s.lock(guildId)()

	event, err := s.getEvent(ctx, guildId)
	if err != nil {
		return Event{}, err
	}
	if event.State != StateOpen {
		return Event{}, ErrNotOpen
	}
	event.State = StateClosed
	if err := s.store.SaveEvent(ctx, event); err != nil {
		return Event{}, fmt.Errorf("could not save event of guild %s: %w", guildId, err)
	}
	log.Info().Str("guild", guildId).Msg("Signups closed")
	return event, nil
}

// Delete the event of the guild with everything attached to it
func (s *Service) Reset(ctx context.Context, guildId string) error {
	defer s.lock(guildId)()

	if _, err := s.getEvent(ctx, guildId); err != nil {
		return err
	}
	if err := s.store.DeleteEvent(ctx, guildId); err != nil {
		return fmt.Errorf("could not delete event of guild %s: %w", guildId, err)
	}
	log.Info().Str("guild", guildId).Msg("Event reset")
	return nil
}

// Sign up or update an existing signup. Returns true if it was an update
func (s *Service) Join(ctx context.Context, participant Participant) (bool, error) {
	participant.Country = strings.ToUpper(strings.TrimSpace(participant.Country))
	participant.Wishlist = strings.TrimSpace(participant.Wishlist)
	if participant.Country == "" {
		return false, ErrCountry
	}
	if utf8.RuneCountInString(participant.Country) > MaxCountryLength {
		return false, ErrCountryLength
	}
	if utf8.RuneCountInString(participant.Wishlist) > MaxWishlistLength {
		return false, ErrWishlistLength
	}

	if s.levels != nil && s.minLevel > 0 {
		level, err := s.levels.Level(ctx, participant.GuildId, participant.UserId)
		if err != nil {
			return false, fmt.Errorf("could not get level of user %s: %w", participant.UserId, err)
		}
		if level < s.minLevel {
			return false, ErrNotEligible
		}
	}

	defer s.lock(participant.GuildId)()

	event, err := s.getEvent(ctx, participant.GuildId)
	if err != nil {
		return false, err
	}
	if event.State != StateOpen {
		return false, ErrNotOpen
	}

	updated := false
	existing, err := s.store.GetParticipant(ctx, participant.GuildId, participant.UserId)
	switch {
	case err == nil:
		updated = true
		participant.JoinedAt = existing.JoinedAt
	case errors.Is(err, ErrNotFound):
		participant.JoinedAt = s.now()
	default:
		return false, fmt.Errorf("could not read participant %s: %w", participant.UserId, err)
	}

	if err := s.store.UpsertParticipant(ctx, participant); err != nil {
		return false, fmt.Errorf("could not save participant %s: %w", participant.UserId, err)
	}
	s.metrics.Signup()
	log.Debug().Msg(fmt.Sprintf("User %s joined guild %s from %s (update %t)", participant.UserId, participant.GuildId, participant.Country, updated))
	return updated, nil
}

func (s *Service) Leave(ctx context.Context, guildId string, userId string) error {
	defer s.lock(guildId)()

	event, err := s.getEvent(ctx, guildId)
	if err != nil {
		return err
	}
	if event.State != StateOpen {
		return ErrNotOpen
	}
	if err := s.store.RemoveParticipant(ctx, guildId, userId); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotJoined
		}
		return fmt.Errorf("could not remove participant %s: %w", userId, err)
	}
	log.Debug().Msg(fmt.Sprintf("User %s left guild %s", userId, guildId))
	return nil
}

// Run the match for a guild whose signups are closed. A guild that has been
// matched already is only matched again when redo is set
func (s *Service) Match(ctx context.Context, guildId string, redo bool) (MatchReport, error) {
	defer s.lock(guildId)()

	event, err := s.getEvent(ctx, guildId)
	if err != nil {
		return MatchReport{}, err
	}
	switch event.State {
	case StateOpen:
		return MatchReport{}, ErrStillOpen
	case StateMatched:
		if !redo {
			return MatchReport{}, ErrAlreadyMatched
		}
	}

	participants, err := s.store.ListParticipants(ctx, guildId)
	if err != nil {
		return MatchReport{}, fmt.Errorf("could not list participants of guild %s: %w", guildId, err)
	}
	report := MatchReport{Participants: len(participants)}

	input := make([]matching.Participant, len(participants))
	for i, p := range participants {
		input[i] = matching.Participant{Id: p.UserId, Country: p.Country}
	}

	assignment, err := s.compute(input)
	if err != nil {
		switch {
		case errors.Is(err, ErrInsufficientParticipants):
			s.metrics.MatchRun(metrics.OutcomeInsufficient)
		case errors.Is(err, ErrMatchingExhausted):
			s.metrics.MatchRun(metrics.OutcomeExhausted)
		default:
			s.metrics.MatchRun(metrics.OutcomeError)
		}
		return report, err
	}
	if err := matching.Validate(input, assignment); err != nil {
		s.metrics.MatchRun(metrics.OutcomeError)
		return report, err
	}

	runId := uuid.New()
	if err := s.store.SaveAssignment(ctx, guildId, runId, assignment); err != nil {
		s.metrics.MatchRun(metrics.OutcomeError)
		return report, fmt.Errorf("could not save assignment of guild %s: %w", guildId, err)
	}
	event.State = StateMatched
	event.RunId = runId
	event.MatchedAt = s.now()
	if err := s.store.SaveEvent(ctx, event); err != nil {
		s.metrics.MatchRun(metrics.OutcomeError)
		return report, fmt.Errorf("could not save event of guild %s: %w", guildId, err)
	}

	report.RunId = runId
	report.SameCountry = matching.SameCountryPairs(input, assignment)
	s.metrics.MatchRun(metrics.OutcomeMatched)
	s.metrics.Matched(report.Participants, report.SameCountry)
	log.Info().Str("guild", guildId).Str("run", runId.String()).Msg(fmt.Sprintf("Matched %d participants, %d in the same country", report.Participants, report.SameCountry))

	s.deliverAssignments(ctx, guildId, participants, assignment, &report)
	return report, nil
}

// Invoke the engine again while it runs out of attempts
func (s *Service) compute(input []matching.Participant) (matching.Assignment, error) {
	var err error
	for run := 1; run <= s.maxRuns; run++ {
		start := time.Now()
		var assignment matching.Assignment
		assignment, err = s.engine.Compute(input, s.newRand())
		s.metrics.EngineInvoked(time.Since(start))
		if err == nil {
			return assignment, nil
		}
		if !errors.Is(err, ErrMatchingExhausted) {
			return nil, err
		}
		log.Warn().Msg(fmt.Sprintf("Matching run %d of %d exhausted", run, s.maxRuns))
	}
	return nil, err
}

// Send the recorded assignment again to every giver
func (s *Service) Resend(ctx context.Context, guildId string) (MatchReport, error) {
	defer s.lock(guildId)()

	event, err := s.getEvent(ctx, guildId)
	if err != nil {
		return MatchReport{}, err
	}
	if event.State != StateMatched {
		return MatchReport{}, ErrNotMatched
	}
	record, err := s.store.GetAssignment(ctx, guildId)
	if err != nil {
		return MatchReport{}, fmt.Errorf("could not read assignment of guild %s: %w", guildId, err)
	}
	participants, err := s.store.ListParticipants(ctx, guildId)
	if err != nil {
		return MatchReport{}, fmt.Errorf("could not list participants of guild %s: %w", guildId, err)
	}

	report := MatchReport{RunId: record.RunId, Participants: len(participants)}
	s.deliverAssignments(ctx, guildId, participants, record.Pairs, &report)
	return report, nil
}

// One private message per giver. A failure for one giver does not stop the others
func (s *Service) deliverAssignments(ctx context.Context, guildId string, participants []Participant, assignment matching.Assignment, report *MatchReport) {
	byId := make(map[string]Participant, len(participants))
	for _, p := range participants {
		byId[p.UserId] = p
	}

	for _, giver := range participants {
		recipient, ok := byId[assignment[giver.UserId]]
		result := Failed
		if !ok {
			log.Error().Msg(fmt.Sprintf("No recipient recorded for giver %s in guild %s", giver.UserId, guildId))
		} else if ctx.Err() == nil {
			result = s.notifier.Deliver(ctx, giver.UserId, Message{Kind: KindAssignment, GuildId: guildId, Profile: recipient})
		}
		s.metrics.Delivery(result.String())
		if result == Delivered {
			report.Delivered++
			continue
		}
		log.Warn().Msg(fmt.Sprintf("Could not deliver assignment to %s: %s", giver.UserId, result))
		report.Failures = append(report.Failures, DeliveryFailure{Participant: giver, Result: result})
	}
}

func (s *Service) Status(ctx context.Context, guildId string) (Status, error) {
	event, err := s.getEvent(ctx, guildId)
	if err != nil {
		return Status{}, err
	}
	participants, err := s.store.ListParticipants(ctx, guildId)
	if err != nil {
		return Status{}, fmt.Errorf("could not list participants of guild %s: %w", guildId, err)
	}

	status := Status{Event: event, Participants: len(participants), Countries: map[string]int{}}
	for _, p := range participants {
		status.Countries[p.Country]++
	}
	if event.State == StateMatched {
		record, err := s.store.GetAssignment(ctx, guildId)
		if err != nil {
			return Status{}, fmt.Errorf("could not read assignment of guild %s: %w", guildId, err)
		}
		for _, sent := range record.Sent {
			if sent {
				status.GiftsSent++
			}
		}
	}
	return status, nil
}

// Close every open event whose deadline has passed and return them
func (s *Service) CloseExpired(ctx context.Context) ([]Event, error) {
	events, err := s.store.ListEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not list events: %w", err)
	}

	now := s.now()
	closed := make([]Event, 0)
	for _, candidate := range events {
		if candidate.State != StateOpen || !candidate.HasDeadline() || now.Before(candidate.ClosesAt) {
			continue
		}
		event, err := s.closeIfExpired(ctx, candidate.GuildId, now)
		if err != nil {
			log.Error().Err(err).Str("guild", candidate.GuildId).Msg("Could not close expired event")
			continue
		}
		if event != nil {
			closed = append(closed, *event)
		}
	}
	s.metrics.DeadlineClosed(len(closed))
	return closed, nil
}

// The event may have changed since it was listed, so check again under the lock
func (s *Service) closeIfExpired(ctx context.Context, guildId string, now time.Time) (*Event, error) {
	defer s.lock(guildId)()

	event, err := s.getEvent(ctx, guildId)
	if errors.Is(err, ErrNoEvent) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if event.State != StateOpen || !event.HasDeadline() || now.Before(event.ClosesAt) {
		return nil, nil
	}
	event.State = StateClosed
	if err := s.store.SaveEvent(ctx, event); err != nil {
		return nil, err
	}
	log.Info().Str("guild", guildId).Msg("Signup deadline reached, signups closed")
	return &event, nil
}
