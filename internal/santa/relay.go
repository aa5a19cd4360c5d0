package santa

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// Send an anonymous message between a giver and their recipient. The sender
// is only identified by their role, never by id or name
func (s *Service) Relay(ctx context.Context, userId string, direction Direction, text string) (DeliveryResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Failed, ErrEmptyMessage
	}

	guildId, record, err := s.latestMatch(ctx, userId)
	if err != nil {
		return Failed, err
	}

	var target string
	var kind MessageKind
	switch direction {
	case ToRecipient:
		target, kind = record.Pairs[userId], KindFromSanta
	case ToSanta:
		giver, ok := record.SantaOf(userId)
		if !ok {
			return Failed, ErrNotMatched
		}
		target, kind = giver, KindFromGiftee
	default:
		return Failed, fmt.Errorf("unknown relay direction %d", direction)
	}

	result := s.notifier.Deliver(ctx, target, Message{Kind: kind, GuildId: guildId, Text: text})
	s.metrics.Relay(direction.String())
	s.metrics.Delivery(result.String())
	log.Debug().Msg(fmt.Sprintf("Relayed message %s in guild %s: %s", direction, guildId, result))
	return result, nil
}

// The giver tells their recipient, anonymously, that the gift is on its way
func (s *Service) MarkSent(ctx context.Context, userId string) (DeliveryResult, error) {
	guildId, record, err := s.latestMatch(ctx, userId)
	if err != nil {
		return Failed, err
	}

	unlock := s.lock(guildId)
	err = s.store.MarkSent(ctx, guildId, userId)
	unlock()
	if err != nil {
		return Failed, fmt.Errorf("could not mark gift of %s as sent: %w", userId, err)
	}

	result := s.notifier.Deliver(ctx, record.Pairs[userId], Message{Kind: KindGiftSent, GuildId: guildId})
	s.metrics.Delivery(result.String())
	log.Debug().Msg(fmt.Sprintf("Gift of %s in guild %s marked as sent", userId, guildId))
	return result, nil
}

// Most recently matched event the user takes part in
func (s *Service) latestMatch(ctx context.Context, userId string) (string, AssignmentRecord, error) {
	events, err := s.store.ListEvents(ctx)
	if err != nil {
		return "", AssignmentRecord{}, fmt.Errorf("could not list events: %w", err)
	}

	var best *Event
	var bestRecord AssignmentRecord
	for i := range events {
		event := events[i]
		if event.State != StateMatched {
			continue
		}
		if best != nil && !event.MatchedAt.After(best.MatchedAt) {
			continue
		}
		record, err := s.store.GetAssignment(ctx, event.GuildId)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return "", AssignmentRecord{}, fmt.Errorf("could not read assignment of guild %s: %w", event.GuildId, err)
		}
		if _, ok := record.Pairs[userId]; !ok {
			continue
		}
		best = &event
		bestRecord = record
	}

	if best == nil {
		return "", AssignmentRecord{}, ErrNotMatched
	}
	return best.GuildId, bestRecord, nil
}
