package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"secretsanta/internal/matching"
	"secretsanta/internal/santa"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyEvents = "santa:events"

func eventKey(guildId string) string {
	return fmt.Sprintf("santa:event:%s", guildId)
}

func participantsKey(guildId string) string {
	return fmt.Sprintf("santa:participants:%s", guildId)
}

func participantKey(guildId string, userId string) string {
	return fmt.Sprintf("santa:participant:%s:%s", guildId, userId)
}

func assignmentKey(guildId string) string {
	return fmt.Sprintf("santa:assignment:%s", guildId)
}

func runKey(guildId string) string {
	return fmt.Sprintf("santa:run:%s", guildId)
}

func sentKey(guildId string) string {
	return fmt.Sprintf("santa:sent:%s", guildId)
}

type Redis struct {
	Redis *redis.Client
}

func NewRedis(url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("bad redis url: %w", err)
	}
	return &Redis{Redis: redis.NewClient(opts)}, nil
}

func (s *Redis) Close() error {
	return s.Redis.Close()
}

func (s *Redis) GetEvent(ctx context.Context, guildId string) (santa.Event, error) {
	values, err := s.Redis.HGetAll(ctx, eventKey(guildId)).Result()
	if err != nil {
		return santa.Event{}, err
	}
	if len(values) == 0 {
		return santa.Event{}, santa.ErrNotFound
	}
	return eventFromHash(guildId, values)
}

func (s *Redis) SaveEvent(ctx context.Context, event santa.Event) error {
	_, err := s.Redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, eventKey(event.GuildId), eventToHash(event))
		pipe.SAdd(ctx, keyEvents, event.GuildId)
		return nil
	})
	return err
}

func (s *Redis) DeleteEvent(ctx context.Context, guildId string) error {
	users, err := s.Redis.SMembers(ctx, participantsKey(guildId)).Result()
	if err != nil {
		return err
	}
	keys := []string{eventKey(guildId), participantsKey(guildId), assignmentKey(guildId), runKey(guildId), sentKey(guildId)}
	for _, user := range users {
		keys = append(keys, participantKey(guildId, user))
	}
	_, err = s.Redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		pipe.SRem(ctx, keyEvents, guildId)
		return nil
	})
	return err
}

func (s *Redis) ListEvents(ctx context.Context) ([]santa.Event, error) {
	guilds, err := s.Redis.SMembers(ctx, keyEvents).Result()
	if err != nil {
		return nil, err
	}
	events := make([]santa.Event, 0, len(guilds))
	for _, guildId := range guilds {
		event, err := s.GetEvent(ctx, guildId)
		if errors.Is(err, santa.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}

func (s *Redis) UpsertParticipant(ctx context.Context, p santa.Participant) error {
	_, err := s.Redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, participantKey(p.GuildId, p.UserId), participantToHash(p))
		pipe.SAdd(ctx, participantsKey(p.GuildId), p.UserId)
		return nil
	})
	return err
}

func (s *Redis) RemoveParticipant(ctx context.Context, guildId string, userId string) error {
	removed, err := s.Redis.SRem(ctx, participantsKey(guildId), userId).Result()
	if err != nil {
		return err
	}
	if removed == 0 {
		return santa.ErrNotFound
	}
	return s.Redis.Del(ctx, participantKey(guildId, userId)).Err()
}

func (s *Redis) GetParticipant(ctx context.Context, guildId string, userId string) (santa.Participant, error) {
	values, err := s.Redis.HGetAll(ctx, participantKey(guildId, userId)).Result()
	if err != nil {
		return santa.Participant{}, err
	}
	if len(values) == 0 {
		return santa.Participant{}, santa.ErrNotFound
	}
	return participantFromHash(guildId, userId, values)
}

func (s *Redis) ListParticipants(ctx context.Context, guildId string) ([]santa.Participant, error) {
	users, err := s.Redis.SMembers(ctx, participantsKey(guildId)).Result()
	if err != nil {
		return nil, err
	}
	participants := make([]santa.Participant, 0, len(users))
	for _, user := range users {
		participant, err := s.GetParticipant(ctx, guildId, user)
		if errors.Is(err, santa.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		participants = append(participants, participant)
	}
	sortParticipants(participants)
	return participants, nil
}

func (s *Redis) SaveAssignment(ctx context.Context, guildId string, runId uuid.UUID, assignment matching.Assignment) error {
	pairs := make(map[string]any, len(assignment))
	for giver, recipient := range assignment {
		pairs[giver] = recipient
	}
	_, err := s.Redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, assignmentKey(guildId), sentKey(guildId))
		if len(pairs) > 0 {
			pipe.HSet(ctx, assignmentKey(guildId), pairs)
		}
		pipe.Set(ctx, runKey(guildId), runId.String(), 0)
		return nil
	})
	return err
}

func (s *Redis) GetAssignment(ctx context.Context, guildId string) (santa.AssignmentRecord, error) {
	pairs, err := s.Redis.HGetAll(ctx, assignmentKey(guildId)).Result()
	if err != nil {
		return santa.AssignmentRecord{}, err
	}
	if len(pairs) == 0 {
		return santa.AssignmentRecord{}, santa.ErrNotFound
	}
	rawRunId, err := s.Redis.Get(ctx, runKey(guildId)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return santa.AssignmentRecord{}, err
	}
	sent, err := s.Redis.SMembers(ctx, sentKey(guildId)).Result()
	if err != nil {
		return santa.AssignmentRecord{}, err
	}

	record := santa.AssignmentRecord{Pairs: matching.Assignment(pairs), Sent: map[string]bool{}}
	if rawRunId != "" {
		if record.RunId, err = uuid.Parse(rawRunId); err != nil {
			return santa.AssignmentRecord{}, fmt.Errorf("bad run id %q: %w", rawRunId, err)
		}
	}
	for _, giver := range sent {
		record.Sent[giver] = true
	}
	return record, nil
}

func (s *Redis) MarkSent(ctx context.Context, guildId string, giverId string) error {
	exists, err := s.Redis.HExists(ctx, assignmentKey(guildId), giverId).Result()
	if err != nil {
		return err
	}
	if !exists {
		return santa.ErrNotFound
	}
	return s.Redis.SAdd(ctx, sentKey(guildId), giverId).Err()
}

func eventToHash(event santa.Event) map[string]any {
	return map[string]any{
		"channel_id": event.ChannelId,
		"state":      int(event.State),
		"run_id":     runIdString(event.RunId),
		"opened_at":  toUnix(event.OpenedAt),
		"closes_at":  toUnix(event.ClosesAt),
		"matched_at": toUnix(event.MatchedAt),
	}
}

func eventFromHash(guildId string, values map[string]string) (santa.Event, error) {
	event := santa.Event{GuildId: guildId, ChannelId: values["channel_id"]}
	state, err := strconv.Atoi(values["state"])
	if err != nil {
		return santa.Event{}, fmt.Errorf("bad state for event %s: %w", guildId, err)
	}
	event.State = santa.State(state)
	if raw := values["run_id"]; raw != "" {
		if event.RunId, err = uuid.Parse(raw); err != nil {
			return santa.Event{}, fmt.Errorf("bad run id for event %s: %w", guildId, err)
		}
	}
	if event.OpenedAt, err = parseUnix(values, "opened_at"); err != nil {
		return santa.Event{}, fmt.Errorf("event %s: %w", guildId, err)
	}
	if event.ClosesAt, err = parseUnix(values, "closes_at"); err != nil {
		return santa.Event{}, fmt.Errorf("event %s: %w", guildId, err)
	}
	if event.MatchedAt, err = parseUnix(values, "matched_at"); err != nil {
		return santa.Event{}, fmt.Errorf("event %s: %w", guildId, err)
	}
	return event, nil
}

func participantToHash(p santa.Participant) map[string]any {
	return map[string]any{
		"name":      p.Name,
		"country":   p.Country,
		"wishlist":  p.Wishlist,
		"joined_at": toUnix(p.JoinedAt),
	}
}

func participantFromHash(guildId string, userId string, values map[string]string) (santa.Participant, error) {
	p := santa.Participant{
		GuildId:  guildId,
		UserId:   userId,
		Name:     values["name"],
		Country:  values["country"],
		Wishlist: values["wishlist"],
	}
	joinedAt, err := parseUnix(values, "joined_at")
	if err != nil {
		return santa.Participant{}, fmt.Errorf("participant %s: %w", userId, err)
	}
	p.JoinedAt = joinedAt
	return p, nil
}

// Missing fields are zero times
func parseUnix(values map[string]string, field string) (time.Time, error) {
	raw := values[field]
	if raw == "" {
		return time.Time{}, nil
	}
	nanos, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad %s %q: %w", field, raw, err)
	}
	return fromUnix(nanos), nil
}
