package store

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"

	"secretsanta/internal/matching"
	"secretsanta/internal/santa"

	"github.com/google/uuid"
)

type Memory struct {
	mu           sync.RWMutex
	events       map[string]santa.Event
	participants map[string]map[string]santa.Participant
	assignments  map[string]santa.AssignmentRecord
}

func NewMemory() *Memory {
	return &Memory{
		events:       map[string]santa.Event{},
		participants: map[string]map[string]santa.Participant{},
		assignments:  map[string]santa.AssignmentRecord{},
	}
}

func (m *Memory) Close() error {
	return nil
}

func (m *Memory) GetEvent(_ context.Context, guildId string) (santa.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	event, ok := m.events[guildId]
	if !ok {
		return santa.Event{}, santa.ErrNotFound
	}
	return event, nil
}

func (m *Memory) SaveEvent(_ context.Context, event santa.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[event.GuildId] = event
	return nil
}

func (m *Memory) DeleteEvent(_ context.Context, guildId string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.events, guildId)
	delete(m.participants, guildId)
	delete(m.assignments, guildId)
	return nil
}

func (m *Memory) ListEvents(_ context.Context) ([]santa.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	events := slices.Collect(maps.Values(m.events))
	slices.SortFunc(events, func(a, b santa.Event) int {
		return a.OpenedAt.Compare(b.OpenedAt)
	})
	return events, nil
}

func (m *Memory) UpsertParticipant(_ context.Context, participant santa.Participant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	guild, ok := m.participants[participant.GuildId]
	if !ok {
		guild = map[string]santa.Participant{}
		m.participants[participant.GuildId] = guild
	}
	guild[participant.UserId] = participant
	return nil
}

func (m *Memory) RemoveParticipant(_ context.Context, guildId string, userId string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.participants[guildId][userId]; !ok {
		return santa.ErrNotFound
	}
	delete(m.participants[guildId], userId)
	return nil
}

func (m *Memory) GetParticipant(_ context.Context, guildId string, userId string) (santa.Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	participant, ok := m.participants[guildId][userId]
	if !ok {
		return santa.Participant{}, santa.ErrNotFound
	}
	return participant, nil
}

func (m *Memory) ListParticipants(_ context.Context, guildId string) ([]santa.Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	participants := slices.Collect(maps.Values(m.participants[guildId]))
	sortParticipants(participants)
	return participants, nil
}

func (m *Memory) SaveAssignment(_ context.Context, guildId string, runId uuid.UUID, assignment matching.Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assignments[guildId] = santa.AssignmentRecord{RunId: runId, Pairs: maps.Clone(assignment), Sent: map[string]bool{}}
	return nil
}

func (m *Memory) GetAssignment(_ context.Context, guildId string) (santa.AssignmentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	record, ok := m.assignments[guildId]
	if !ok {
		return santa.AssignmentRecord{}, santa.ErrNotFound
	}
	return santa.AssignmentRecord{RunId: record.RunId, Pairs: maps.Clone(record.Pairs), Sent: maps.Clone(record.Sent)}, nil
}

func (m *Memory) MarkSent(_ context.Context, guildId string, giverId string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.assignments[guildId]
	if !ok {
		return santa.ErrNotFound
	}
	if _, ok := record.Pairs[giverId]; !ok {
		return santa.ErrNotFound
	}
	record.Sent[giverId] = true
	return nil
}

// Oldest signup first, ties broken by user id
func sortParticipants(participants []santa.Participant) {
	slices.SortFunc(participants, func(a, b santa.Participant) int {
		if c := a.JoinedAt.Compare(b.JoinedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.UserId, b.UserId)
	})
}
