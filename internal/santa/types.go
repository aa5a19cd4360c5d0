package santa

import (
	"context"
	"time"

	"secretsanta/internal/matching"

	"github.com/google/uuid"
)

type State int

const (
	StateOpen State = iota + 1
	StateClosed
	StateMatched
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateMatched:
		return "matched"
	default:
		return "unknown"
	}
}

// One Secret Santa event per guild
type Event struct {
	GuildId   string
	ChannelId string // Where announcements go
	State     State
	RunId     uuid.UUID // New on every successful match, uuid.Nil before
	OpenedAt  time.Time
	ClosesAt  time.Time // Signup deadline, zero if none
	MatchedAt time.Time
}

func (e Event) HasDeadline() bool {
	return !e.ClosesAt.IsZero()
}

type Participant struct {
	GuildId  string
	UserId   string
	Name     string
	Country  string
	Wishlist string
	JoinedAt time.Time
}

type AssignmentRecord struct {
	RunId uuid.UUID
	Pairs matching.Assignment
	Sent  map[string]bool // Keyed by giver
}

// Giver of the provided recipient, if any
func (r AssignmentRecord) SantaOf(recipientId string) (string, bool) {
	for giver, recipient := range r.Pairs {
		if recipient == recipientId {
			return giver, true
		}
	}
	return "", false
}

type Store interface {
	GetEvent(ctx context.Context, guildId string) (Event, error)
	SaveEvent(ctx context.Context, event Event) error
	// Removes the event together with its participants and assignment
	DeleteEvent(ctx context.Context, guildId string) error
	ListEvents(ctx context.Context) ([]Event, error)

	UpsertParticipant(ctx context.Context, participant Participant) error
	RemoveParticipant(ctx context.Context, guildId string, userId string) error
	GetParticipant(ctx context.Context, guildId string, userId string) (Participant, error)
	// Sorted by signup time
	ListParticipants(ctx context.Context, guildId string) ([]Participant, error)

	// Replaces any previous assignment of the guild
	SaveAssignment(ctx context.Context, guildId string, runId uuid.UUID, assignment matching.Assignment) error
	GetAssignment(ctx context.Context, guildId string) (AssignmentRecord, error)
	MarkSent(ctx context.Context, guildId string, giverId string) error
}

type DeliveryResult int

const (
	Delivered DeliveryResult = iota
	// The user does not accept private messages
	Unreachable
	// Anything else went wrong while sending
	Failed
)

func (r DeliveryResult) String() string {
	switch r {
	case Delivered:
		return "delivered"
	case Unreachable:
		return "unreachable"
	default:
		return "failed"
	}
}

type MessageKind int

const (
	// Tell a giver who their recipient is
	KindAssignment MessageKind = iota
	// Anonymous message from a giver to their recipient
	KindFromSanta
	// Message from a recipient to their anonymous giver
	KindFromGiftee
	// The giver marked the gift as sent
	KindGiftSent
)

type Message struct {
	Kind    MessageKind
	GuildId string
	Profile Participant // The recipient, for assignment messages
	Text    string
}

// Delivery is best effort and must not panic; the result says what happened
type Notifier interface {
	Deliver(ctx context.Context, userId string, message Message) DeliveryResult
}

// Optional capability provided by some other part of the host bot
type LevelProvider interface {
	Level(ctx context.Context, guildId string, userId string) (int, error)
}

type Direction int

const (
	ToRecipient Direction = iota
	ToSanta
)

func (d Direction) String() string {
	if d == ToSanta {
		return "to_santa"
	}
	return "to_recipient"
}

type DeliveryFailure struct {
	Participant Participant
	Result      DeliveryResult
}

type MatchReport struct {
	RunId        uuid.UUID
	Participants int
	SameCountry  int
	Delivered    int
	Failures     []DeliveryFailure
}

type Status struct {
	Event        Event
	Participants int
	Countries    map[string]int
	GiftsSent    int
}
