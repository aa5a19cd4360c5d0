package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"secretsanta/internal/common"
	"secretsanta/internal/santa"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"
)

// Delivers private messages through discord, one at a time as the
// rate limiter allows
type Notifier struct {
	session Session
	limiter *common.RateLimiter
	prefix  string
}

var (
	_ santa.Notifier      = (*Notifier)(nil)
	_ santa.LevelProvider = (*MemberAge)(nil)
)

func NewNotifier(session Session, limiter *common.RateLimiter, prefix string) *Notifier {
	return &Notifier{session: session, limiter: limiter, prefix: prefix}
}

func (n *Notifier) Deliver(ctx context.Context, userId string, message santa.Message) santa.DeliveryResult {

	if err := n.limiter.Wait(ctx); err != nil {
		log.Warn().Err(err).Msg(fmt.Sprintf("Gave up waiting to message user %s", userId))
		return santa.Failed
	}

	channel, err := n.session.UserChannelCreate(userId)
	if err != nil {
		n.checkRateLimit(err)
		log.Info().Err(err).Msg(fmt.Sprintf("Could not open a private channel with user %s", userId))
		return santa.Unreachable
	}

	embed := PrivateMessage(n.prefix, message)
	if _, err := n.session.ChannelMessageSendEmbed(channel.ID, &embed); err != nil {
		n.checkRateLimit(err)
		if cannotMessageUser(err) {
			log.Info().Msg(fmt.Sprintf("User %s does not accept private messages", userId))
			return santa.Unreachable
		}
		log.Error().Err(err).Msg(fmt.Sprintf("Could not send private message to user %s", userId))
		return santa.Failed
	}
	log.Debug().Msg(fmt.Sprintf("Private message delivered to user %s", userId))
	return santa.Delivered
}

// Slow down when discord says so
func (n *Notifier) checkRateLimit(err error) {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) || restErr.Response == nil {
		return
	}
	if restErr.Response.StatusCode != http.StatusTooManyRequests {
		return
	}
	n.limiter.ReceivedRateLimit(retryAfter(restErr.Response.Header.Get("Retry-After")))
}

func cannotMessageUser(err error) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) || restErr.Message == nil {
		return false
	}
	return restErr.Message.Code == discordgo.ErrCodeCannotSendMessagesToThisUser
}

// Retry-After comes in seconds, possibly fractional. Zero if missing
func retryAfter(header string) time.Duration {
	seconds, err := strconv.ParseFloat(header, 64)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}

// Level of a member is the number of whole days since they joined the guild
type MemberAge struct {
	session Session
	now     func() time.Time
}

func NewMemberAge(session Session) *MemberAge {
	return &MemberAge{session: session, now: time.Now}
}

func (m *MemberAge) Level(ctx context.Context, guildId string, userId string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	member, err := m.session.GuildMember(guildId, userId)
	if err != nil {
		return 0, fmt.Errorf("could not get member %s of guild %s: %w", userId, guildId, err)
	}
	if member.JoinedAt.IsZero() {
		return 0, nil
	}
	return int(m.now().Sub(member.JoinedAt) / (24 * time.Hour)), nil
}
