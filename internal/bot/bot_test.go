package bot

import (
	"context"
	"math/rand/v2"
	"testing"
	"time"

	"secretsanta/internal/common"
	"secretsanta/internal/santa"
	"secretsanta/internal/store"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	selfId  = "bot"
	guildId = "g1"
	general = "general"
)

type harness struct {
	session *fakeSession
	store   *store.Memory
	bot     *Bot
	now     time.Time
}

func newHarness() *harness {
	h := &harness{
		session: newFakeSession(),
		store:   store.NewMemory(),
		now:     time.Date(2024, 12, 1, 9, 0, 0, 0, time.UTC),
	}
	h.session.permissions["admin"] = discordgo.PermissionManageServer
	notifier := NewNotifier(h.session, common.NewRateLimiter(nil), DefaultPrefix)
	service := santa.NewService(h.store, notifier,
		santa.WithClock(func() time.Time { return h.now }),
		santa.WithRand(rand.New(rand.NewPCG(3, 4))),
	)
	h.bot = NewBot(DefaultPrefix, service, time.Minute)
	return h
}

// Message written in the general channel of the guild
func (h *harness) say(userId string, content string) sentMessage {
	h.now = h.now.Add(time.Second)
	h.bot.handle(context.Background(), h.session, selfId, &discordgo.Message{
		ChannelID: general,
		GuildID:   guildId,
		Content:   content,
		Author:    &discordgo.User{ID: userId, Username: userId},
	})
	return h.session.last(general)
}

// Private message to the bot
func (h *harness) whisper(userId string, content string) sentMessage {
	h.now = h.now.Add(time.Second)
	h.bot.handle(context.Background(), h.session, selfId, &discordgo.Message{
		ChannelID: privateChannel(userId),
		Content:   content,
		Author:    &discordgo.User{ID: userId, Username: userId},
	})
	return h.session.last(privateChannel(userId))
}

func TestIgnoredMessages(t *testing.T) {
	h := newHarness()
	h.say(selfId, "santa help")
	h.bot.handle(context.Background(), h.session, selfId, &discordgo.Message{
		ChannelID: general,
		GuildID:   guildId,
		Content:   "santa help",
		Author:    &discordgo.User{ID: "other-bot", Bot: true},
	})
	h.say("alice", "merry christmas")
	assert.Empty(t, h.session.in(general))
}

func TestInvalidInput(t *testing.T) {
	h := newHarness()
	reply := h.say("alice", "santa dance")
	assert.Contains(t, reply.content, "Command `dance` not recognised")
}

func TestHelpAnywhere(t *testing.T) {
	h := newHarness()
	assert.NotNil(t, h.say("alice", "santa help").embed)
	assert.NotNil(t, h.whisper("alice", "santa help").embed)
}

func TestCommandScopesAreEnforced(t *testing.T) {
	h := newHarness()
	assert.Equal(t, textOf(t, AdminOnly()), h.say("alice", "santa open").content)
	assert.Equal(t, textOf(t, PrivateOnly()), h.say("alice", "santa message santa hi").content)
	assert.Equal(t, textOf(t, GuildOnly()), h.whisper("alice", "santa join ES").content)

	_, err := h.store.GetEvent(context.Background(), guildId)
	assert.ErrorIs(t, err, santa.ErrNotFound)
}

func TestSecretSantaRound(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	reply := h.say("admin", "santa open 72")
	require.NotNil(t, reply.embed)
	assert.Contains(t, reply.embed.Title, "open")

	users := map[string]string{"alice": "ES", "bob": "ES", "carol": "US", "dan": "us"}
	for user, country := range users {
		reply = h.say(user, "santa join "+country+" a good book")
		assert.Contains(t, reply.content, "You are in!")
	}
	reply = h.say("dan", "santa join CA")
	assert.Contains(t, reply.content, "updated")

	reply = h.say("admin", "santa match")
	assert.Equal(t, textOf(t, ErrorMessage(santa.ErrStillOpen)), reply.content)

	h.say("admin", "santa close")
	reply = h.say("eve", "santa join FR")
	assert.Equal(t, textOf(t, ErrorMessage(santa.ErrNotOpen)), reply.content)

	reply = h.say("admin", "santa match")
	require.NotNil(t, reply.embed)
	assert.Equal(t, "Everybody has been matched!", reply.embed.Title)

	// Every participant got their recipient in private
	record, err := h.store.GetAssignment(ctx, guildId)
	require.NoError(t, err)
	for user := range users {
		dm := h.session.last(privateChannel(user))
		require.NotNil(t, dm.embed, user)
		assert.Contains(t, dm.embed.Description, "<@"+record.Pairs[user]+">")
	}

	reply = h.say("alice", "santa status")
	require.NotNil(t, reply.embed)
	assert.Equal(t, "matched", reply.embed.Fields[0].Value)

	// Anonymous messages both ways
	reply = h.whisper("alice", "santa message recipient do you like tea?")
	assert.Equal(t, "Message sent to your recipient", reply.content)
	dm := h.session.last(privateChannel(record.Pairs["alice"]))
	require.NotNil(t, dm.embed)
	assert.Equal(t, "do you like tea?", dm.embed.Description)
	assert.NotContains(t, dm.embed.Description+dm.embed.Title+dm.embed.Footer.Text, "alice")

	santaOfAlice, ok := record.SantaOf("alice")
	require.True(t, ok)
	reply = h.whisper("alice", "santa message santa yes please")
	assert.Equal(t, "Message sent to your Secret Santa", reply.content)
	assert.Equal(t, "yes please", h.session.last(privateChannel(santaOfAlice)).embed.Description)

	reply = h.whisper("alice", "santa sent")
	assert.Contains(t, reply.content, "marked as sent")

	reply = h.say("admin", "santa reset")
	assert.Equal(t, textOf(t, EventReset()), reply.content)
}

func TestMatchWithTooFewParticipants(t *testing.T) {
	h := newHarness()
	h.say("admin", "santa open")
	h.say("alice", "santa join ES")
	h.say("admin", "santa close")
	reply := h.say("admin", "santa match")
	assert.Equal(t, "At least 2 participants are needed to run the match, there are 1", reply.content)
}

func TestMatchReportsUnreachableParticipants(t *testing.T) {
	h := newHarness()
	h.session.closedDMs["bob"] = true
	h.say("admin", "santa open")
	h.say("alice", "santa join ES")
	h.say("bob", "santa join ES")
	h.say("carol", "santa join DE")
	h.say("admin", "santa close")

	reply := h.say("admin", "santa match")
	require.NotNil(t, reply.embed)
	values := map[string]string{}
	for _, field := range reply.embed.Fields {
		values[field.Name] = field.Value
	}
	assert.Equal(t, "3", values["Participants"])
	assert.Equal(t, "2", values["Delivered"])
	assert.Equal(t, "<@bob>: does not accept private messages", values["Could not reach"])

	delete(h.session.closedDMs, "bob")
	reply = h.say("admin", "santa resend")
	require.NotNil(t, reply.embed)
	assert.Equal(t, "Assignments sent again", reply.embed.Title)
	assert.NotEmpty(t, h.session.in(privateChannel("bob")))
}

func TestDeadlineIsAnnounced(t *testing.T) {
	h := newHarness()
	h.say("admin", "santa open 1")
	h.say("alice", "santa join ES")

	h.bot.closeExpired(context.Background(), h.session)
	assert.Len(t, h.session.in(general), 2)

	h.now = h.now.Add(2 * time.Hour)
	h.bot.closeExpired(context.Background(), h.session)
	assert.Contains(t, h.session.last(general).content, "deadline")

	event, err := h.store.GetEvent(context.Background(), guildId)
	require.NoError(t, err)
	assert.Equal(t, santa.StateClosed, event.State)
}

func TestLoopStopsWithContext(t *testing.T) {
	h := newHarness()
	h.bot.mainCycle = 10 * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		h.bot.loop(ctx, h.session)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("main loop did not stop")
	}
}

func TestHandlersStopWithRun(t *testing.T) {
	h := newHarness()
	runCtx, cancel := context.WithCancel(context.Background())
	h.bot.ctx = runCtx

	ctx, done := h.bot.handlerContext()
	defer done()
	_, hasDeadline := ctx.Deadline()
	assert.True(t, hasDeadline)
	assert.NoError(t, ctx.Err())

	cancel()
	assert.ErrorIs(t, ctx.Err(), context.Canceled)

	// A match started during shutdown does not reach anybody
	h.bot.ctx = context.Background()
	h.say("admin", "santa open")
	h.say("alice", "santa join ES")
	h.say("bob", "santa join DE")
	h.say("admin", "santa close")
	h.bot.ctx = runCtx
	ctx, done = h.bot.handlerContext()
	defer done()
	h.bot.handle(ctx, h.session, selfId, &discordgo.Message{
		ChannelID: general,
		GuildID:   guildId,
		Content:   "santa match",
		Author:    &discordgo.User{ID: "admin", Username: "admin"},
	})
	assert.Empty(t, h.session.in(privateChannel("alice")))
	assert.Empty(t, h.session.in(privateChannel("bob")))
}

func TestDisplayName(t *testing.T) {
	message := &discordgo.Message{Author: &discordgo.User{Username: "alice_1"}}
	assert.Equal(t, "alice_1", displayName(message))
	message.Author.GlobalName = "Alice"
	assert.Equal(t, "Alice", displayName(message))
	message.Member = &discordgo.Member{Nick: "Santa's helper"}
	assert.Equal(t, "Santa's helper", displayName(message))
}
