package bot

import (
	"context"
	"fmt"
	"time"

	"secretsanta/internal/common"
	"secretsanta/internal/santa"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"
)

// Long enough for a match to message every participant through the rate limiter
const handlerTimeout = 15 * time.Minute

type Bot struct {
	prefix        string
	service       *santa.Service
	deadlineCheck time.Duration
	mainCycle     time.Duration
	ctx           context.Context // Parent of every handler, cancelled when Run is asked to stop
}

func NewBot(prefix string, service *santa.Service, deadlineCheck time.Duration) *Bot {
	return &Bot{
		prefix:        prefix,
		service:       service,
		deadlineCheck: deadlineCheck,
		mainCycle:     time.Second,
		ctx:           context.Background(),
	}
}

// Open the session and serve commands until the context is done
func (bot *Bot) Run(ctx context.Context, discord *discordgo.Session) error {

	// Event handler
	bot.ctx = ctx
	discord.AddHandler(bot.Receive)

	// Open session
	if err := discord.Open(); err != nil {
		return fmt.Errorf("could not open discord session: %w", err)
	}
	defer discord.Close()

	log.Info().Msg("Starting main loop")
	bot.loop(ctx, discord)
	log.Info().Msg("Main loop finished")
	return nil
}

// Check the signup deadlines from time to time
func (bot *Bot) loop(ctx context.Context, discord Session) {
	deadlineExecutor := common.NewTimedExecutor(bot.deadlineCheck, func() {
		bot.closeExpired(ctx, discord)
	})
	ticker := time.NewTicker(bot.mainCycle)
	defer ticker.Stop()
	for {
		deadlineExecutor.Execute()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (bot *Bot) closeExpired(ctx context.Context, discord Session) {
	events, err := bot.service.CloseExpired(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Could not close expired events")
		return
	}
	for _, event := range events {
		log.Info().Msg(fmt.Sprintf("Announcing end of signups in guild %s", event.GuildId))
		bot.sendResponses(discord, event.ChannelId, DeadlineReached(event))
	}
}

func (bot *Bot) Receive(discord *discordgo.Session, message *discordgo.MessageCreate) {
	selfId := ""
	if discord.State != nil && discord.State.User != nil {
		selfId = discord.State.User.ID
	}
	ctx, cancel := bot.handlerContext()
	defer cancel()
	bot.handle(ctx, discord, selfId, message.Message)
}

func (bot *Bot) handlerContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(bot.ctx, handlerTimeout)
}

func (bot *Bot) handle(ctx context.Context, discord Session, selfId string, message *discordgo.Message) {

	// Reject my own messages and those of other bots
	if message.Author == nil || message.Author.ID == selfId || message.Author.Bot {
		return
	}

	// Parse the input provided and call the appropriate function
	parseResult := Parse(bot.prefix, message.Content)
	switch parseResult.parseid {
	case PARSEID_NO_BOT_PREFIX:
		return
	case PARSEID_OK:
		log.Debug().Msg(fmt.Sprintf("Command understood: %s", message.Content))
	default:
		// The command is invalid input, so it contains an error message
		log.Debug().Msg(fmt.Sprintf("Wrong input: '%s'. Reason: %s", message.Content, parseResult.errorMessage))
		bot.sendResponses(discord, message.ChannelID, InputNotValid(parseResult.errorMessage))
		return
	}

	command := parseResult.command
	private := message.GuildID == ""
	if command != COMMAND_HELP {
		if IsPrivateCommand(command) && !private {
			bot.sendResponses(discord, message.ChannelID, PrivateOnly())
			return
		}
		if !IsPrivateCommand(command) && private {
			bot.sendResponses(discord, message.ChannelID, GuildOnly())
			return
		}
	}
	if IsAdminCommand(command) && !bot.isAdmin(discord, message) {
		bot.sendResponses(discord, message.ChannelID, AdminOnly())
		return
	}

	var responses []Response
	switch command {
	case COMMAND_JOIN:
		arguments, _ := parseResult.arguments.(JoinArguments)
		responses = bot.join(ctx, message, arguments)
	case COMMAND_LEAVE:
		responses = bot.leave(ctx, message)
	case COMMAND_STATUS:
		responses = bot.status(ctx, message)
	case COMMAND_HELP:
		responses = HelpMessage(bot.prefix)
	case COMMAND_OPEN:
		arguments, _ := parseResult.arguments.(OpenArguments)
		responses = bot.open(ctx, message, arguments)
	case COMMAND_CLOSE:
		responses = bot.close(ctx, message)
	case COMMAND_MATCH:
		arguments, _ := parseResult.arguments.(MatchArguments)
		responses = bot.match(ctx, message, arguments)
	case COMMAND_RESEND:
		responses = bot.resend(ctx, message)
	case COMMAND_RESET:
		responses = bot.reset(ctx, message)
	case COMMAND_MESSAGE:
		arguments, _ := parseResult.arguments.(MessageArguments)
		responses = bot.relay(ctx, message, arguments)
	case COMMAND_SENT:
		responses = bot.sent(ctx, message)
	default:
		log.Error().Msg(fmt.Sprintf("Command %d is not one of the possible ones", command))
		return
	}
	bot.sendResponses(discord, message.ChannelID, responses)
}

func (bot *Bot) sendResponses(discord Session, channelId string, responses []Response) {
	for _, response := range responses {
		if err := response.Send(channelId, discord); err != nil {
			return
		}
	}
}

// Administrators and whoever can manage the server
func (bot *Bot) isAdmin(discord Session, message *discordgo.Message) bool {
	permissions, err := discord.UserChannelPermissions(message.Author.ID, message.ChannelID)
	if err != nil {
		log.Error().Err(err).Msg(fmt.Sprintf("Could not get permissions of user %s", message.Author.ID))
		return false
	}
	return permissions&(discordgo.PermissionAdministrator|discordgo.PermissionManageServer) != 0
}

func (bot *Bot) join(ctx context.Context, message *discordgo.Message, arguments JoinArguments) []Response {
	participant := santa.Participant{
		GuildId:  message.GuildID,
		UserId:   message.Author.ID,
		Name:     displayName(message),
		Country:  arguments.Country,
		Wishlist: arguments.Wishlist,
	}
	updated, err := bot.service.Join(ctx, participant)
	if err != nil {
		return ErrorMessage(err)
	}
	return Joined(arguments.Country, updated)
}

func (bot *Bot) leave(ctx context.Context, message *discordgo.Message) []Response {
	if err := bot.service.Leave(ctx, message.GuildID, message.Author.ID); err != nil {
		return ErrorMessage(err)
	}
	return Left()
}

func (bot *Bot) status(ctx context.Context, message *discordgo.Message) []Response {
	status, err := bot.service.Status(ctx, message.GuildID)
	if err != nil {
		return ErrorMessage(err)
	}
	return StatusMessage(status)
}

func (bot *Bot) open(ctx context.Context, message *discordgo.Message, arguments OpenArguments) []Response {
	duration := time.Duration(arguments.Hours) * time.Hour
	event, err := bot.service.Open(ctx, message.GuildID, message.ChannelID, duration)
	if err != nil {
		return ErrorMessage(err)
	}
	return EventOpened(bot.prefix, event)
}

func (bot *Bot) close(ctx context.Context, message *discordgo.Message) []Response {
	if _, err := bot.service.Close(ctx, message.GuildID); err != nil {
		return ErrorMessage(err)
	}
	return EventClosed()
}

func (bot *Bot) match(ctx context.Context, message *discordgo.Message, arguments MatchArguments) []Response {
	report, err := bot.service.Match(ctx, message.GuildID, arguments.Redo)
	if err != nil {
		return MatchFailed(err, report)
	}
	return MatchReportMessage("Everybody has been matched!", report)
}

func (bot *Bot) resend(ctx context.Context, message *discordgo.Message) []Response {
	report, err := bot.service.Resend(ctx, message.GuildID)
	if err != nil {
		return ErrorMessage(err)
	}
	return MatchReportMessage("Assignments sent again", report)
}

func (bot *Bot) reset(ctx context.Context, message *discordgo.Message) []Response {
	if err := bot.service.Reset(ctx, message.GuildID); err != nil {
		return ErrorMessage(err)
	}
	return EventReset()
}

func (bot *Bot) relay(ctx context.Context, message *discordgo.Message, arguments MessageArguments) []Response {
	result, err := bot.service.Relay(ctx, message.Author.ID, arguments.Direction, arguments.Text)
	if err != nil {
		return ErrorMessage(err)
	}
	return RelayResult(arguments.Direction, result)
}

func (bot *Bot) sent(ctx context.Context, message *discordgo.Message) []Response {
	result, err := bot.service.MarkSent(ctx, message.Author.ID)
	if err != nil {
		return ErrorMessage(err)
	}
	return GiftMarkedSent(result)
}

// Server nickname, else global name, else username
func displayName(message *discordgo.Message) string {
	if message.Member != nil && message.Member.Nick != "" {
		return message.Member.Nick
	}
	if message.Author.GlobalName != "" {
		return message.Author.GlobalName
	}
	return message.Author.Username
}
