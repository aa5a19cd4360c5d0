package bot

import (
	"fmt"
	"strconv"
	"strings"

	"secretsanta/internal/santa"

	"github.com/rs/zerolog/log"
)

const DefaultPrefix string = "santa"

// Longest signup window accepted by the open command
const maxOpenHours = 24 * 60

const (
	COMMAND_JOIN = iota
	COMMAND_LEAVE
	COMMAND_STATUS
	COMMAND_HELP
	COMMAND_OPEN
	COMMAND_CLOSE
	COMMAND_MATCH
	COMMAND_RESEND
	COMMAND_RESET
	COMMAND_MESSAGE
	COMMAND_SENT
)

const (
	PARSEID_OK = iota
	PARSEID_NO_BOT_PREFIX
	PARSEID_NO_COMMAND
	PARSEID_COMMAND_NOT_RECOGNISED
	PARSEID_NO_INPUT
	PARSEID_NOT_A_NUMBER_OF_HOURS
	PARSEID_NOT_A_ROLE
	PARSEID_UNEXPECTED_ARGUMENT
)

var errorMessages map[int]string = map[int]string{
	PARSEID_NO_COMMAND:             "No command provided",
	PARSEID_COMMAND_NOT_RECOGNISED: "Command `%s` not recognised",
	PARSEID_NO_INPUT:               "Command `%s` requires an argument",
	PARSEID_NOT_A_NUMBER_OF_HOURS:  "`%s` is not a number of hours between 1 and 1440",
	PARSEID_NOT_A_ROLE:             "`%s` is not one of `recipient` or `santa`",
	PARSEID_UNEXPECTED_ARGUMENT:    "Command `%s` does not take `%s`",
}

// Commands that need the Manage Server permission
var adminCommands map[int]bool = map[int]bool{
	COMMAND_OPEN:   true,
	COMMAND_CLOSE:  true,
	COMMAND_MATCH:  true,
	COMMAND_RESEND: true,
	COMMAND_RESET:  true,
}

// Commands that only make sense in a private conversation with the bot
var privateCommands map[int]bool = map[int]bool{
	COMMAND_MESSAGE: true,
	COMMAND_SENT:    true,
}

type JoinArguments struct {
	Country  string
	Wishlist string
}

type OpenArguments struct {
	Hours int // 0 when there is no deadline
}

type MatchArguments struct {
	Redo bool
}

type MessageArguments struct {
	Direction santa.Direction
	Text      string
}

type ParseResult struct {
	command      int
	parseid      int
	errorMessage string
	arguments    interface{}
}

func Parse(prefix string, message string) ParseResult {

	noInput := func(command int, commandString string) ParseResult {
		parseid := PARSEID_NO_INPUT
		return ParseResult{command: command, parseid: parseid, errorMessage: fmt.Sprintf(errorMessages[parseid], commandString)}
	}
	unexpected := func(command int, commandString string, argument string) ParseResult {
		parseid := PARSEID_UNEXPECTED_ARGUMENT
		return ParseResult{command: command, parseid: parseid, errorMessage: fmt.Sprintf(errorMessages[parseid], commandString, argument)}
	}

	// The message has to start with the bot prefix, followed by a space or nothing
	message = strings.TrimSpace(message)
	if len(message) < len(prefix) || !strings.EqualFold(message[:len(prefix)], prefix) {
		log.Debug().Msg("Reject message not intended for the bot")
		return ParseResult{parseid: PARSEID_NO_BOT_PREFIX}
	}
	rest := message[len(prefix):]
	if rest != "" && !isSpace(rest[0]) {
		return ParseResult{parseid: PARSEID_NO_BOT_PREFIX}
	}

	// Get the command if valid
	commandString, rest := nextWord(rest)
	if commandString == "" {
		parseid := PARSEID_NO_COMMAND
		return ParseResult{parseid: parseid, errorMessage: errorMessages[parseid]}
	}
	commandString = strings.ToLower(commandString)

	// Match the command
	switch commandString {
	case "join":
		// santa join <country> [wishlist]
		command := COMMAND_JOIN
		country, wishlist := nextWord(rest)
		if country == "" {
			return noInput(command, commandString)
		}
		return ParseResult{command: command, parseid: PARSEID_OK, arguments: JoinArguments{Country: country, Wishlist: wishlist}}
	case "leave":
		// santa leave
		return noArguments(COMMAND_LEAVE, commandString, rest, unexpected)
	case "status":
		// santa status
		return noArguments(COMMAND_STATUS, commandString, rest, unexpected)
	case "help":
		// santa help
		return ParseResult{command: COMMAND_HELP, parseid: PARSEID_OK}
	case "open":
		// santa open [hours]
		command := COMMAND_OPEN
		if rest == "" {
			return ParseResult{command: command, parseid: PARSEID_OK, arguments: OpenArguments{}}
		}
		return parseHours(command, rest)
	case "close":
		// santa close
		return noArguments(COMMAND_CLOSE, commandString, rest, unexpected)
	case "match":
		// santa match [redo]
		command := COMMAND_MATCH
		switch strings.ToLower(rest) {
		case "":
			return ParseResult{command: command, parseid: PARSEID_OK, arguments: MatchArguments{}}
		case "redo":
			return ParseResult{command: command, parseid: PARSEID_OK, arguments: MatchArguments{Redo: true}}
		default:
			return unexpected(command, commandString, rest)
		}
	case "resend":
		// santa resend
		return noArguments(COMMAND_RESEND, commandString, rest, unexpected)
	case "reset":
		// santa reset
		return noArguments(COMMAND_RESET, commandString, rest, unexpected)
	case "message":
		// santa message <recipient|santa> <text>
		command := COMMAND_MESSAGE
		role, text := nextWord(rest)
		if role == "" || text == "" {
			return noInput(command, commandString)
		}
		return parseRole(command, role, text)
	case "sent":
		// santa sent
		return noArguments(COMMAND_SENT, commandString, rest, unexpected)
	default:
		parseid := PARSEID_COMMAND_NOT_RECOGNISED
		return ParseResult{parseid: parseid, errorMessage: fmt.Sprintf(errorMessages[parseid], commandString)}
	}
}

func IsAdminCommand(command int) bool {
	return adminCommands[command]
}

func IsPrivateCommand(command int) bool {
	return privateCommands[command]
}

func noArguments(command int, commandString string, rest string, unexpected func(int, string, string) ParseResult) ParseResult {
	if rest != "" {
		return unexpected(command, commandString, rest)
	}
	return ParseResult{command: command, parseid: PARSEID_OK}
}

func parseHours(command int, word string) ParseResult {
	hours, err := strconv.Atoi(word)
	if err != nil || hours < 1 || hours > maxOpenHours {
		parseid := PARSEID_NOT_A_NUMBER_OF_HOURS
		return ParseResult{command: command, parseid: parseid, errorMessage: fmt.Sprintf(errorMessages[parseid], word)}
	}
	return ParseResult{command: command, parseid: PARSEID_OK, arguments: OpenArguments{Hours: hours}}
}

func parseRole(command int, role string, text string) ParseResult {
	switch strings.ToLower(role) {
	case "recipient", "giftee":
		return ParseResult{command: command, parseid: PARSEID_OK, arguments: MessageArguments{Direction: santa.ToRecipient, Text: text}}
	case "santa":
		return ParseResult{command: command, parseid: PARSEID_OK, arguments: MessageArguments{Direction: santa.ToSanta, Text: text}}
	default:
		parseid := PARSEID_NOT_A_ROLE
		return ParseResult{command: command, parseid: parseid, errorMessage: fmt.Sprintf(errorMessages[parseid], role)}
	}
}

// Split off the first word. The rest keeps its inner spacing and line breaks
func nextWord(s string) (string, string) {
	s = strings.TrimSpace(s)
	for i := 0; i < len(s); i++ {
		if isSpace(s[i]) {
			return s[:i], strings.TrimSpace(s[i:])
		}
	}
	return s, ""
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
