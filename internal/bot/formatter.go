package bot

import (
	"cmp"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"secretsanta/internal/santa"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"
)

// Use "teal" color for the bot
const color int = 0x008080

// Red for private messages so that they stand out
const privateColor int = 0xb22222

const noWishlist = "No wishlist yet"

// Discord rejects embeds with longer field values
const maxFieldValue = 1024

// Cut a field value to what discord accepts
func fieldValue(value string) string {
	if utf8.RuneCountInString(value) <= maxFieldValue {
		return value
	}
	runes := []rune(value)
	return string(runes[:maxFieldValue-1]) + "…"
}

// One entry per line, as many as fit in a field value
func fieldLines(lines []string) string {
	value := ""
	for i, line := range lines {
		next := line
		if i > 0 {
			next = value + "\n" + line
		}
		more := ""
		if remaining := len(lines) - i - 1; remaining > 0 {
			more = fmt.Sprintf("\n…and %d more", remaining)
		}
		if utf8.RuneCountInString(next+more) > maxFieldValue {
			if i == 0 {
				return fieldValue(line)
			}
			return value + fmt.Sprintf("\n…and %d more", len(lines)-i)
		}
		value = next
	}
	return value
}

func InputNotValid(errorMessage string) []Response {

	return []Response{ResponseString{fmt.Sprintf("Input not valid: \n> %s", errorMessage)}}
}

func HelpMessage(prefix string) []Response {

	embed := discordgo.MessageEmbed{Title: "Commands available", Color: color}
	add := func(usage string, description string) {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   fmt.Sprintf("`%s %s`", prefix, usage),
			Value:  description,
			Inline: false,
		})
	}
	add("join <country> [wishlist]", "Sign up for the Secret Santa of this server, or update your country and wishlist")
	add("leave", "Withdraw your signup while signups are open")
	add("status", "Print the state of the event and how many people have joined")
	add("open [hours]", "*Admin.* Open signups, optionally closing them automatically after the given hours")
	add("close", "*Admin.* Close signups")
	add("match [redo]", "*Admin.* Match everybody and send each Secret Santa their recipient in private. Use `redo` to match again")
	add("resend", "*Admin.* Send the assignments again to everybody")
	add("reset", "*Admin.* Delete the event of this server")
	add("message recipient <text>", "*Private message only.* Write anonymously to the person you are gifting")
	add("message santa <text>", "*Private message only.* Write to your anonymous Secret Santa")
	add("sent", "*Private message only.* Tell your recipient that their gift is on its way")
	add("help", "Print the usage of the different commands")
	return []Response{ResponseEmbed{embed}}
}

func AdminOnly() []Response {
	return []Response{ResponseString{"You need the Manage Server permission to use this command"}}
}

func GuildOnly() []Response {
	return []Response{ResponseString{"This command can only be used in a server"}}
}

func PrivateOnly() []Response {
	return []Response{ResponseString{"Send me this command in a private message to keep it secret"}}
}

func EventOpened(prefix string, event santa.Event) []Response {

	embed := discordgo.MessageEmbed{
		Title:       "Secret Santa signups are open!",
		Description: fmt.Sprintf("Join with `%s join <country> [wishlist]`", prefix),
		Color:       color,
	}
	if event.HasDeadline() {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  "Signups close",
			Value: formatTime(event.ClosesAt),
		})
	}
	return []Response{ResponseEmbed{embed}}
}

func EventClosed() []Response {
	return []Response{ResponseString{"Signups are now closed. An admin can run the match whenever they are ready"}}
}

func DeadlineReached(event santa.Event) []Response {
	return []Response{ResponseString{fmt.Sprintf("The signup deadline (%s) has been reached, signups are now closed", formatTime(event.ClosesAt))}}
}

func EventReset() []Response {
	return []Response{ResponseString{"The Secret Santa of this server has been deleted"}}
}

func Joined(country string, updated bool) []Response {
	if updated {
		return []Response{ResponseString{fmt.Sprintf("Your signup has been updated (country `%s`)", strings.ToUpper(country))}}
	}
	return []Response{ResponseString{fmt.Sprintf("You are in! Country `%s`", strings.ToUpper(country))}}
}

func Left() []Response {
	return []Response{ResponseString{"You have left the Secret Santa"}}
}

func StatusMessage(status santa.Status) []Response {

	embed := discordgo.MessageEmbed{Title: "Secret Santa of this server", Color: color}
	embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
		Name:   "State",
		Value:  status.Event.State.String(),
		Inline: true,
	})
	embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
		Name:   "Participants",
		Value:  fmt.Sprintf("%d", status.Participants),
		Inline: true,
	})
	if status.Event.State == santa.StateOpen && status.Event.HasDeadline() {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   "Signups close",
			Value:  formatTime(status.Event.ClosesAt),
			Inline: true,
		})
	}

	// Countries, the most represented first
	var field discordgo.MessageEmbedField
	if len(status.Countries) == 0 {
		field = discordgo.MessageEmbedField{Name: "Countries", Value: "None"}
	} else {
		countries := slices.SortedFunc(maps.Keys(status.Countries), func(a, b string) int {
			if c := cmp.Compare(status.Countries[b], status.Countries[a]); c != 0 {
				return c
			}
			return cmp.Compare(a, b)
		})
		lines := make([]string, len(countries))
		for i, country := range countries {
			lines[i] = fmt.Sprintf("%s: %d", country, status.Countries[country])
		}
		field = discordgo.MessageEmbedField{Name: "Countries", Value: fieldLines(lines)}
	}
	embed.Fields = append(embed.Fields, &field)

	if status.Event.State == santa.StateMatched {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  "Gifts sent",
			Value: fmt.Sprintf("%d of %d", status.GiftsSent, status.Participants),
		})
		embed.Footer = &discordgo.MessageEmbedFooter{Text: fmt.Sprintf("Run %s", status.Event.RunId)}
	}
	return []Response{ResponseEmbed{embed}}
}

// Summary of a match or a resend for the admin who triggered it
func MatchReportMessage(title string, report santa.MatchReport) []Response {

	embed := discordgo.MessageEmbed{Title: title, Color: color}
	embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
		Name:   "Participants",
		Value:  fmt.Sprintf("%d", report.Participants),
		Inline: true,
	})
	embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
		Name:   "Delivered",
		Value:  fmt.Sprintf("%d", report.Delivered),
		Inline: true,
	})
	embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
		Name:   "Failed",
		Value:  fmt.Sprintf("%d", len(report.Failures)),
		Inline: true,
	})
	if report.SameCountry > 0 {
		embed.Description = fmt.Sprintf("%d of %d Secret Santas share a country with their recipient", report.SameCountry, report.Participants)
	}

	if len(report.Failures) > 0 {
		lines := make([]string, len(report.Failures))
		for i, failure := range report.Failures {
			reason := "could not send the message"
			if failure.Result == santa.Unreachable {
				reason = "does not accept private messages"
			}
			lines[i] = fmt.Sprintf("<@%s>: %s", failure.Participant.UserId, reason)
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  "Could not reach",
			Value: fieldLines(lines),
		})
		embed.Footer = &discordgo.MessageEmbedFooter{Text: "Ask them to open their private messages and use resend"}
	}
	return []Response{ResponseEmbed{embed}}
}

func MatchFailed(err error, report santa.MatchReport) []Response {
	if errors.Is(err, santa.ErrInsufficientParticipants) {
		return []Response{ResponseString{fmt.Sprintf("At least 2 participants are needed to run the match, there are %d", report.Participants)}}
	}
	return ErrorMessage(err)
}

func RelayResult(direction santa.Direction, result santa.DeliveryResult) []Response {
	target := "your recipient"
	if direction == santa.ToSanta {
		target = "your Secret Santa"
	}
	switch result {
	case santa.Delivered:
		return []Response{ResponseString{fmt.Sprintf("Message sent to %s", target)}}
	case santa.Unreachable:
		return []Response{ResponseString{fmt.Sprintf("Could not reach %s, they do not accept private messages", target)}}
	default:
		return []Response{ResponseString{fmt.Sprintf("Could not send the message to %s, try again later", target)}}
	}
}

func GiftMarkedSent(result santa.DeliveryResult) []Response {
	if result == santa.Delivered {
		return []Response{ResponseString{"Your gift is marked as sent and your recipient has been told"}}
	}
	return []Response{ResponseString{"Your gift is marked as sent, but your recipient could not be told"}}
}

// Human readable text for the errors of the event service
func ErrorMessage(err error) []Response {
	var content string
	switch {
	case errors.Is(err, santa.ErrNoEvent):
		content = "There is no Secret Santa in this server yet"
	case errors.Is(err, santa.ErrEventExists):
		content = "There is already a Secret Santa in this server. Reset it first to start a new one"
	case errors.Is(err, santa.ErrNotOpen):
		content = "Signups are not open"
	case errors.Is(err, santa.ErrStillOpen):
		content = "Signups are still open. Close them before matching"
	case errors.Is(err, santa.ErrAlreadyMatched):
		content = "Everybody has been matched already. Use `match redo` to match again"
	case errors.Is(err, santa.ErrNotMatched):
		content = "There is no match for you yet"
	case errors.Is(err, santa.ErrNotJoined):
		content = "You had not joined"
	case errors.Is(err, santa.ErrNotEligible):
		content = "You are not eligible to join yet"
	case errors.Is(err, santa.ErrCountry):
		content = "A country is required"
	case errors.Is(err, santa.ErrCountryLength):
		content = fmt.Sprintf("The country can be at most %d characters long", santa.MaxCountryLength)
	case errors.Is(err, santa.ErrWishlistLength):
		content = fmt.Sprintf("The wishlist can be at most %d characters long", santa.MaxWishlistLength)
	case errors.Is(err, santa.ErrEmptyMessage):
		content = "The message is empty"
	case errors.Is(err, santa.ErrInsufficientParticipants):
		content = "At least 2 participants are needed to run the match"
	case errors.Is(err, santa.ErrMatchingExhausted):
		content = "Could not find a valid match this time, try again"
	default:
		log.Error().Err(err).Msg("Unexpected error")
		content = "Something went wrong, try again later"
	}
	return []Response{ResponseString{content}}
}

// Embed sent privately to a participant
func PrivateMessage(prefix string, message santa.Message) discordgo.MessageEmbed {

	switch message.Kind {
	case santa.KindAssignment:
		profile := message.Profile
		wishlist := profile.Wishlist
		if wishlist == "" {
			wishlist = noWishlist
		}
		return discordgo.MessageEmbed{
			Title:       "Your Secret Santa assignment",
			Description: fmt.Sprintf("You are the Secret Santa of **%s** (<@%s>)", profile.Name, profile.UserId),
			Color:       privateColor,
			Fields: []*discordgo.MessageEmbedField{
				{Name: "Country", Value: fieldValue(profile.Country), Inline: true},
				{Name: "Wishlist", Value: fieldValue(wishlist), Inline: false},
			},
			Footer: &discordgo.MessageEmbedFooter{
				Text: fmt.Sprintf("Write to them anonymously with \"%s message recipient <text>\"", prefix),
			},
		}
	case santa.KindFromSanta:
		return discordgo.MessageEmbed{
			Title:       "Message from your Secret Santa",
			Description: message.Text,
			Color:       privateColor,
			Footer:      &discordgo.MessageEmbedFooter{Text: fmt.Sprintf("Answer with \"%s message santa <text>\"", prefix)},
		}
	case santa.KindFromGiftee:
		return discordgo.MessageEmbed{
			Title:       "Message from your recipient",
			Description: message.Text,
			Color:       privateColor,
			Footer:      &discordgo.MessageEmbedFooter{Text: fmt.Sprintf("Answer with \"%s message recipient <text>\"", prefix)},
		}
	case santa.KindGiftSent:
		return discordgo.MessageEmbed{
			Title:       "Your gift is on its way!",
			Description: "Your Secret Santa has marked your gift as sent",
			Color:       privateColor,
		}
	default:
		return discordgo.MessageEmbed{Description: message.Text, Color: privateColor}
	}
}

func formatTime(t time.Time) string {
	// Discord renders the timestamp in the reader's timezone
	return fmt.Sprintf("<t:%d:f>", t.Unix())
}
