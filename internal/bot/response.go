package bot

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"
)

// The part of the discord session the bot uses
type Session interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	UserChannelPermissions(userID string, channelID string, fetchOptions ...discordgo.RequestOption) (int64, error)
	GuildMember(guildID string, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error)
}

var _ Session = (*discordgo.Session)(nil)

type ResponseString struct {
	string
}
type ResponseEmbed struct {
	discordgo.MessageEmbed
}

type Response interface {
	Send(channelid string, discord Session) error
}

func (response ResponseString) Send(channelid string, discord Session) error {
	if _, err := discord.ChannelMessageSend(channelid, response.string); err != nil {
		log.Error().Err(err).Msg(fmt.Sprintf("Could not send message to channel %s", channelid))
		return err
	}
	return nil
}

func (response ResponseEmbed) Send(channelid string, discord Session) error {
	if _, err := discord.ChannelMessageSendEmbed(channelid, &response.MessageEmbed); err != nil {
		log.Error().Err(err).Msg(fmt.Sprintf("Could not send embed to channel %s", channelid))
		return err
	}
	return nil
}
