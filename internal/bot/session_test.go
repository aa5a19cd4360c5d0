package bot

import (
	"errors"
	"sync"

	"github.com/bwmarrin/discordgo"
)

type sentMessage struct {
	channelId string
	content   string
	embed     *discordgo.MessageEmbed
}

// In memory stand-in for a discord session
type fakeSession struct {
	mu          sync.Mutex
	sent        []sentMessage
	permissions map[string]int64
	closedDMs   map[string]bool  // Users whose private channel cannot be opened
	sendErrors  map[string]error // Keyed by channel id
	members     map[string]*discordgo.Member
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		permissions: map[string]int64{},
		closedDMs:   map[string]bool{},
		sendErrors:  map[string]error{},
		members:     map[string]*discordgo.Member{},
	}
}

func privateChannel(userId string) string {
	return "dm-" + userId
}

func (s *fakeSession) ChannelMessageSend(channelID string, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.sendErrors[channelID]; err != nil {
		return nil, err
	}
	s.sent = append(s.sent, sentMessage{channelId: channelID, content: content})
	return &discordgo.Message{ChannelID: channelID, Content: content}, nil
}

func (s *fakeSession) ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.sendErrors[channelID]; err != nil {
		return nil, err
	}
	copied := *embed
	s.sent = append(s.sent, sentMessage{channelId: channelID, embed: &copied})
	return &discordgo.Message{ChannelID: channelID, Embeds: []*discordgo.MessageEmbed{&copied}}, nil
}

func (s *fakeSession) UserChannelCreate(recipientID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closedDMs[recipientID] {
		return nil, errors.New("cannot open private channel")
	}
	return &discordgo.Channel{ID: privateChannel(recipientID), Type: discordgo.ChannelTypeDM}, nil
}

func (s *fakeSession) UserChannelPermissions(userID string, _ string, _ ...discordgo.RequestOption) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.permissions[userID], nil
}

func (s *fakeSession) GuildMember(_ string, userID string, _ ...discordgo.RequestOption) (*discordgo.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	member, ok := s.members[userID]
	if !ok {
		return nil, errors.New("unknown member")
	}
	return member, nil
}

func (s *fakeSession) in(channelId string) []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	messages := make([]sentMessage, 0)
	for _, m := range s.sent {
		if m.channelId == channelId {
			messages = append(messages, m)
		}
	}
	return messages
}

func (s *fakeSession) last(channelId string) sentMessage {
	messages := s.in(channelId)
	if len(messages) == 0 {
		return sentMessage{}
	}
	return messages[len(messages)-1]
}
