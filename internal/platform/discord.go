package platform

import (
	"context"
	"errors"
	"net/http"

	"github.com/bwmarrin/discordgo"
)

// Discord adapts a discordgo session to the Client interface.
type Discord struct {
	session *discordgo.Session
}

// NewDiscord wraps an opened session.
func NewDiscord(session *discordgo.Session) *Discord {
	return &Discord{session: session}
}

var _ Client = (*Discord)(nil)

func (d *Discord) Guild(ctx context.Context, guildID string) (*discordgo.Guild, error) {
	if guild, err := d.session.State.Guild(guildID); err == nil {
		return guild, nil
	}
	return d.session.Guild(guildID, discordgo.WithContext(ctx))
}

func (d *Discord) Channel(ctx context.Context, channelID string) (*discordgo.Channel, error) {
	return d.session.Channel(channelID, discordgo.WithContext(ctx))
}

func (d *Discord) GuildChannels(ctx context.Context, guildID string) ([]*discordgo.Channel, error) {
	return d.session.GuildChannels(guildID, discordgo.WithContext(ctx))
}

func (d *Discord) CreateThread(ctx context.Context, channelID, name string) (*discordgo.Channel, error) {
	return d.session.ThreadStartComplex(channelID, &discordgo.ThreadStart{
		Name:                name,
		Type:                discordgo.ChannelTypeGuildPublicThread,
		AutoArchiveDuration: 10080,
	}, discordgo.WithContext(ctx))
}

func (d *Discord) CreateGuildChannel(ctx context.Context, guildID string, data discordgo.GuildChannelCreateData) (*discordgo.Channel, error) {
	return d.session.GuildChannelCreateComplex(guildID, data, discordgo.WithContext(ctx))
}

func (d *Discord) DeleteChannel(ctx context.Context, channelID string) error {
	_, err := d.session.ChannelDelete(channelID, discordgo.WithContext(ctx))
	return err
}

func (d *Discord) ArchiveThread(ctx context.Context, channelID string) error {
	archived := true
	locked := true
	_, err := d.session.ChannelEditComplex(channelID, &discordgo.ChannelEdit{
		Archived: &archived,
		Locked:   &locked,
	}, discordgo.WithContext(ctx))
	return err
}

func (d *Discord) ThreadMemberExists(ctx context.Context, threadID, userID string) (bool, error) {
	_, err := d.session.ThreadMember(threadID, userID, false, discordgo.WithContext(ctx))
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, err
}

func (d *Discord) AddThreadMember(ctx context.Context, threadID, userID string) error {
	return d.session.ThreadMemberAdd(threadID, userID, discordgo.WithContext(ctx))
}

func (d *Discord) SendMessage(ctx context.Context, channelID string, msg *discordgo.MessageSend) (*discordgo.Message, error) {
	return d.session.ChannelMessageSendComplex(channelID, msg, discordgo.WithContext(ctx))
}

func (d *Discord) PinMessage(ctx context.Context, channelID, messageID string) error {
	return d.session.ChannelMessagePin(channelID, messageID, discordgo.WithContext(ctx))
}

func (d *Discord) Messages(ctx context.Context, channelID string, limit int, beforeID string) ([]*discordgo.Message, error) {
	return d.session.ChannelMessages(channelID, limit, beforeID, "", "", discordgo.WithContext(ctx))
}

func (d *Discord) Member(ctx context.Context, guildID, userID string) (*discordgo.Member, error) {
	if member, err := d.session.State.Member(guildID, userID); err == nil {
		return member, nil
	}
	return d.session.GuildMember(guildID, userID, discordgo.WithContext(ctx))
}

func (d *Discord) User(ctx context.Context, userID string) (*discordgo.User, error) {
	return d.session.User(userID, discordgo.WithContext(ctx))
}

func (d *Discord) UserChannelPermissions(ctx context.Context, userID, channelID string) (int64, error) {
	return d.session.UserChannelPermissions(userID, channelID)
}

func (d *Discord) CreateDM(ctx context.Context, userID string) (*discordgo.Channel, error) {
	return d.session.UserChannelCreate(userID, discordgo.WithContext(ctx))
}

func (d *Discord) BotUserID() string {
	if d.session.State != nil && d.session.State.User != nil {
		return d.session.State.User.ID
	}
	return ""
}

func isNotFound(err error) bool {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		return restErr.Response.StatusCode == http.StatusNotFound
	}
	return false
}
