package platform

import (
	"context"

	"github.com/bwmarrin/discordgo"
)

// Client abstracts the chat-platform calls the ticket services need.
// Every call is remote I/O and may fail transiently; callers decide
// which failures are fatal and which degrade the operation.
type Client interface {
	Guild(ctx context.Context, guildID string) (*discordgo.Guild, error)
	Channel(ctx context.Context, channelID string) (*discordgo.Channel, error)
	GuildChannels(ctx context.Context, guildID string) ([]*discordgo.Channel, error)

	CreateThread(ctx context.Context, channelID, name string) (*discordgo.Channel, error)
	CreateGuildChannel(ctx context.Context, guildID string, data discordgo.GuildChannelCreateData) (*discordgo.Channel, error)
	DeleteChannel(ctx context.Context, channelID string) error
	ArchiveThread(ctx context.Context, channelID string) error

	ThreadMemberExists(ctx context.Context, threadID, userID string) (bool, error)
	AddThreadMember(ctx context.Context, threadID, userID string) error

	SendMessage(ctx context.Context, channelID string, msg *discordgo.MessageSend) (*discordgo.Message, error)
	PinMessage(ctx context.Context, channelID, messageID string) error
	// Messages returns up to limit messages older than beforeID, newest
	// first, matching the platform's reverse-chronological pagination.
	Messages(ctx context.Context, channelID string, limit int, beforeID string) ([]*discordgo.Message, error)

	Member(ctx context.Context, guildID, userID string) (*discordgo.Member, error)
	User(ctx context.Context, userID string) (*discordgo.User, error)
	UserChannelPermissions(ctx context.Context, userID, channelID string) (int64, error)
	CreateDM(ctx context.Context, userID string) (*discordgo.Channel, error)

	// BotUserID identifies the bot's own user, for permission overwrites.
	BotUserID() string
}
