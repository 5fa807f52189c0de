package messaging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-relay/internal/config"
	"github.com/spec-kit/ticket-relay/internal/domain"
)

const (
	maxMessageLength  = 2000
	historyPageSize   = 100
	threadArchiveMins = 10080
)

// Discord implements Platform on top of a discordgo session.
type Discord struct {
	session   *discordgo.Session
	guildID   string
	channelID string
	logger    *zap.Logger
}

// NewDiscord builds a session for the configured bot token. Call Open to connect.
func NewDiscord(cfg config.DiscordConfig, logger *zap.Logger) (*Discord, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("DISCORD_TOKEN required")
	}
	if cfg.GuildID == "" || cfg.TicketChannelID == "" {
		return nil, errors.New("DISCORD_GUILD_ID and DISCORD_TICKET_CHANNEL_ID required")
	}
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent |
		discordgo.IntentsGuildMembers
	return &Discord{
		session:   session,
		guildID:   cfg.GuildID,
		channelID: cfg.TicketChannelID,
		logger:    logger.Named("discord"),
	}, nil
}

// Session exposes the underlying session for event handler registration.
func (d *Discord) Session() *discordgo.Session {
	return d.session
}

// GuildID returns the guild tickets live in.
func (d *Discord) GuildID() string {
	return d.guildID
}

// Open connects to the gateway.
func (d *Discord) Open() error {
	return d.session.Open()
}

// Close disconnects from the gateway.
func (d *Discord) Close() error {
	return d.session.Close()
}

func (d *Discord) CreateThread(ctx context.Context, spec ThreadSpec) (ThreadRef, error) {
	thread, err := d.session.ThreadStartComplex(d.channelID, &discordgo.ThreadStart{
		Name:                truncate(spec.Name, 100),
		AutoArchiveDuration: threadArchiveMins,
		Type:                discordgo.ChannelTypeGuildPrivateThread,
		Invitable:           false,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return ThreadRef{}, fmt.Errorf("start thread: %w", err)
	}

	control, err := d.session.ChannelMessageSendComplex(thread.ID, &discordgo.MessageSend{
		Content:         truncate(spec.ControlMessage, maxMessageLength),
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}, discordgo.WithContext(ctx))
	if err != nil {
		if _, delErr := d.session.ChannelDelete(thread.ID, discordgo.WithContext(ctx)); delErr != nil {
			d.logger.Warn("orphan thread left behind", zap.String("thread_id", thread.ID), zap.Error(delErr))
		}
		return ThreadRef{}, fmt.Errorf("send control message: %w", err)
	}
	if err := d.session.ChannelMessagePin(thread.ID, control.ID, discordgo.WithContext(ctx)); err != nil {
		d.logger.Warn("pin control message", zap.String("thread_id", thread.ID), zap.Error(err))
	}
	return ThreadRef{ThreadID: thread.ID, ControlMessageID: control.ID}, nil
}

func (d *Discord) SendToThread(ctx context.Context, threadID string, msg OutgoingMessage) (string, error) {
	return d.send(ctx, threadID, msg, true)
}

func (d *Discord) EditMessage(ctx context.Context, channelID, messageID, content string) error {
	_, err := d.session.ChannelMessageEdit(channelID, messageID, truncate(content, maxMessageLength), discordgo.WithContext(ctx))
	return err
}

func (d *Discord) SendPrivate(ctx context.Context, userID string, msg OutgoingMessage) error {
	channel, err := d.session.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("open private channel: %w", err)
	}
	_, err = d.send(ctx, channel.ID, msg, false)
	return err
}

// send splits long content across messages; files ride on the last chunk.
func (d *Discord) send(ctx context.Context, channelID string, msg OutgoingMessage, allowUserMentions bool) (string, error) {
	mentions := &discordgo.MessageAllowedMentions{}
	if allowUserMentions {
		mentions.Parse = []discordgo.AllowedMentionType{discordgo.AllowedMentionTypeUsers}
	}
	chunks := SplitContent(msg.Content, maxMessageLength)
	var lastID string
	for i, chunk := range chunks {
		data := &discordgo.MessageSend{Content: chunk, AllowedMentions: mentions}
		if i == len(chunks)-1 {
			for _, f := range msg.Files {
				data.Files = append(data.Files, &discordgo.File{
					Name:        f.Name,
					ContentType: f.ContentType,
					Reader:      bytes.NewReader(f.Data),
				})
			}
		}
		sent, err := d.session.ChannelMessageSendComplex(channelID, data, discordgo.WithContext(ctx))
		if err != nil {
			return lastID, err
		}
		lastID = sent.ID
	}
	return lastID, nil
}

func (d *Discord) FetchHistory(ctx context.Context, threadID string) ([]domain.Message, error) {
	var (
		out    []domain.Message
		before string
	)
	for {
		page, err := d.session.ChannelMessages(threadID, historyPageSize, before, "", "", discordgo.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("fetch history: %w", err)
		}
		for _, m := range page {
			out = append(out, toDomainMessage(m))
		}
		if len(page) < historyPageSize {
			break
		}
		before = page[len(page)-1].ID
	}
	sortChronological(out)
	return out, nil
}

func (d *Discord) FetchPinned(ctx context.Context, threadID string) ([]domain.Message, error) {
	pinned, err := d.session.ChannelMessagesPinned(threadID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	out := make([]domain.Message, 0, len(pinned))
	for _, m := range pinned {
		out = append(out, toDomainMessage(m))
	}
	sortChronological(out)
	return out, nil
}

func (d *Discord) FetchStarterMessage(ctx context.Context, threadID string) (*domain.Message, error) {
	thread, err := d.session.Channel(threadID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	if thread.ParentID == "" {
		return nil, errors.New("thread has no parent channel")
	}
	// A thread started from a message shares that message's ID.
	starter, err := d.session.ChannelMessage(thread.ParentID, threadID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	msg := toDomainMessage(starter)
	return &msg, nil
}

func (d *Discord) FetchFirstMessages(ctx context.Context, threadID string, limit int) ([]domain.Message, error) {
	if limit <= 0 || limit > historyPageSize {
		limit = historyPageSize
	}
	page, err := d.session.ChannelMessages(threadID, limit, "", threadID, "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	out := make([]domain.Message, 0, len(page))
	for _, m := range page {
		out = append(out, toDomainMessage(m))
	}
	sortChronological(out)
	return out, nil
}

func (d *Discord) ArchiveThread(ctx context.Context, threadID string) error {
	return d.setArchived(ctx, threadID, true)
}

func (d *Discord) UnarchiveThread(ctx context.Context, threadID string) error {
	return d.setArchived(ctx, threadID, false)
}

func (d *Discord) setArchived(ctx context.Context, threadID string, archived bool) error {
	_, err := d.session.ChannelEdit(threadID, &discordgo.ChannelEdit{
		Archived: &archived,
		Locked:   &archived,
	}, discordgo.WithContext(ctx))
	return err
}

func (d *Discord) GrantThreadAccess(ctx context.Context, threadID, userID string) error {
	return d.session.ThreadMemberAdd(threadID, userID, discordgo.WithContext(ctx))
}

func toDomainMessage(m *discordgo.Message) domain.Message {
	msg := domain.Message{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		Content:   m.Content,
		CreatedAt: m.Timestamp,
	}
	if m.Author != nil {
		msg.AuthorID = m.Author.ID
		msg.AuthorName = DisplayName(m.Author)
		msg.AuthorIsBot = m.Author.Bot
	}
	for _, a := range m.Attachments {
		if a == nil {
			continue
		}
		msg.Attachments = append(msg.Attachments, domain.Attachment{
			ID:          a.ID,
			FileName:    a.Filename,
			URL:         a.URL,
			ContentType: a.ContentType,
			SizeBytes:   int64(a.Size),
		})
	}
	return msg
}

// ToDomainMessage converts a gateway message.
func ToDomainMessage(m *discordgo.Message) domain.Message {
	return toDomainMessage(m)
}

// DisplayName prefers the global display name over the username.
func DisplayName(u *discordgo.User) string {
	if u == nil {
		return ""
	}
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

func sortChronological(msgs []domain.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}

// SplitContent breaks content into chunks of at most max runes, preferring newline boundaries.
// Empty content yields a single empty chunk so attachments still have a carrier message.
func SplitContent(content string, max int) []string {
	runes := []rune(content)
	if len(runes) <= max {
		return []string{content}
	}
	var chunks []string
	for len(runes) > max {
		cut := max
		for i := max; i > max/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}
