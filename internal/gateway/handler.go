package gateway

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-relay/internal/config"
	"github.com/spec-kit/ticket-relay/internal/domain"
	"github.com/spec-kit/ticket-relay/internal/messaging"
	"github.com/spec-kit/ticket-relay/internal/service"
	apperrors "github.com/spec-kit/ticket-relay/pkg/util"
)

// IncomingMessage is a platform message reduced to what the router needs.
type IncomingMessage struct {
	GuildID     string
	Private     bool
	Message     domain.Message
	MemberRoles []string
}

// Handler routes private messages and ticket thread messages into the services.
type Handler struct {
	lifecycle *service.LifecycleService
	relay     *service.RelayService
	rating    *service.RatingService
	resolver  *service.IdentityResolver
	platform  messaging.Platform
	roles     *RoleMapper
	guildID   string
	prefix    string
	timeout   time.Duration
	logger    *zap.Logger
}

// HandlerDependencies bundles collaborators for the handler.
type HandlerDependencies struct {
	Lifecycle *service.LifecycleService
	Relay     *service.RelayService
	Rating    *service.RatingService
	Resolver  *service.IdentityResolver
	Platform  messaging.Platform
	Roles     *RoleMapper
	Discord   config.DiscordConfig
	Tickets   config.TicketConfig
	Timeout   time.Duration
	Logger    *zap.Logger
}

// NewHandler constructs the handler.
func NewHandler(deps HandlerDependencies) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix := deps.Tickets.CommandPrefix
	if prefix == "" {
		prefix = "!"
	}
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	roles := deps.Roles
	if roles == nil {
		roles = NewRoleMapper(deps.Discord)
	}
	return &Handler{
		lifecycle: deps.Lifecycle,
		relay:     deps.Relay,
		rating:    deps.Rating,
		resolver:  deps.Resolver,
		platform:  deps.Platform,
		roles:     roles,
		guildID:   deps.Discord.GuildID,
		prefix:    prefix,
		timeout:   timeout,
		logger:    logger.Named("gateway"),
	}
}

// OnMessageCreate is the discordgo event handler.
func (h *Handler) OnMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	in := IncomingMessage{
		GuildID: m.GuildID,
		Private: m.GuildID == "",
		Message: messaging.ToDomainMessage(m.Message),
	}
	if m.Member != nil {
		in.MemberRoles = m.Member.Roles
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	if err := h.Handle(ctx, in); err != nil {
		h.logger.Warn("message handling failed",
			zap.String("channel_id", m.ChannelID),
			zap.String("author_id", m.Author.ID),
			zap.Error(err))
	}
}

// Handle routes one incoming message.
func (h *Handler) Handle(ctx context.Context, in IncomingMessage) error {
	if in.Message.AuthorIsBot {
		return nil
	}
	if in.Private {
		return h.handlePrivate(ctx, in.Message)
	}
	if in.GuildID != h.guildID {
		return nil
	}
	return h.handleThread(ctx, in)
}

func (h *Handler) handlePrivate(ctx context.Context, msg domain.Message) error {
	if cmd, ok := parseCommand(msg.Content, h.prefix); ok {
		switch cmd.verb {
		case cmdRate:
			return h.handleRate(ctx, msg, cmd.args)
		case cmdClose:
			return h.handleRequesterClose(ctx, msg, cmd.args)
		}
	}

	_, err := h.relay.Inbound(ctx, service.InboundMessage{
		AuthorID:    msg.AuthorID,
		AuthorName:  msg.AuthorName,
		Content:     msg.Content,
		Attachments: msg.Attachments,
	})
	if apperrors.IsCode(err, apperrors.CodeValidation) {
		return nil
	}
	return err
}

func (h *Handler) handleRate(ctx context.Context, msg domain.Message, args string) error {
	parsed, ok := parseRate(args)
	if !ok {
		h.reply(ctx, msg.AuthorID, fmt.Sprintf("Usage: `%srate <ticket> <1-5> [comment]`", h.prefix))
		return nil
	}
	accepted, err := h.rating.Submit(ctx, parsed.ticketID, msg.AuthorID, parsed.rating, parsed.comment)
	switch {
	case err != nil && !isExpected(err):
		return err
	case err != nil:
		h.reply(ctx, msg.AuthorID, userMessage(err))
	case !accepted:
		h.reply(ctx, msg.AuthorID, "You can only rate your own tickets.")
	default:
		h.reply(ctx, msg.AuthorID, fmt.Sprintf("Thanks for rating ticket #%d!", parsed.ticketID))
	}
	return nil
}

func (h *Handler) handleRequesterClose(ctx context.Context, msg domain.Message, reason string) error {
	ticket, err := h.resolver.ResolveRequester(ctx, msg.AuthorID)
	if err != nil {
		return err
	}
	if ticket == nil || ticket.RequesterID != msg.AuthorID {
		h.reply(ctx, msg.AuthorID, "You have no open ticket to close.")
		return nil
	}
	_, err = h.lifecycle.Close(ctx, ticket.ID, &domain.Actor{ID: msg.AuthorID, Name: msg.AuthorName}, reason)
	if err != nil && isExpected(err) {
		h.reply(ctx, msg.AuthorID, userMessage(err))
		return nil
	}
	return err
}

func (h *Handler) handleThread(ctx context.Context, in IncomingMessage) error {
	msg := in.Message
	ticket, err := h.resolver.ResolveThread(ctx, msg.ChannelID)
	if err != nil || ticket == nil {
		return err
	}
	role := h.roles.Resolve(in.MemberRoles)
	if !role.Valid() {
		return nil
	}
	actor := &domain.Actor{ID: msg.AuthorID, Name: msg.AuthorName, Role: role}

	if h.relay.IsNote(msg.Content) {
		return nil
	}
	if cmd, ok := parseCommand(msg.Content, h.prefix); ok && threadVerbs[cmd.verb] {
		err := h.runThreadCommand(ctx, ticket, actor, cmd)
		if err != nil && isExpected(err) {
			h.notice(ctx, ticket.ThreadID, userMessage(err))
			return nil
		}
		return err
	}

	result, err := h.relay.Outbound(ctx, service.OutboundMessage{
		ThreadID:    msg.ChannelID,
		MessageID:   msg.ID,
		Content:     msg.Content,
		Attachments: msg.Attachments,
		Author:      actor,
	})
	if err != nil {
		if isExpected(err) {
			h.notice(ctx, ticket.ThreadID, userMessage(err))
			return nil
		}
		return err
	}
	h.logger.Debug("outbound relayed",
		zap.Int64("ticket_id", ticket.ID),
		zap.Int("recipients", len(result.Deliveries)),
		zap.Int("failed", len(result.Failed())))
	return nil
}

func (h *Handler) runThreadCommand(ctx context.Context, ticket *domain.Ticket, actor *domain.Actor, cmd command) error {
	var err error
	switch cmd.verb {
	case cmdClaim:
		_, err = h.lifecycle.Claim(ctx, ticket.ID, actor)
	case cmdClose:
		_, err = h.lifecycle.Close(ctx, ticket.ID, actor, cmd.args)
	case cmdReopen:
		_, err = h.lifecycle.Reopen(ctx, ticket.ID, actor)
	case cmdPriority:
		n, convErr := strconv.Atoi(cmd.args)
		if convErr != nil {
			return apperrors.NewValidationError(fmt.Sprintf("usage: %spriority <1-4>", h.prefix), nil)
		}
		_, err = h.lifecycle.SetPriority(ctx, ticket.ID, actor, n)
	case cmdLabel:
		_, err = h.lifecycle.SetStatusLabel(ctx, ticket.ID, actor, cmd.args)
	case cmdCategory:
		_, err = h.lifecycle.SetCategory(ctx, ticket.ID, actor, cmd.args)
	case cmdEscalate:
		n, convErr := strconv.Atoi(cmd.args)
		if convErr != nil {
			return apperrors.NewValidationError(fmt.Sprintf("usage: %sescalate <0-5>", h.prefix), nil)
		}
		_, err = h.lifecycle.Escalate(ctx, ticket.ID, actor, n)
	case cmdForward:
		target, ok := parseUserRef(cmd.args)
		if !ok {
			return apperrors.NewValidationError(fmt.Sprintf("usage: %sforward @staff", h.prefix), nil)
		}
		_, err = h.lifecycle.Forward(ctx, ticket.ID, actor, target)
	case cmdAdd:
		user, ok := parseUserRef(cmd.args)
		if !ok {
			return apperrors.NewValidationError(fmt.Sprintf("usage: %sadd @user", h.prefix), nil)
		}
		_, err = h.relay.AddParticipant(ctx, ticket.ID, user, actor)
		if err == nil {
			h.notice(ctx, ticket.ThreadID, fmt.Sprintf("<@%s> was added to the ticket.", user))
		}
	case cmdTranscript:
		artifact, terr := h.lifecycle.Transcript(ctx, ticket.ID, actor)
		if terr != nil {
			return terr
		}
		_, err = h.platform.SendToThread(ctx, ticket.ThreadID, messaging.OutgoingMessage{
			Content: fmt.Sprintf("Transcript of ticket #%d", ticket.ID),
			Files:   []messaging.File{artifact.File()},
		})
	}
	return err
}

func (h *Handler) reply(ctx context.Context, userID, content string) {
	if err := h.platform.SendPrivate(ctx, userID, messaging.OutgoingMessage{Content: content}); err != nil {
		h.logger.Warn("private reply failed", zap.String("recipient_id", userID), zap.Error(err))
	}
}

func (h *Handler) notice(ctx context.Context, threadID, content string) {
	if _, err := h.platform.SendToThread(ctx, threadID, messaging.OutgoingMessage{Content: content}); err != nil {
		h.logger.Warn("thread notice failed", zap.String("thread_id", threadID), zap.Error(err))
	}
}

// isExpected reports whether err is a user-facing rejection rather than a fault.
func isExpected(err error) bool {
	domainErr := apperrors.ToDomainError(err)
	if domainErr == nil {
		return false
	}
	switch domainErr.Code {
	case apperrors.CodePersistence, apperrors.CodeInternal:
		return false
	}
	return true
}

func userMessage(err error) string {
	domainErr := apperrors.ToDomainError(err)
	if domainErr == nil {
		return ""
	}
	return domainErr.Message
}
