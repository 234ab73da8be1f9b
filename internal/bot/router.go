package bot

import (
	"context"
	"strings"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-bot/internal/service"
	apperrors "github.com/spec-kit/ticket-bot/pkg/util/errorutil"
)

// Kind distinguishes interaction categories for routing.
type Kind int

const (
	KindButton Kind = iota
	KindSelect
	KindModal
	KindCommand
)

// routeKey addresses one handler in the dispatch table.
type routeKey struct {
	Kind   Kind
	Prefix string
}

// HandlerFunc processes one routed interaction. arg is the custom-id
// remainder after the prefix, empty when none.
type HandlerFunc func(ctx context.Context, i *discordgo.InteractionCreate, arg string) error

// Router dispatches incoming interactions to handlers by (kind,
// custom-id prefix) and feeds message activity into the ticket
// inactivity tracking.
type Router struct {
	session      *discordgo.Session
	creation     *service.CreationService
	interactions *service.InteractionService
	activity     *service.ActivityService
	logger       *zap.Logger

	table map[routeKey]HandlerFunc
}

// RouterDependencies bundles collaborators for the router.
type RouterDependencies struct {
	Session      *discordgo.Session
	Creation     *service.CreationService
	Interactions *service.InteractionService
	Activity     *service.ActivityService
	Logger       *zap.Logger
}

// NewRouter builds the dispatch table and wires everything up.
func NewRouter(deps RouterDependencies) *Router {
	r := &Router{
		session:      deps.Session,
		creation:     deps.Creation,
		interactions: deps.Interactions,
		activity:     deps.Activity,
		logger:       deps.Logger,
		table:        make(map[routeKey]HandlerFunc),
	}

	r.register(KindButton, service.CustomIDOpen, r.handleOpen)
	r.register(KindSelect, service.CustomIDOpen, r.handleOpen)
	r.register(KindModal, service.CustomIDIntakeForm, r.handleIntakeForm)
	r.register(KindButton, service.CustomIDClaim, r.handleClaim)
	r.register(KindButton, service.CustomIDTransfer, r.handleTransferPrompt)
	r.register(KindSelect, service.CustomIDTransferTo, r.handleTransferSelect)
	r.register(KindButton, service.CustomIDClose, r.handleClose)
	r.register(KindSelect, service.CustomIDCloseTag, r.handleCloseTag)
	r.register(KindModal, service.CustomIDCloseCustom, r.handleCloseCustom)
	r.register(KindCommand, "ticket", r.handleTicketCommand)

	return r
}

func (r *Router) register(kind Kind, prefix string, handler HandlerFunc) {
	r.table[routeKey{Kind: kind, Prefix: prefix}] = handler
}

// Attach registers the gateway event handlers on the session.
func (r *Router) Attach() {
	r.session.AddHandler(r.onInteractionCreate)
	r.session.AddHandler(r.onMessageCreate)
}

func (r *Router) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	ctx := context.Background()

	kind, customID, ok := classify(i)
	if !ok {
		return
	}
	// Every handler acts on the invoking user, so an interaction
	// arriving without one is dropped before dispatch.
	if interactionUser(i) == nil {
		return
	}
	prefix, arg := splitCustomID(customID)
	handler, ok := r.table[routeKey{Kind: kind, Prefix: prefix}]
	if !ok {
		return
	}

	if err := handler(ctx, i, arg); err != nil {
		domainErr := apperrors.ToDomainError(err)
		if domainErr.HTTPStatus >= 500 {
			r.logger.Error("interaction failed",
				zap.String("custom_id", customID),
				zap.Error(domainErr))
		}
		r.respondEphemeral(i, userFacing(domainErr))
	}
}

func (r *Router) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.GuildID == "" {
		return
	}
	r.activity.OnMessage(context.Background(), m.ChannelID)
}

func classify(i *discordgo.InteractionCreate) (Kind, string, bool) {
	switch i.Type {
	case discordgo.InteractionMessageComponent:
		data := i.MessageComponentData()
		if data.ComponentType == discordgo.ButtonComponent {
			return KindButton, data.CustomID, true
		}
		return KindSelect, data.CustomID, true
	case discordgo.InteractionModalSubmit:
		return KindModal, i.ModalSubmitData().CustomID, true
	case discordgo.InteractionApplicationCommand:
		return KindCommand, i.ApplicationCommandData().Name, true
	default:
		return 0, "", false
	}
}

// splitCustomID separates "prefix:arg" custom ids; arg is empty when
// the id is a bare prefix.
func splitCustomID(customID string) (string, string) {
	if idx := strings.IndexByte(customID, ':'); idx >= 0 {
		return customID[:idx], customID[idx+1:]
	}
	return customID, ""
}

func userFacing(err *apperrors.DomainError) string {
	switch err.Code {
	case "VALIDATION_FAILED", "FORBIDDEN", "NOT_FOUND", "CONFLICT":
		return err.Message
	default:
		return "Something went wrong handling that action. Please try again."
	}
}

func interactionUser(i *discordgo.InteractionCreate) *discordgo.User {
	if i.Member != nil {
		return i.Member.User
	}
	return i.User
}
