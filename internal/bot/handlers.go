package bot

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-bot/internal/service"
	apperrors "github.com/spec-kit/ticket-bot/pkg/util/errorutil"
)

// handleOpen starts the open flow from the panel button/select. The
// category travels in the custom-id arg for buttons and in the select
// value for select menus.
func (r *Router) handleOpen(ctx context.Context, i *discordgo.InteractionCreate, arg string) error {
	category := arg
	if i.Type == discordgo.InteractionMessageComponent {
		if data := i.MessageComponentData(); len(data.Values) > 0 {
			category = data.Values[0]
		}
	}
	user := interactionUser(i)

	result, err := r.creation.Open(ctx, service.OpenRequest{
		GuildID:  i.GuildID,
		UserID:   user.ID,
		Username: user.Username,
		UserTag:  user.String(),
		Category: category,
	})
	if err != nil {
		return err
	}

	if result.NeedsForm {
		return r.respondIntakeModal(i, category, result.Questions)
	}
	return r.respondOpenResult(i, result)
}

// handleIntakeForm resumes the open flow with the submitted answers.
func (r *Router) handleIntakeForm(ctx context.Context, i *discordgo.InteractionCreate, _ string) error {
	user := interactionUser(i)

	result, err := r.creation.CompleteForm(ctx, service.OpenRequest{
		GuildID:  i.GuildID,
		UserID:   user.ID,
		Username: user.Username,
		UserTag:  user.String(),
		Answers:  collectModalInputs(i.ModalSubmitData()),
	})
	if err != nil {
		return err
	}
	return r.respondOpenResult(i, result)
}

func (r *Router) respondOpenResult(i *discordgo.InteractionCreate, result *service.OpenResult) error {
	switch {
	case result.InProgress:
		r.respondEphemeral(i, "Your ticket is already being created, one moment.")
	case result.Existing:
		r.respondEphemeral(i, fmt.Sprintf("You already have an open ticket for this category: <#%s>", result.Ticket.ChannelID))
	default:
		r.respondEphemeral(i, fmt.Sprintf("Your ticket is ready: <#%s>", result.Ticket.ChannelID))
	}
	return nil
}

func (r *Router) handleClaim(ctx context.Context, i *discordgo.InteractionCreate, _ string) error {
	user := interactionUser(i)
	outcome, err := r.interactions.Claim(ctx, i.ChannelID, user.ID)
	if err != nil {
		return err
	}
	if outcome.AlreadyClaimedBy != "" {
		r.respondEphemeral(i, fmt.Sprintf("This ticket is already claimed by <@%s>.", outcome.AlreadyClaimedBy))
		return nil
	}
	r.respondEphemeral(i, "You claimed this ticket.")
	return nil
}

// handleTransferPrompt shows the staff-member selection step.
func (r *Router) handleTransferPrompt(ctx context.Context, i *discordgo.InteractionCreate, _ string) error {
	user := interactionUser(i)
	ticket, err := r.interactions.TicketForChannel(ctx, i.ChannelID)
	if err != nil {
		return err
	}
	staff, err := r.interactions.IsStaff(ctx, ticket.GuildID, i.ChannelID, user.ID)
	if err != nil {
		return err
	}
	if !staff {
		return apperrors.NewForbidden("only staff can transfer tickets")
	}

	return r.session.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: "Who should take over this ticket?",
			Flags:   discordgo.MessageFlagsEphemeral,
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{
					Components: []discordgo.MessageComponent{
						discordgo.SelectMenu{
							MenuType: discordgo.UserSelectMenu,
							CustomID: service.CustomIDTransferTo,
						},
					},
				},
			},
		},
	})
}

func (r *Router) handleTransferSelect(ctx context.Context, i *discordgo.InteractionCreate, _ string) error {
	data := i.MessageComponentData()
	if len(data.Values) == 0 {
		return apperrors.NewValidationError("no transfer target selected", nil)
	}
	user := interactionUser(i)
	if _, err := r.interactions.Transfer(ctx, i.ChannelID, user.ID, data.Values[0]); err != nil {
		return err
	}
	r.respondEphemeral(i, "Ticket transferred.")
	return nil
}

// handleClose begins the close flow: already-closed tickets finalize
// immediately, open ones get the tag selection step.
func (r *Router) handleClose(ctx context.Context, i *discordgo.InteractionCreate, _ string) error {
	user := interactionUser(i)
	outcome, err := r.interactions.BeginClose(ctx, i.ChannelID, user.ID)
	if err != nil {
		return err
	}
	if outcome.AlreadyClosed {
		r.respondEphemeral(i, "This ticket was already closed; cleaning up the channel.")
		return nil
	}

	options := make([]discordgo.SelectMenuOption, 0, len(outcome.TagOptions))
	for _, opt := range outcome.TagOptions {
		options = append(options, discordgo.SelectMenuOption{Label: opt.Label, Value: opt.Value})
	}
	return r.session.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: "Pick a tag for this ticket before closing it.",
			Flags:   discordgo.MessageFlagsEphemeral,
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{
					Components: []discordgo.MessageComponent{
						discordgo.SelectMenu{
							MenuType: discordgo.StringSelectMenu,
							CustomID: service.CustomIDCloseTag,
							Options:  options,
						},
					},
				},
			},
		},
	})
}

func (r *Router) handleCloseTag(ctx context.Context, i *discordgo.InteractionCreate, _ string) error {
	data := i.MessageComponentData()
	if len(data.Values) == 0 {
		return apperrors.NewValidationError("no tag selected", nil)
	}
	value := data.Values[0]

	if value == service.TagValueCustom {
		return r.session.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseModal,
			Data: &discordgo.InteractionResponseData{
				CustomID: service.CustomIDCloseCustom,
				Title:    "Close ticket",
				Components: []discordgo.MessageComponent{
					discordgo.ActionsRow{
						Components: []discordgo.MessageComponent{
							discordgo.TextInput{
								CustomID:  "tag",
								Label:     "Tag",
								Style:     discordgo.TextInputShort,
								MaxLength: service.MaxTagLength,
								Required:  true,
							},
						},
					},
				},
			},
		})
	}

	tag := value
	if value == service.TagValueNone {
		tag = ""
	}
	return r.finalizeWithTag(ctx, i, tag)
}

func (r *Router) handleCloseCustom(ctx context.Context, i *discordgo.InteractionCreate, _ string) error {
	inputs := collectModalInputs(i.ModalSubmitData())
	tag := ""
	if len(inputs) > 0 {
		tag = service.TruncateTag(inputs[0])
	}
	return r.finalizeWithTag(ctx, i, tag)
}

func (r *Router) finalizeWithTag(ctx context.Context, i *discordgo.InteractionCreate, tag string) error {
	user := interactionUser(i)
	ticket, err := r.interactions.TicketForChannel(ctx, i.ChannelID)
	if err != nil {
		return err
	}
	if err := r.interactions.FinalizeClose(ctx, ticket, tag, user.ID); err != nil {
		return err
	}
	r.respondEphemeral(i, "Ticket closed.")
	return nil
}

// handleTicketCommand handles `/ticket open <category>`.
func (r *Router) handleTicketCommand(ctx context.Context, i *discordgo.InteractionCreate, _ string) error {
	data := i.ApplicationCommandData()
	if len(data.Options) == 0 || data.Options[0].Name != "open" {
		r.respondEphemeral(i, "Unknown ticket subcommand.")
		return nil
	}
	category := ""
	for _, opt := range data.Options[0].Options {
		if opt.Name == "category" {
			category = opt.StringValue()
		}
	}
	return r.handleOpen(ctx, i, category)
}

// inputLabel bounds a question to Discord's 45-character text input
// label limit, truncating by runes so a multi-byte character is never
// split.
func inputLabel(question string) string {
	runes := []rune(question)
	if len(runes) > 45 {
		runes = runes[:45]
	}
	return string(runes)
}

// respondIntakeModal renders the category's intake questions as a
// modal, one short text input per question.
func (r *Router) respondIntakeModal(i *discordgo.InteractionCreate, category string, questions []string) error {
	components := make([]discordgo.MessageComponent, 0, len(questions))
	for idx, question := range questions {
		components = append(components, discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.TextInput{
					CustomID: fmt.Sprintf("q%d", idx),
					Label:    inputLabel(question),
					Style:    discordgo.TextInputParagraph,
					Required: true,
				},
			},
		})
	}
	return r.session.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: &discordgo.InteractionResponseData{
			CustomID:   service.CustomIDIntakeForm + ":" + category,
			Title:      category,
			Components: components,
		},
	})
}

func (r *Router) respondEphemeral(i *discordgo.InteractionCreate, content string) {
	err := r.session.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		r.logger.Warn("interaction respond", zap.Error(err))
	}
}

// collectModalInputs flattens a modal submission into its text values,
// in component order.
func collectModalInputs(data discordgo.ModalSubmitInteractionData) []string {
	var values []string
	for _, row := range data.Components {
		actionsRow, ok := row.(*discordgo.ActionsRow)
		if !ok {
			continue
		}
		for _, comp := range actionsRow.Components {
			if input, ok := comp.(*discordgo.TextInput); ok {
				values = append(values, input.Value)
			}
		}
	}
	return values
}
