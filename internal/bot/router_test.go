package bot

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	apperrors "github.com/spec-kit/ticket-bot/pkg/util/errorutil"
)

func TestSplitCustomID(t *testing.T) {
	prefix, arg := splitCustomID("ticket-open:Bug Report")
	assert.Equal(t, "ticket-open", prefix)
	assert.Equal(t, "Bug Report", arg)

	prefix, arg = splitCustomID("ticket-claim")
	assert.Equal(t, "ticket-claim", prefix)
	assert.Empty(t, arg)

	// Only the first separator splits; args may carry colons.
	prefix, arg = splitCustomID("ticket-form:a:b")
	assert.Equal(t, "ticket-form", prefix)
	assert.Equal(t, "a:b", arg)
}

func TestClassify(t *testing.T) {
	kind, customID, ok := classify(&discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			Type: discordgo.InteractionMessageComponent,
			Data: discordgo.MessageComponentInteractionData{
				ComponentType: discordgo.ButtonComponent,
				CustomID:      "ticket-claim",
			},
		},
	})
	assert.True(t, ok)
	assert.Equal(t, KindButton, kind)
	assert.Equal(t, "ticket-claim", customID)

	kind, customID, ok = classify(&discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			Type: discordgo.InteractionMessageComponent,
			Data: discordgo.MessageComponentInteractionData{
				ComponentType: discordgo.SelectMenuComponent,
				CustomID:      "ticket-close-tag",
			},
		},
	})
	assert.True(t, ok)
	assert.Equal(t, KindSelect, kind)
	assert.Equal(t, "ticket-close-tag", customID)

	kind, customID, ok = classify(&discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			Type: discordgo.InteractionModalSubmit,
			Data: discordgo.ModalSubmitInteractionData{CustomID: "ticket-form:Support"},
		},
	})
	assert.True(t, ok)
	assert.Equal(t, KindModal, kind)
	assert.Equal(t, "ticket-form:Support", customID)

	kind, customID, ok = classify(&discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			Type: discordgo.InteractionApplicationCommand,
			Data: discordgo.ApplicationCommandInteractionData{Name: "ticket"},
		},
	})
	assert.True(t, ok)
	assert.Equal(t, KindCommand, kind)
	assert.Equal(t, "ticket", customID)

	_, _, ok = classify(&discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{Type: discordgo.InteractionPing},
	})
	assert.False(t, ok)
}

func TestUserFacingMessages(t *testing.T) {
	err := apperrors.ToDomainError(apperrors.NewForbidden("only staff can claim tickets"))
	assert.Equal(t, "only staff can claim tickets", userFacing(err))

	err = apperrors.ToDomainError(apperrors.NewValidationError("unknown ticket category", nil))
	assert.Equal(t, "unknown ticket category", userFacing(err))

	// Internal details never leak to the user.
	err = apperrors.ToDomainError(assert.AnError)
	assert.Equal(t, "Something went wrong handling that action. Please try again.", userFacing(err))
}

func TestInteractionUser(t *testing.T) {
	member := &discordgo.User{ID: "via-member"}
	direct := &discordgo.User{ID: "via-user"}

	got := interactionUser(&discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{Member: &discordgo.Member{User: member}},
	})
	assert.Equal(t, "via-member", got.ID)

	got = interactionUser(&discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{User: direct},
	})
	assert.Equal(t, "via-user", got.ID)
}

func TestCollectModalInputs(t *testing.T) {
	data := discordgo.ModalSubmitInteractionData{
		Components: []discordgo.MessageComponent{
			&discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				&discordgo.TextInput{CustomID: "q0", Value: "it broke"},
			}},
			&discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				&discordgo.TextInput{CustomID: "q1", Value: "press the button"},
			}},
		},
	}
	assert.Equal(t, []string{"it broke", "press the button"}, collectModalInputs(data))
}

func TestInteractionWithoutUserIsDropped(t *testing.T) {
	r := NewRouter(RouterDependencies{Logger: zap.NewNop()})

	// Neither Member nor User set; dispatch must bail out before any
	// handler dereferences the invoking user.
	assert.NotPanics(t, func() {
		r.onInteractionCreate(nil, &discordgo.InteractionCreate{
			Interaction: &discordgo.Interaction{
				Type: discordgo.InteractionMessageComponent,
				Data: discordgo.MessageComponentInteractionData{
					ComponentType: discordgo.ButtonComponent,
					CustomID:      "ticket-claim",
				},
			},
		})
	})
}

func TestInputLabelTruncatesByRunes(t *testing.T) {
	short := "What went wrong?"
	assert.Equal(t, short, inputLabel(short))

	long := strings.Repeat("é", 60)
	label := inputLabel(long)
	assert.Equal(t, 45, utf8.RuneCountInString(label))
	assert.True(t, utf8.ValidString(label))
	assert.Equal(t, strings.Repeat("é", 45), label)
}
