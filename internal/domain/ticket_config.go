package domain

import (
	"regexp"
	"strings"
)

// TicketMode selects how ticket containers are created.
type TicketMode string

const (
	TicketModeThread  TicketMode = "thread"
	TicketModeChannel TicketMode = "dedicated-channel"
)

// MaxCategoryQuestions caps the intake form size per category.
const MaxCategoryQuestions = 5

// Category is one configured ticket type.
type Category struct {
	Label       string
	Description string
	Template    string
	Questions   []string
}

// Key returns the slug used for the open-ticket uniqueness constraint.
func (c Category) Key() string {
	return SlugifyCategory(c.Label)
}

// AutoClosePolicy controls the inactivity sweep for a guild.
type AutoClosePolicy struct {
	Enabled         bool
	AfterMinutes    int
	ReminderMinutes int
}

// TicketConfig is the normalized per-guild ticket configuration.
// Produced by the config resolver; every optional field is defaulted.
type TicketConfig struct {
	Mode             TicketMode
	OpeningChannelID string
	Categories       []Category
	StaffRoleIDs     []string
	AutoClose        AutoClosePolicy
	ResponseTemplate string
}

// CategoryByLabel finds a configured category, case-insensitively.
func (c *TicketConfig) CategoryByLabel(label string) (Category, bool) {
	for _, cat := range c.Categories {
		if strings.EqualFold(cat.Label, label) {
			return cat, true
		}
	}
	return Category{}, false
}

// RawTicketConfig mirrors the `tickets` section of the shared guild
// settings document before normalization. Absent fields stay zero.
type RawTicketConfig struct {
	Type             string        `json:"type"`
	ChannelID        string        `json:"channel_id"`
	Categories       []RawCategory `json:"categories"`
	StaffRoles       []string      `json:"staff_roles"`
	AutoClose        *RawAutoClose `json:"auto_close"`
	ResponseTemplate string        `json:"response_template"`
}

// RawCategory is the stored shape of a category entry.
type RawCategory struct {
	Label       string   `json:"label"`
	Description string   `json:"description,omitempty"`
	Template    string   `json:"template,omitempty"`
	Questions   []string `json:"questions,omitempty"`
}

// RawAutoClose is the stored shape of the auto-close policy.
type RawAutoClose struct {
	Enabled         bool `json:"enabled"`
	AfterMinutes    int  `json:"after_minutes"`
	ReminderMinutes int  `json:"reminder_minutes"`
}

var slugStrip = regexp.MustCompile(`[^a-z0-9-]+`)

// SlugifyCategory converts a category label into its stable key form:
// lowercase, spaces collapsed to single dashes, everything else dropped.
func SlugifyCategory(label string) string {
	s := strings.ToLower(strings.TrimSpace(label))
	s = strings.Join(strings.Fields(s), "-")
	s = slugStrip.ReplaceAllString(s, "")
	s = strings.Trim(s, "-")
	if s == "" {
		return "general"
	}
	return s
}
