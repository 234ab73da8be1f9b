package service

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/spec-kit/ticket-bot/internal/domain"
)

// mentionResolver maps mention ids to display names. User names come
// from each message's own mention metadata; role and channel names from
// guild data fetched once per transcript.
type mentionResolver struct {
	users    map[string]string
	roles    map[string]string
	channels map[string]string
}

func (r *mentionResolver) userName(id string) string {
	if name, ok := r.users[id]; ok {
		return name
	}
	return id
}

func (r *mentionResolver) roleName(id string) string {
	if name, ok := r.roles[id]; ok {
		return name
	}
	return id
}

func (r *mentionResolver) channelName(id string) string {
	if name, ok := r.channels[id]; ok {
		return name
	}
	return id
}

var (
	reCodeBlock   = regexp.MustCompile("(?s)```(?:[a-zA-Z0-9]*\n)?(.*?)```")
	reCodeInline  = regexp.MustCompile("`([^`\n]+)`")
	reBold        = regexp.MustCompile(`\*\*(.+?)\*\*`)
	reUnderline   = regexp.MustCompile(`__(.+?)__`)
	reItalicStar  = regexp.MustCompile(`\*([^*\n]+)\*`)
	reItalicScore = regexp.MustCompile(`_([^_\n]+)_`)
	reStrike      = regexp.MustCompile(`~~(.+?)~~`)
	reMDLink      = regexp.MustCompile(`\[([^\]]+)\]\((https?://[^\s)]+)\)`)
	reBareURL     = regexp.MustCompile(`(?m)(^|[^"'>=\]])(https?://[^\s<]+)`)
	reUserMention = regexp.MustCompile(`&lt;@!?(\d+)&gt;`)
	reRoleMention = regexp.MustCompile(`&lt;@&amp;(\d+)&gt;`)
	reChanMention = regexp.MustCompile(`&lt;#(\d+)&gt;`)
	reCustomEmoji = regexp.MustCompile(`&lt;(a?):([A-Za-z0-9_~]+):(\d+)&gt;`)
	reEveryone    = regexp.MustCompile(`@(everyone|here)\b`)
	reListItem    = regexp.MustCompile(`(?m)^[-*] (.+)$`)
)

const codePlaceholder = "\x00code%d\x00"

// renderInline converts a message body to HTML. Code spans are swapped
// for placeholders before any other substitution so mention and
// markdown patterns inside code are not rewritten, then restored last.
func renderInline(content string, resolver *mentionResolver) string {
	out := html.EscapeString(content)

	var protected []string
	protect := func(rendered string) string {
		protected = append(protected, rendered)
		return fmt.Sprintf(codePlaceholder, len(protected)-1)
	}

	out = reCodeBlock.ReplaceAllStringFunc(out, func(match string) string {
		inner := reCodeBlock.FindStringSubmatch(match)[1]
		return protect("<pre><code>" + inner + "</code></pre>")
	})
	out = reCodeInline.ReplaceAllStringFunc(out, func(match string) string {
		inner := reCodeInline.FindStringSubmatch(match)[1]
		return protect("<code>" + inner + "</code>")
	})

	// Anchors get the same placeholder treatment as code spans, so the
	// emphasis passes below cannot rewrite underscores inside a URL.
	out = reMDLink.ReplaceAllStringFunc(out, func(match string) string {
		parts := reMDLink.FindStringSubmatch(match)
		return protect(`<a href="` + parts[2] + `">` + parts[1] + `</a>`)
	})
	out = reBareURL.ReplaceAllStringFunc(out, func(match string) string {
		parts := reBareURL.FindStringSubmatch(match)
		return parts[1] + protect(`<a href="`+parts[2]+`">`+parts[2]+`</a>`)
	})

	out = reBold.ReplaceAllString(out, "<strong>$1</strong>")
	out = reUnderline.ReplaceAllString(out, "<u>$1</u>")
	out = reItalicStar.ReplaceAllString(out, "<em>$1</em>")
	out = reItalicScore.ReplaceAllString(out, "<em>$1</em>")
	out = reStrike.ReplaceAllString(out, "<s>$1</s>")

	out = reUserMention.ReplaceAllStringFunc(out, func(match string) string {
		id := reUserMention.FindStringSubmatch(match)[1]
		return `<span class="mention">@` + html.EscapeString(resolver.userName(id)) + `</span>`
	})
	out = reRoleMention.ReplaceAllStringFunc(out, func(match string) string {
		id := reRoleMention.FindStringSubmatch(match)[1]
		return `<span class="mention role">@` + html.EscapeString(resolver.roleName(id)) + `</span>`
	})
	out = reChanMention.ReplaceAllStringFunc(out, func(match string) string {
		id := reChanMention.FindStringSubmatch(match)[1]
		return `<span class="mention channel">#` + html.EscapeString(resolver.channelName(id)) + `</span>`
	})
	out = reCustomEmoji.ReplaceAllStringFunc(out, func(match string) string {
		parts := reCustomEmoji.FindStringSubmatch(match)
		ext := "png"
		if parts[1] == "a" {
			ext = "gif"
		}
		return fmt.Sprintf(`<img class="emoji" alt=":%s:" src="https://cdn.discordapp.com/emojis/%s.%s">`, parts[2], parts[3], ext)
	})
	out = reEveryone.ReplaceAllString(out, `<span class="mention everyone">@$1</span>`)

	out = reListItem.ReplaceAllString(out, "<li>$1</li>")
	out = wrapListItems(out)

	out = strings.ReplaceAll(out, "\n", "<br>")

	for i, rendered := range protected {
		out = strings.Replace(out, fmt.Sprintf(codePlaceholder, i), rendered, 1)
	}
	return out
}

// wrapListItems wraps consecutive <li> lines in a single <ul>.
func wrapListItems(content string) string {
	lines := strings.Split(content, "\n")
	var out []string
	inList := false
	for _, line := range lines {
		isItem := strings.HasPrefix(line, "<li>")
		if isItem && !inList {
			out = append(out, "<ul>")
			inList = true
		}
		if !isItem && inList {
			out = append(out, "</ul>")
			inList = false
		}
		out = append(out, line)
	}
	if inList {
		out = append(out, "</ul>")
	}
	return strings.Join(out, "\n")
}

const transcriptStyle = `body{background:#36393f;color:#dcddde;font-family:sans-serif;margin:0;padding:24px}
.header{border-bottom:1px solid #4f545c;padding-bottom:12px;margin-bottom:16px}
.header h1{color:#fff;font-size:20px;margin:0 0 4px}
.header .meta{color:#72767d;font-size:13px}
.message{display:flex;padding:8px 0}
.message .avatar{width:40px;height:40px;border-radius:50%;margin-right:16px}
.message .author{color:#fff;font-weight:600;margin-right:8px}
.message .timestamp{color:#72767d;font-size:12px}
.message .body{margin-top:2px;line-height:1.4;word-wrap:break-word}
.mention{background:rgba(88,101,242,.3);color:#dee0fc;border-radius:3px;padding:0 2px}
.mention.everyone{background:rgba(250,166,26,.3);color:#faa61a}
.attachment a{color:#00aff4}
.embed{border-left:4px solid #4f545c;background:#2f3136;border-radius:4px;padding:8px 12px;margin-top:4px;max-width:520px}
.embed .embed-author{font-size:12px;font-weight:600}
.embed .embed-title{color:#fff;font-weight:600;margin:2px 0}
.embed .embed-field-name{font-weight:600;margin-top:4px}
.embed .embed-footer{color:#72767d;font-size:11px;margin-top:6px}
.embed img{max-width:100%;border-radius:4px;margin-top:6px}
code,pre{background:#2f3136;border-radius:3px;padding:2px 4px;font-family:monospace}
pre{padding:8px;overflow-x:auto}
.emoji{width:20px;height:20px;vertical-align:middle}
ul{margin:4px 0 4px 20px;padding:0}`

// renderHTML produces the standalone styled transcript document with
// exactly one message block per fetched message.
func renderHTML(ticket *domain.Ticket, messages []*discordgo.Message, resolver *mentionResolver) string {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
	fmt.Fprintf(&b, "<title>Ticket %s</title>\n", html.EscapeString(ticket.Category))
	b.WriteString("<style>" + transcriptStyle + "</style>\n</head>\n<body>\n")

	b.WriteString("<div class=\"header\">\n")
	fmt.Fprintf(&b, "<h1>Ticket transcript — %s</h1>\n", html.EscapeString(ticket.Category))
	fmt.Fprintf(&b, "<div class=\"meta\">guild %s · channel %s · %d messages</div>\n",
		html.EscapeString(ticket.GuildID), html.EscapeString(ticket.ChannelID), len(messages))
	b.WriteString("</div>\n")

	for _, msg := range messages {
		writeMessageHTML(&b, msg, resolver)
	}

	b.WriteString("</body>\n</html>\n")
	return b.String()
}

func writeMessageHTML(b *strings.Builder, msg *discordgo.Message, resolver *mentionResolver) {
	b.WriteString("<div class=\"message\">\n")
	fmt.Fprintf(b, "<img class=\"avatar\" src=\"%s\" alt=\"\">\n", avatarURL(msg.Author))
	b.WriteString("<div>\n<div>")
	fmt.Fprintf(b, "<span class=\"author\">%s</span>", html.EscapeString(authorName(msg)))
	fmt.Fprintf(b, "<span class=\"timestamp\">%s</span>", msg.Timestamp.UTC().Format(time.RFC3339))
	b.WriteString("</div>\n")

	if msg.Content != "" {
		fmt.Fprintf(b, "<div class=\"body\">%s</div>\n", renderInline(msg.Content, resolver))
	}
	for _, att := range msg.Attachments {
		fmt.Fprintf(b, "<div class=\"attachment\"><a href=\"%s\">%s</a></div>\n",
			html.EscapeString(att.URL), html.EscapeString(att.Filename))
	}
	for _, embed := range msg.Embeds {
		writeEmbedHTML(b, embed, resolver)
	}

	b.WriteString("</div>\n</div>\n")
}

func writeEmbedHTML(b *strings.Builder, embed *discordgo.MessageEmbed, resolver *mentionResolver) {
	b.WriteString("<div class=\"embed\">\n")
	if embed.Author != nil && embed.Author.Name != "" {
		fmt.Fprintf(b, "<div class=\"embed-author\">%s</div>\n", html.EscapeString(embed.Author.Name))
	}
	if embed.Title != "" {
		fmt.Fprintf(b, "<div class=\"embed-title\">%s</div>\n", html.EscapeString(embed.Title))
	}
	if embed.Description != "" {
		fmt.Fprintf(b, "<div class=\"embed-description\">%s</div>\n", renderInline(embed.Description, resolver))
	}
	for _, field := range embed.Fields {
		fmt.Fprintf(b, "<div class=\"embed-field-name\">%s</div>\n", html.EscapeString(field.Name))
		fmt.Fprintf(b, "<div class=\"embed-field-value\">%s</div>\n", renderInline(field.Value, resolver))
	}
	if embed.Image != nil && embed.Image.URL != "" {
		fmt.Fprintf(b, "<img src=\"%s\" alt=\"\">\n", html.EscapeString(embed.Image.URL))
	}
	if embed.Footer != nil && embed.Footer.Text != "" {
		fmt.Fprintf(b, "<div class=\"embed-footer\">%s</div>\n", html.EscapeString(embed.Footer.Text))
	}
	b.WriteString("</div>\n")
}

func avatarURL(user *discordgo.User) string {
	if user == nil {
		return ""
	}
	return user.AvatarURL("64")
}
