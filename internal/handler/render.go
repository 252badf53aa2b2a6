package handler

import "strings"

// discordRenderCtx/telegramRenderCtx and their format-status companions are
// authored fresh: no rendering/discord_markdown.py or
// rendering/telegram_markdown.py source file was present in the retrieved
// pack (only handler.py's imports of them), so the escaping rules below
// follow each platform's own published markdown dialect rather than a
// grounded source file.

func discordRenderCtx() RenderCtx {
	return RenderCtx{
		Bold:           func(s string) string { return "**" + s + "**" },
		CodeInline:     func(s string) string { return "`" + s + "`" },
		EscapeCode:     escapeDiscordCode,
		EscapeText:     escapeDiscord,
		RenderMarkdown: func(s string) string { return s }, // Discord markdown passes through as-is
	}
}

func formatStatusDiscord(emoji, label string, suffix ...string) string {
	parts := []string{emoji, "**" + label + "**"}
	if len(suffix) > 0 && suffix[0] != "" {
		parts = append(parts, suffix[0])
	}
	return strings.Join(parts, " ")
}

// discordEscapeChars are the characters Discord's markdown renderer treats
// specially outside of a code span.
const discordEscapeChars = "*_~`|>"

func escapeDiscord(s string) string {
	var b strings.Builder
	for _, r := range s {
		if strings.ContainsRune(discordEscapeChars, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func escapeDiscordCode(s string) string {
	return strings.ReplaceAll(s, "`", "'")
}

func telegramRenderCtx() RenderCtx {
	return RenderCtx{
		Bold:           func(s string) string { return "*" + escapeMDV2(s) + "*" },
		CodeInline:     mdv2CodeInline,
		EscapeCode:     escapeMDV2Code,
		EscapeText:     escapeMDV2,
		RenderMarkdown: renderMarkdownToMDV2,
	}
}

func formatStatusTelegram(emoji, label string, suffix ...string) string {
	parts := []string{emoji, "*" + escapeMDV2(label) + "*"}
	if len(suffix) > 0 && suffix[0] != "" {
		parts = append(parts, escapeMDV2(suffix[0]))
	}
	return strings.Join(parts, " ")
}

func mdv2CodeInline(s string) string { return "`" + escapeMDV2Code(s) + "`" }

// mdv2SpecialChars is Telegram's MarkdownV2 reserved-character set.
const mdv2SpecialChars = "_*[]()~`>#+-=|{}.!"

func escapeMDV2(s string) string {
	var b strings.Builder
	for _, r := range s {
		if strings.ContainsRune(mdv2SpecialChars, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func escapeMDV2Code(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	return strings.ReplaceAll(s, "`", "\\`")
}

// renderMarkdownToMDV2 passes plain model output through MarkdownV2
// escaping, except it leaves already-balanced ```fenced``` code blocks
// alone so multi-line code the model emits still renders as a code block
// instead of a wall of backslashes.
func renderMarkdownToMDV2(s string) string {
	segments := strings.Split(s, "```")
	var b strings.Builder
	for i, seg := range segments {
		if i%2 == 1 {
			b.WriteString("```")
			b.WriteString(seg)
			b.WriteString("```")
			continue
		}
		b.WriteString(escapeMDV2(seg))
	}
	return b.String()
}
