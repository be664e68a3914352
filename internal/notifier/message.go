package notifier

import (
	"strings"
	"time"
	"unicode/utf8"
)

// Telegram 单条消息上限 4096，留出余量给标题和时间。
const messageLimit = 3800

const fence = "```"

// MessageSection 是消息中带标题的一段文本。
type MessageSection struct {
	Title string
	Lines []string
}

// StructuredMessage 描述一次推送：标题行、代码块内的段落、页脚和时间。
type StructuredMessage struct {
	Icon      string
	Title     string
	Sections  []MessageSection
	Footer    string
	Timestamp time.Time
}

// Section splits a multi-line block into a titled section.
func Section(title, block string) MessageSection {
	return MessageSection{Title: title, Lines: strings.Split(block, "\n")}
}

// RenderMarkdown renders the message with every section inside one code
// fence, trimmed to the Telegram size limit.
func (m StructuredMessage) RenderMarkdown() string {
	var parts []string
	if head := strings.TrimSpace(m.Icon + " " + m.Title); head != "" {
		parts = append(parts, head+"\n")
	}
	if body := fenced(m.Sections); body != "" {
		parts = append(parts, body)
	}
	if foot := strings.TrimSpace(m.Footer); foot != "" {
		parts = append(parts, unfence(foot))
	}
	if !m.Timestamp.IsZero() {
		parts = append(parts, "时间："+m.Timestamp.Format("2006-01-02 15:04:05 MST"))
	}
	return truncate(strings.TrimSpace(strings.Join(parts, "\n")), messageLimit)
}

func fenced(sections []MessageSection) string {
	var blocks []string
	for _, sec := range sections {
		var b strings.Builder
		for _, line := range sec.Lines {
			if line = strings.TrimSpace(line); line == "" {
				continue
			}
			b.WriteString("- " + unfence(line) + "\n")
		}
		if b.Len() == 0 {
			continue
		}
		title := strings.TrimSpace(sec.Title)
		if title != "" {
			title = unfence(title) + "\n"
		}
		blocks = append(blocks, title+b.String())
	}
	if len(blocks) == 0 {
		return ""
	}
	return fence + "\n" + strings.Join(blocks, "\n") + fence + "\n"
}

// unfence 防止正文里的 ``` 提前闭合代码块。
func unfence(s string) string {
	return strings.ReplaceAll(s, fence, "'''")
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
