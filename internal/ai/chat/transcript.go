package chat

import (
	"strings"
)

// ruleLine closes every command and output block.
var ruleLine = strings.Repeat("-", 100) + "\n"

// FormatTranscript renders the messages of one turn as markdown: assistant
// prose, a Command line per tool call, and each tool output in a fenced
// block. User messages are not repeated.
func FormatTranscript(messages []Message) string {
	var b strings.Builder
	for _, m := range messages {
		switch m.Role {
		case RoleAssistant:
			if m.Content != "" {
				b.WriteString(m.Content)
				b.WriteString("\n\n")
			}
			for _, tc := range m.ToolCalls {
				b.WriteString("Command: `")
				b.WriteString(tc.Command())
				b.WriteString("`\n\n")
				b.WriteString(ruleLine)
			}
		case RoleTool:
			b.WriteString("Output:\n```\n")
			b.WriteString(m.Content)
			b.WriteString("\n```\n\n")
			b.WriteString(ruleLine)
		}
	}
	return b.String()
}
