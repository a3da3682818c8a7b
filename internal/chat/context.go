package chat

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ETdoFresh/codex-webapp-sub000/internal/store"
)

// attachmentsOnlyPlaceholder stands in for the user text when a submission
// carries files but no message.
const attachmentsOnlyPlaceholder = "(The user sent the attached files without any message text.)"

// assembleTurnContext builds the single text blob handed to the agent for a
// turn: the operating preamble, the user's literal text, and an enumerated
// list of attachment paths. Pure function; the caller owns any truncation.
func assembleTurnContext(instructions string, userText string, attachments []store.AttachmentDraft, workspaceDir string) string {
	var b strings.Builder

	if v := strings.TrimSpace(instructions); v != "" {
		b.WriteString(v)
		b.WriteString("\n\n")
	}

	userText = strings.TrimSpace(userText)
	if userText == "" {
		userText = attachmentsOnlyPlaceholder
	}
	b.WriteString(userText)

	if len(attachments) > 0 {
		b.WriteString("\n\nAttached files:\n")
		for i, att := range attachments {
			rel := strings.TrimSpace(att.RelPath)
			abs := filepath.Join(strings.TrimSpace(workspaceDir), rel)
			fmt.Fprintf(&b, "%d. %s (%s, %d bytes) workspace path: %s, absolute path: %s\n",
				i+1, strings.TrimSpace(att.Filename), att.MimeType, att.SizeBytes, rel, abs)
		}
	}
	return b.String()
}
