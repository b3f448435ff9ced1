package dispatch

import (
	"strings"

	"github.com/chime-im/chime/internal/protocol"
)

// FormatReply builds the outgoing body for a reply: the quoted message's
// lines are prefixed with "> " and placed above the reply text, attributed to
// the quoted sender. Leading quote lines of the quoted body are stripped
// first so replies to replies don't nest quotes without bound.
func FormatReply(quoted protocol.Message, reply string) string {
	lines := strings.Split(strings.TrimSuffix(quoted.Body, "\n"), "\n")
	for len(lines) > 0 && strings.HasPrefix(lines[0], ">") {
		lines = lines[1:]
	}
	for i, line := range lines {
		lines[i] = "> " + line
	}
	quotedBody := strings.Join(lines, "\n")
	return "> <" + string(quoted.Sender) + "> " + quotedBody + "\n\n" + reply
}
