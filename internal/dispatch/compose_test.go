package dispatch

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chime-im/chime/internal/protocol"
)

func TestFormatReply(t *testing.T) {
	tests := []struct {
		name   string
		quoted protocol.Message
		reply  string
		want   string
	}{
		{
			name:   "multiline body",
			quoted: protocol.Message{Sender: "alice", Body: "hello\nworld"},
			reply:  "hi",
			want:   "> <alice> > hello\n> world\n\nhi",
		},
		{
			name:   "single line",
			quoted: protocol.Message{Sender: "bob", Body: "see you"},
			reply:  "ok",
			want:   "> <bob> > see you\n\nok",
		},
		{
			name:   "existing quote lines stripped before re-quoting",
			quoted: protocol.Message{Sender: "bob", Body: "> <alice> > hello\n> world\n\nhi"},
			reply:  "sure",
			want:   "> <bob> > \n> hi\n\nsure",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, FormatReply(tt.quoted, tt.reply))
		})
	}
}
