package refine

import "context"

// Oracle proposes named sub-clusters for a digest of articles.
// The answer is raw text expected to hold {"clusters":[...]}, possibly fenced.
type Oracle interface {
	ProposeSubclusters(ctx context.Context, digest []byte) (string, error)
}

// Completer is a single-prompt text generation client such as llm.ChatClient.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// ChatOracle turns a Completer into an Oracle using the refinement prompt.
type ChatOracle struct {
	chat       Completer
	minMembers int
}

var _ Oracle = (*ChatOracle)(nil)

// NewChatOracle creates an oracle backed by chat.
func NewChatOracle(chat Completer, minMembers int) *ChatOracle {
	if minMembers <= 0 {
		minMembers = DefaultMinMembers
	}
	return &ChatOracle{chat: chat, minMembers: minMembers}
}

// ProposeSubclusters implements Oracle.
func (o *ChatOracle) ProposeSubclusters(ctx context.Context, digest []byte) (string, error) {
	return o.chat.Complete(ctx, BuildPrompt(digest, o.minMembers))
}
