package refine

import (
	"fmt"
	"strings"
)

// BuildPrompt wraps the article digest in the refinement instructions.
func BuildPrompt(digest []byte, minMembers int) string {
	var sb strings.Builder
	sb.WriteString("Analyze the list of news articles below and group them into clusters, one per real-world event.\n\n")
	sb.WriteString("Articles:\n")
	sb.Write(digest)
	sb.WriteString("\n\nRules:\n")
	sb.WriteString("1. A cluster contains only articles about the same specific event, not just the same topic.\n")
	sb.WriteString(fmt.Sprintf("2. Every cluster must contain at least %d articles; leave other articles out.\n", minMembers))
	sb.WriteString("3. An article belongs to at most one cluster.\n")
	sb.WriteString("4. Give every cluster a short, specific theme in the language of the articles.\n")
	sb.WriteString("5. Use only article ids from the list.\n")
	sb.WriteString("6. If there are no suitable groups, return an empty JSON object: {}\n\n")
	sb.WriteString("Answer with JSON only, in exactly this format:\n")
	sb.WriteString(`{
  "clusters": [
    {
      "theme": "Official state visit to Kyrgyzstan",
      "article_ids": [111, 112, 113]
    }
  ]
}`)
	return sb.String()
}
