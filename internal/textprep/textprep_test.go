package textprep

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/thebtf/newscluster/pkg/models"
)

func TestClean(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "plain text",
			input:    "Hello   world\n",
			expected: "Hello world",
		},
		{
			name:     "paragraphs keep a separator",
			input:    "<p>Astana</p><p>floods</p>",
			expected: "Astana floods",
		},
		{
			name:     "inline tags",
			input:    "Rain <b>heavy</b> today",
			expected: "Rain heavy today",
		},
		{
			name:     "script and style removed",
			input:    "<style>p{}</style><script>alert(1)</script>News",
			expected: "News",
		},
		{
			name:     "entities decoded",
			input:    "Tom &amp; Jerry",
			expected: "Tom & Jerry",
		},
		{
			name:     "line breaks",
			input:    "one<br>two<br/>three",
			expected: "one two three",
		},
		{
			name:     "markup only",
			input:    "<p> </p><br>",
			expected: "",
		},
		{
			name:     "empty",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Clean(tt.input))
		})
	}
}

func TestEmbeddingText(t *testing.T) {
	tests := []struct {
		name     string
		article  models.Article
		expected string
	}{
		{
			name:     "summary preferred",
			article:  models.Article{Title: "Title", Summary: "Summary text"},
			expected: "Summary text",
		},
		{
			name:     "blank summary falls back to title",
			article:  models.Article{Title: "Title", Summary: "   \n"},
			expected: "Title",
		},
		{
			name:     "markup-only summary falls back to title",
			article:  models.Article{Title: "Title", Summary: "<p></p>"},
			expected: "Title",
		},
		{
			name:     "html summary cleaned",
			article:  models.Article{Title: "Title", Summary: "<div>Big <i>news</i></div>"},
			expected: "Big news",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, EmbeddingText(tt.article))
		})
	}
}
