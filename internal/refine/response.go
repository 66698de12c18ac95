package refine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/thebtf/newscluster/pkg/models"
)

var (
	// ErrNoJSON is returned when the oracle answer contains no JSON payload.
	ErrNoJSON = errors.New("oracle response contains no JSON")
	// ErrInvalidJSON is returned when the payload does not parse.
	ErrInvalidJSON = errors.New("oracle response is not valid JSON")
	// ErrSchema is returned when the payload does not match the response schema.
	ErrSchema = errors.New("oracle response does not match schema")
)

const responseSchemaURL = "newscluster://refine/response.json"

// responseSchemaJSON describes {"clusters":[{"theme":string,"article_ids":[int,...]}]}.
// The clusters key is optional so that {} means "no groups".
const responseSchemaJSON = `{
  "type": "object",
  "properties": {
    "clusters": {
      "type": "array",
      "maxItems": 100,
      "items": {
        "type": "object",
        "required": ["theme", "article_ids"],
        "properties": {
          "theme": {"type": "string", "minLength": 1, "maxLength": 255, "pattern": "\\S"},
          "article_ids": {
            "type": "array",
            "maxItems": 1000,
            "items": {"type": "integer", "minimum": 1}
          }
        }
      }
    }
  }
}`

var responseSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(responseSchemaURL, strings.NewReader(responseSchemaJSON)); err != nil {
		panic(fmt.Sprintf("add response schema: %v", err))
	}
	return c.MustCompile(responseSchemaURL)
}

// ExtractJSON strips Markdown code fences around the oracle answer.
// A ```json fence wins over a bare ``` fence.
func ExtractJSON(text string) (string, error) {
	text = strings.TrimSpace(text)
	if _, after, ok := strings.Cut(text, "```json"); ok {
		body, _, _ := strings.Cut(after, "```")
		text = body
	} else if _, after, ok := strings.Cut(text, "```"); ok {
		body, _, _ := strings.Cut(after, "```")
		text = body
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrNoJSON
	}
	return text, nil
}

// ParseResponse turns an oracle answer into sub-clusters. Ids outside allowed
// and repeated ids are dropped; sub-clusters left with fewer than minMembers
// ids are discarded. Any parse or schema failure rejects the whole answer.
func ParseResponse(raw string, allowed map[int64]struct{}, minMembers int) ([]models.SubCluster, error) {
	text, err := ExtractJSON(raw)
	if err != nil {
		return nil, err
	}

	var doc any
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	if err := responseSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}

	var resp struct {
		Clusters []models.SubCluster `json:"clusters"`
	}
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	var out []models.SubCluster
	for _, sc := range resp.Clusters {
		seen := make(map[int64]struct{}, len(sc.ArticleIDs))
		ids := make([]int64, 0, len(sc.ArticleIDs))
		for _, id := range sc.ArticleIDs {
			if _, ok := allowed[id]; !ok {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
		if len(ids) < minMembers {
			continue
		}
		out = append(out, models.SubCluster{Theme: strings.TrimSpace(sc.Theme), ArticleIDs: ids})
	}
	return out, nil
}
