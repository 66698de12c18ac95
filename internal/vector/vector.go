package vector

import (
	"database/sql/driver"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// Vector is a dense float32 embedding. It is stored in the pgvector text
// form "[0.1,0.2,...]", which is also what SQLite keeps in a TEXT column.
type Vector []float32

// Dim returns the number of components.
func (v Vector) Dim() int {
	return len(v)
}

// Value implements driver.Valuer.
func (v Vector) Value() (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal([]float32(v))
	if err != nil {
		return nil, fmt.Errorf("encode vector: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (v *Vector) Scan(src any) error {
	switch s := src.(type) {
	case nil:
		*v = nil
		return nil
	case string:
		return v.parse(s)
	case []byte:
		return v.parse(string(s))
	default:
		return fmt.Errorf("scan vector: unsupported type %T", src)
	}
}

func (v *Vector) parse(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		*v = nil
		return nil
	}
	var out []float32
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return fmt.Errorf("decode vector: %w", err)
	}
	*v = out
	return nil
}

// GormDBDataType picks the column type per dialect: pgvector on Postgres, text elsewhere.
func (Vector) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	if db.Dialector.Name() == "postgres" {
		return "vector"
	}
	return "text"
}
