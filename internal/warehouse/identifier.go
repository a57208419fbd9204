package warehouse

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/aiqojo/sf-ml-test/internal/apperrors"
)

// Unquoted identifiers, optionally qualified as database.schema.object.
var namePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*(\.[A-Za-z_][A-Za-z0-9_$]*){0,2}$`)

// Name is a possibly qualified object name.
type Name struct {
	Database string
	Schema   string
	Object   string
}

// ParseName validates s as an unquoted identifier with up to two qualifiers.
// Only validated names are interpolated into SQL text.
func ParseName(s string) (Name, error) {
	if !namePattern.MatchString(s) {
		return Name{}, apperrors.Validation("name", fmt.Sprintf("invalid object name %q", s))
	}

	parts := strings.Split(s, ".")
	switch len(parts) {
	case 1:
		return Name{Object: parts[0]}, nil
	case 2:
		return Name{Schema: parts[0], Object: parts[1]}, nil
	default:
		return Name{Database: parts[0], Schema: parts[1], Object: parts[2]}, nil
	}
}

// Qualified reports whether the name carries both database and schema.
func (n Name) Qualified() bool {
	return n.Database != "" && n.Schema != ""
}

// WithDefaults fills in a missing database or schema.
func (n Name) WithDefaults(database, schema string) Name {
	if n.Schema == "" {
		n.Schema = schema
	}
	if n.Database == "" {
		n.Database = database
	}
	return n
}

// String joins the non-empty parts with dots.
func (n Name) String() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{n.Database, n.Schema, n.Object} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ".")
}

// QuoteLiteral renders s as a single-quoted SQL string literal.
func QuoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
