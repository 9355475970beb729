// Package ledger implements the id ledger: an ordered set of positive entity
// ids persisted as a single semicolon-delimited text value.
package ledger

import (
	"fmt"
	"strconv"
	"strings"
)

// Separator delimits ids in the persisted form. It is part of the storage
// format and must not change.
const Separator = ";"

// FormatError reports a stored ledger value holding a token that is not a
// positive decimal id.
type FormatError struct {
	Value string
	Token string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("ledger: invalid id token %q in %q", e.Token, e.Value)
}

// Encode joins ids with the separator. An empty slice encodes to "".
func Encode(ids []int64) string {
	if len(ids) == 0 {
		return ""
	}
	var b strings.Builder
	for i, id := range ids {
		if i > 0 {
			b.WriteString(Separator)
		}
		b.WriteString(strconv.FormatInt(id, 10))
	}
	return b.String()
}

// Decode parses a persisted ledger value. Empty tokens are skipped, so ""
// and ";;" both decode to an empty slice. Repeated ids keep their first
// position.
func Decode(value string) ([]int64, error) {
	if value == "" {
		return []int64{}, nil
	}

	tokens := strings.Split(value, Separator)
	ids := make([]int64, 0, len(tokens))
	seen := make(map[int64]struct{}, len(tokens))
	for _, token := range tokens {
		if token == "" {
			continue
		}
		id, ok := parseID(token)
		if !ok {
			return nil, &FormatError{Value: value, Token: token}
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, nil
}

// parseID accepts ASCII digits only; signs, spaces and "0" are rejected.
func parseID(token string) (int64, bool) {
	for i := 0; i < len(token); i++ {
		if token[i] < '0' || token[i] > '9' {
			return 0, false
		}
	}
	id, err := strconv.ParseInt(token, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
