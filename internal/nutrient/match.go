package nutrient

import "strings"

// Stage identifies which matching strategy resolved a name.
type Stage int

const (
	StageNone Stage = iota
	StageExact
	StageSubstring
	StageToken
)

func (s Stage) String() string {
	switch s {
	case StageExact:
		return "exact"
	case StageSubstring:
		return "substring"
	case StageToken:
		return "token"
	}
	return "none"
}

// Match resolves a free-text ingredient name to a single record. Strategies
// run in priority order and the first success wins:
//  1. exact lookup on the normalized name
//  2. substring containment in either direction, first record in table order
//  3. any shared token, first record in table order
//
// ok is false when nothing matched; the caller keeps the original name.
func Match(name string, t *Table) (rec Record, stage Stage, ok bool) {
	query := Normalize(name)
	if query == "" || t == nil {
		return Record{}, StageNone, false
	}

	if r, found := t.Lookup(query); found {
		return r, StageExact, true
	}

	for i, candidate := range t.keys {
		if candidate == "" {
			continue
		}
		if strings.Contains(candidate, query) || strings.Contains(query, candidate) {
			return t.records[i], StageSubstring, true
		}
	}

	queryTokens := make(map[string]struct{})
	for _, tok := range strings.Fields(query) {
		queryTokens[tok] = struct{}{}
	}
	for i, candidate := range t.keys {
		for _, tok := range strings.Fields(candidate) {
			if _, hit := queryTokens[tok]; hit {
				return t.records[i], StageToken, true
			}
		}
	}

	return Record{}, StageNone, false
}
