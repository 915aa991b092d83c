package checked

import (
	"fmt"
	"strings"
)

// SimpleTree renders scope's recorded queries as a human-readable ✓/✗
// tree for debugging a selector tree at a glance.
func (s *Scope) SimpleTree() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var lines []string
	for _, q := range s.queries {
		lines = append(lines, formatQuery(q, 0)...)
	}
	return strings.Join(lines, "\n")
}

func formatQuery(q *Query, indent int) []string {
	prefix := strings.Repeat("  ", indent) + "- "
	status := "✓"
	if !q.ok() {
		status = "✗"
	}

	matchWord := "match"
	if q.MatchCount != 1 {
		matchWord = "matches"
	}
	matchText := fmt.Sprintf("%d %s", q.MatchCount, matchWord)
	if status == "✗" {
		if q.MatchCount < q.ExpectedMin {
			matchText += fmt.Sprintf(", expected %d+", q.ExpectedMin)
		} else if q.ExpectedMax != nil && q.MatchCount > *q.ExpectedMax {
			matchText += fmt.Sprintf(", expected max %d", *q.ExpectedMax)
		}
	}

	line := fmt.Sprintf("%s%s %q %s (%s)", prefix, q.Selector, q.Description, status, matchText)
	lines := []string{line}

	if len(q.SampleElements) > 0 && q.MatchCount > 0 && q.SampleElements[0] != "" {
		lines = append(lines, strings.Repeat("  ", indent+1)+fmt.Sprintf("→ %q", q.SampleElements[0]))
	}

	for _, child := range q.Children {
		lines = append(lines, formatQuery(child, indent+1)...)
	}
	return lines
}

// QueryDict mirrors SelectorQuery.to_dict for JSON export.
type QueryDict struct {
	Selector        string       `json:"selector"`
	SelectorType    string       `json:"selector_type"`
	Description     string       `json:"description"`
	MatchCount      int          `json:"match_count"`
	ExpectedMin     int          `json:"expected_min"`
	ExpectedMax     *int         `json:"expected_max"`
	SampleElements  []string     `json:"sample_elements"`
	Children        []QueryDict  `json:"children"`
	ElementID       string       `json:"element_id"`
	ParentElementID string       `json:"parent_element_id"`
}

// JSONTree returns the scope's recorded queries as nested structs ready
// for JSON marshaling.
func (s *Scope) JSONTree() []QueryDict {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]QueryDict, 0, len(s.queries))
	for _, q := range s.queries {
		out = append(out, toDict(q))
	}
	return out
}

func toDict(q *Query) QueryDict {
	children := make([]QueryDict, 0, len(q.Children))
	for _, c := range q.Children {
		children = append(children, toDict(c))
	}
	return QueryDict{
		Selector:        q.Selector,
		SelectorType:    q.SelectorType,
		Description:     q.Description,
		MatchCount:      q.MatchCount,
		ExpectedMin:     q.ExpectedMin,
		ExpectedMax:     q.ExpectedMax,
		SampleElements:  q.SampleElements,
		Children:        children,
		ElementID:       q.ElementID,
		ParentElementID: q.ParentElementID,
	}
}
