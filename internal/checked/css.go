package checked

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// CheckedCSS runs a CSS selector against doc scoped to scope, recording
// the query and returning a structural error if the match count falls
// outside [min, max].
func CheckedCSS(scope *Scope, doc *goquery.Selection, selector, description string, min int, max *int) (*goquery.Selection, error) {
	result := doc.Find(selector)
	sampleFn := func() []string {
		var out []string
		result.EachWithBreak(func(i int, s *goquery.Selection) bool {
			if i >= 3 {
				return false
			}
			out = append(out, s.Text())
			return true
		})
		return out
	}

	var parentKey any
	if doc.Length() > 0 {
		parentKey = nodePtr(doc)
	}
	if err := scope.Record(selector, "css", description, result.Length(), min, max, parentKey, sampleFn); err != nil {
		return result, err
	}
	result.Each(func(i int, s *goquery.Selection) {
		scope.BindElement(nodePtr(s), selector)
	})
	return result, nil
}

// nodePtr returns a stable identity key for a goquery.Selection's first
// underlying DOM node, used only as a map key for parent/child linking —
// never dereferenced.
func nodePtr(s *goquery.Selection) any {
	if s.Length() == 0 {
		return nil
	}
	return s.Get(0)
}

// Text is a convenience wrapper returning the trimmed text content of a
// selection.
func Text(s *goquery.Selection) string {
	return strings.TrimSpace(s.Text())
}
