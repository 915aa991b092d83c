package checked

import (
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// CheckedXPath runs an XPath expression against node scoped to scope,
// recording the query and returning a structural error if the match
// count falls outside [min, max].
func CheckedXPath(scope *Scope, node *html.Node, expr, description string, min int, max *int) ([]*html.Node, error) {
	nodes, err := htmlquery.QueryAll(node, expr)
	if err != nil {
		return nil, err
	}
	sampleFn := func() []string {
		var out []string
		for i, n := range nodes {
			if i >= 3 {
				break
			}
			out = append(out, strings.TrimSpace(htmlquery.InnerText(n)))
		}
		return out
	}

	if recErr := scope.Record(expr, "xpath", description, len(nodes), min, max, node, sampleFn); recErr != nil {
		return nodes, recErr
	}
	for _, n := range nodes {
		scope.BindElement(n, expr)
	}
	return nodes, nil
}

// XPathText returns the trimmed inner text of n.
func XPathText(n *html.Node) string {
	return strings.TrimSpace(htmlquery.InnerText(n))
}
