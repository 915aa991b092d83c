package checked

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
)

func TestCheckedCSSRecordsMatchAndPassesWithinBounds(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`
		<html><body><table><tr><td>a</td></tr><tr><td>b</td></tr></table></body></html>
	`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	scope := NewScope("https://example.com")
	rows, err := CheckedCSS(scope, doc.Selection, "tr", "table rows", 1, nil)
	if err != nil {
		t.Fatalf("CheckedCSS: %v", err)
	}
	if rows.Length() != 2 {
		t.Fatalf("expected 2 rows, got %d", rows.Length())
	}
	tree := scope.SimpleTree()
	if !strings.Contains(tree, "✓") {
		t.Fatalf("expected passing status in tree, got %q", tree)
	}
}

func TestCheckedCSSReturnsStructuralErrorBelowMin(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`<html><body></body></html>`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	scope := NewScope("https://example.com")
	_, err = CheckedCSS(scope, doc.Selection, ".missing", "missing thing", 1, nil)
	if err == nil {
		t.Fatalf("expected structural error for zero matches below min=1")
	}
}

func TestCheckedCSSDedupsSameSelectorUnderSameParent(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`
		<html><body>
		  <div class="row"><span class="cell">1</span></div>
		  <div class="row"><span class="cell">2</span></div>
		</body></html>
	`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	scope := NewScope("https://example.com")
	rows, err := CheckedCSS(scope, doc.Selection, ".row", "rows", 1, nil)
	if err != nil {
		t.Fatalf("CheckedCSS rows: %v", err)
	}
	rows.Each(func(i int, row *goquery.Selection) {
		if _, err := CheckedCSS(scope, row, ".cell", "cell", 1, nil); err != nil {
			t.Fatalf("CheckedCSS cell: %v", err)
		}
	})
	if len(scope.queries) != 1 {
		t.Fatalf("expected top-level query count 1 (rows), got %d", len(scope.queries))
	}
	if len(scope.queries[0].Children) != 1 {
		t.Fatalf("expected deduped single child query for .cell, got %d", len(scope.queries[0].Children))
	}
	if scope.queries[0].Children[0].MatchCount != 2 {
		t.Fatalf("expected aggregated match count 2, got %d", scope.queries[0].Children[0].MatchCount)
	}
}

func TestExpectedMaxViolationIsStructuralError(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`
		<html><body><p>1</p><p>2</p><p>3</p></body></html>
	`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	max := 2
	scope := NewScope("https://example.com")
	_, err = CheckedCSS(scope, doc.Selection, "p", "paragraphs", 1, &max)
	if err == nil {
		t.Fatalf("expected structural error for exceeding expected_max")
	}
}
