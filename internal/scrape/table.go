package scrape

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// TableState is what a results table looks like at one instant.
type TableState int

// Table states, in the order the page usually moves through them.
const (
	TableAbsent TableState = iota
	TableEmptyMarker
	TablePopulated
)

func (s TableState) String() string {
	switch s {
	case TableEmptyMarker:
		return "empty_marker"
	case TablePopulated:
		return "populated"
	default:
		return "absent"
	}
}

// ClassifyTable inspects the outer HTML of a results table. A table is
// populated only when its first body row exists and is not the empty marker;
// the marker is checked even when it is the only row.
func ClassifyTable(tableHTML, emptyMarker string) (TableState, error) {
	if strings.TrimSpace(tableHTML) == "" {
		return TableAbsent, nil
	}
	doc, err := parseHTML(tableHTML)
	if err != nil {
		return TableAbsent, err
	}
	rows := bodyRows(doc.Selection)
	if rows.Length() == 0 {
		return TableAbsent, nil
	}
	if isMarkerRow(rows.First(), emptyMarker) {
		return TableEmptyMarker, nil
	}
	return TablePopulated, nil
}

func parseHTML(markup string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

// bodyRows returns the direct body rows of the outermost table, ignoring rows
// of tables nested inside cells.
func bodyRows(sel *goquery.Selection) *goquery.Selection {
	table := sel.Find("table").First()
	if table.Length() == 0 {
		return sel.Find("tbody > tr")
	}
	return table.ChildrenFiltered("tbody").ChildrenFiltered("tr")
}

func isMarkerRow(row *goquery.Selection, emptyMarker string) bool {
	if emptyMarker == "" {
		return false
	}
	return row.Is(emptyMarker) || row.Find(emptyMarker).Length() > 0
}

// elementText returns the trimmed text of an outer HTML fragment.
func elementText(markup string) string {
	if strings.TrimSpace(markup) == "" {
		return ""
	}
	doc, err := parseHTML(markup)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Text())
}
