package scrape

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/court-case-scraper/internal/court"
)

const (
	summaryColumns = 4
	orderColumns   = 5
)

// ExtractSummaries maps the rows of a ready results table to summary records
// in document order. Detail links are resolved against baseURL.
func ExtractSummaries(tableHTML, baseURL, detailPattern, emptyMarker string) ([]court.CaseSummaryRecord, error) {
	doc, err := parseHTML(tableHTML)
	if err != nil {
		return nil, court.NewError(court.KindExtractionSchemaMismatch, "extract summaries", err)
	}
	base := parseBase(baseURL)

	var (
		out    []court.CaseSummaryRecord
		rowErr error
	)
	bodyRows(doc.Selection).EachWithBreak(func(i int, row *goquery.Selection) bool {
		if isMarkerRow(row, emptyMarker) {
			return true
		}
		cells := row.ChildrenFiltered("td")
		if cells.Length() < summaryColumns {
			rowErr = schemaMismatch("extract summaries", i, cells.Length(), summaryColumns)
			return false
		}
		caseCell := cells.Eq(1)
		out = append(out, court.CaseSummaryRecord{
			SerialNo:               cellText(cells.Eq(0)),
			DiaryOrCaseNo:          cellText(caseCell),
			PetitionerVsRespondent: cellText(cells.Eq(2)),
			ListingDateOrCourtNo:   cellText(cells.Eq(3)),
			DetailReference:        detailLink(caseCell, base, detailPattern),
		})
		return true
	})
	if rowErr != nil {
		return nil, rowErr
	}
	if out == nil {
		out = []court.CaseSummaryRecord{}
	}
	return out, nil
}

// ExtractOrders maps the rows of a ready orders table to order records in
// document order.
func ExtractOrders(tableHTML, baseURL, emptyMarker string) ([]court.OrderRecord, error) {
	doc, err := parseHTML(tableHTML)
	if err != nil {
		return nil, court.NewError(court.KindExtractionSchemaMismatch, "extract orders", err)
	}
	base := parseBase(baseURL)

	var (
		out    []court.OrderRecord
		rowErr error
	)
	bodyRows(doc.Selection).EachWithBreak(func(i int, row *goquery.Selection) bool {
		if isMarkerRow(row, emptyMarker) {
			return true
		}
		cells := row.ChildrenFiltered("td")
		if cells.Length() < orderColumns {
			rowErr = schemaMismatch("extract orders", i, cells.Length(), orderColumns)
			return false
		}
		out = append(out, court.OrderRecord{
			SerialNo:          cellText(cells.Eq(0)),
			CaseNoOrOrderLink: cellText(cells.Eq(1)),
			DateOfOrder:       cellText(cells.Eq(2)),
			Corrigendum:       cellText(cells.Eq(3)),
			HindiOrder:        cellText(cells.Eq(4)),
			PDFLink:           orderLink(row, cells.Eq(1), base),
		})
		return true
	})
	if rowErr != nil {
		return nil, rowErr
	}
	if out == nil {
		out = []court.OrderRecord{}
	}
	return out, nil
}

// ReadDetailFields reads the filing and next hearing dates from a detail page.
// Missing elements read as empty strings.
func ReadDetailFields(pageHTML string, sel Selectors) (filingDate, nextHearingDate string, err error) {
	doc, err := parseHTML(pageHTML)
	if err != nil {
		return "", "", err
	}
	return firstText(doc, sel.FilingDate), firstText(doc, sel.NextHearingDate), nil
}

// ExtractOptions returns the labels of a select element's options, skipping
// blanks and "Select ..." placeholders. Duplicates are dropped; order is kept.
func ExtractOptions(selectHTML string) ([]string, error) {
	doc, err := parseHTML(selectHTML)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	out := []string{}
	doc.Find("option").Each(func(_ int, opt *goquery.Selection) {
		label := strings.TrimSpace(opt.Text())
		if label == "" || strings.HasPrefix(strings.ToLower(label), "select") {
			return
		}
		if _, dup := seen[label]; dup {
			return
		}
		seen[label] = struct{}{}
		out = append(out, label)
	})
	return out, nil
}

func cellText(cell *goquery.Selection) string {
	return strings.TrimSpace(cell.Text())
}

func firstText(doc *goquery.Document, selector string) string {
	if selector == "" {
		return ""
	}
	return strings.TrimSpace(doc.Find(selector).First().Text())
}

func detailLink(cell *goquery.Selection, base *url.URL, pattern string) string {
	var link string
	cell.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		if pattern != "" && !strings.Contains(href, pattern) {
			return true
		}
		link = resolve(base, href)
		return false
	})
	return link
}

// orderLink prefers the anchor in the case/order cell and falls back to any
// PDF link in the row.
func orderLink(row, caseCell *goquery.Selection, base *url.URL) string {
	if href, ok := caseCell.Find("a[href]").First().Attr("href"); ok && strings.TrimSpace(href) != "" {
		return resolve(base, href)
	}
	var link string
	row.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		if strings.Contains(strings.ToLower(href), ".pdf") {
			link = resolve(base, href)
			return false
		}
		return true
	})
	return link
}

func parseBase(raw string) *url.URL {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil
	}
	return u
}

func resolve(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	ref, err := url.Parse(href)
	if err != nil || base == nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

func schemaMismatch(op string, row, got, want int) error {
	return court.NewError(court.KindExtractionSchemaMismatch, op,
		fmt.Errorf("row %d has %d cells, want at least %d", row+1, got, want))
}
