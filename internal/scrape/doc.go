// Package scrape drives the case-status site: it reads the challenge, submits
// the search form, polls the results table until it settles, extracts the rows
// and fans out to each case's orders page.
//
// Page state is always read as an HTML snapshot and parsed with goquery, so the
// readiness predicate and the extractors are pure functions of markup.
package scrape
