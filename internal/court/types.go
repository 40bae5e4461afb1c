package court

import (
	"strings"
	"time"
)

// Outcome is the caller-visible verdict of a scrape.
type Outcome string

// Outcome values.
const (
	OutcomeSuccess Outcome = "success"
	OutcomeNoData  Outcome = "no_data"
	OutcomeFailure Outcome = "failure"
)

// CaseQuery identifies one case on the status page. All fields are required.
type CaseQuery struct {
	CaseType   string `json:"caseType"`
	CaseNumber string `json:"caseNumber"`
	FilingYear string `json:"filingYear"`
}

// Normalize returns a copy with surrounding whitespace removed.
func (q CaseQuery) Normalize() CaseQuery {
	return CaseQuery{
		CaseType:   strings.TrimSpace(q.CaseType),
		CaseNumber: strings.TrimSpace(q.CaseNumber),
		FilingYear: strings.TrimSpace(q.FilingYear),
	}
}

// Validate reports an InvalidQuery error naming the first missing field.
func (q CaseQuery) Validate() error {
	n := q.Normalize()
	switch {
	case n.CaseType == "":
		return NewError(KindInvalidQuery, "validate query", errMissing("caseType"))
	case n.CaseNumber == "":
		return NewError(KindInvalidQuery, "validate query", errMissing("caseNumber"))
	case n.FilingYear == "":
		return NewError(KindInvalidQuery, "validate query", errMissing("filingYear"))
	}
	return nil
}

// ChallengeToken is the plain-text challenge read from a freshly loaded page.
// It is only valid for the session that produced it.
type ChallengeToken struct {
	Text       string    `json:"text"`
	CapturedAt time.Time `json:"capturedAt"`
}

// CaseSummaryRecord is one row of the case-status results table.
type CaseSummaryRecord struct {
	SerialNo               string      `json:"serialNo"`
	DiaryOrCaseNo          string      `json:"diaryOrCaseNo"`
	PetitionerVsRespondent string      `json:"petitionerVsRespondent"`
	ListingDateOrCourtNo   string      `json:"listingDateOrCourtNo"`
	DetailReference        string      `json:"detailReference,omitempty"`
	Detail                 *CaseDetail `json:"detail,omitempty"`
	DetailError            string      `json:"detailError,omitempty"`
}

// HasDetailReference reports whether the row links to an orders page.
func (r CaseSummaryRecord) HasDetailReference() bool {
	return r.DetailReference != ""
}

// CaseDetail is the content of a case's orders page.
type CaseDetail struct {
	DetailReference string        `json:"detailReference"`
	FilingDate      string        `json:"filingDate"`
	NextHearingDate string        `json:"nextHearingDate"`
	Orders          []OrderRecord `json:"ordersData"`
}

// OrderRecord is one row of the orders table on a case detail page.
type OrderRecord struct {
	SerialNo          string `json:"serialNo"`
	CaseNoOrOrderLink string `json:"caseNoOrOrderLink"`
	DateOfOrder       string `json:"dateOfOrder"`
	Corrigendum       string `json:"corrigendum"`
	HindiOrder        string `json:"hindiOrder"`
	PDFLink           string `json:"pdfLink,omitempty"`
}

// ScrapeResult is the unit handed to the result sink and returned to callers.
// It owns its summaries and their details.
type ScrapeResult struct {
	ID            string              `json:"id"`
	Query         CaseQuery           `json:"query"`
	ChallengeUsed string              `json:"challengeUsed,omitempty"`
	Summaries     []CaseSummaryRecord `json:"summaries"`
	Outcome       Outcome             `json:"outcome"`
	Cause         Kind                `json:"cause,omitempty"`
	Message       string              `json:"message,omitempty"`
	StartedAt     time.Time           `json:"startedAt"`
	FinishedAt    time.Time           `json:"finishedAt"`

	// Snapshot holds the last page HTML seen before a failure. It is never
	// serialized.
	Snapshot string `json:"-"`
}

// Fail marks the result as a failure derived from err.
func (r *ScrapeResult) Fail(err error) {
	r.Outcome = OutcomeFailure
	r.Cause = KindOf(err)
	r.Message = Describe(err)
	r.Summaries = nil
}

// DetailCount returns how many summaries carry a populated detail.
func (r ScrapeResult) DetailCount() int {
	n := 0
	for _, s := range r.Summaries {
		if s.Detail != nil {
			n++
		}
	}
	return n
}

// QueryRecord is one row of the append-only query log.
type QueryRecord struct {
	ID          int64     `json:"id"`
	CaseType    string    `json:"caseType"`
	CaseNumber  string    `json:"caseNumber"`
	FilingYear  string    `json:"filingYear"`
	RawResponse string    `json:"rawResponse"`
	Timestamp   time.Time `json:"timestamp"`
}
