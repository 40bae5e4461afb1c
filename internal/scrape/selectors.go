package scrape

// Selectors are the CSS selectors used against the entry and detail pages.
type Selectors struct {
	CaseType        string
	CaseNumber      string
	FilingYear      string
	Challenge       string
	ChallengeInput  string
	ChallengeError  string
	Submit          string
	SummaryTable    string
	DetailTable     string
	EmptyMarker     string
	FilingDate      string
	NextHearingDate string
}

// DefaultSelectors matches the Delhi High Court case-status page.
func DefaultSelectors() Selectors {
	return Selectors{
		CaseType:        "#case_type",
		CaseNumber:      "#case_number",
		FilingYear:      "#case_year",
		Challenge:       "#captcha-code",
		ChallengeInput:  "#captchaInput",
		ChallengeError:  ".captcha-error",
		Submit:          "#search",
		SummaryTable:    "#caseTable",
		DetailTable:     "#caseTable",
		EmptyMarker:     "td.dt-empty",
		FilingDate:      "#filing_date",
		NextHearingDate: "#next_hearing_date",
	}
}

// formControls lists the controls Submit touches, in fill order.
func (s Selectors) formControls() []string {
	return []string{s.CaseType, s.CaseNumber, s.FilingYear, s.ChallengeInput, s.Submit}
}
