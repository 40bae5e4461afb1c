package scrape

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/court-case-scraper/internal/court"
)

// Submit fills the search form and clicks submit. Every control is checked
// before anything is typed so a markup change fails cleanly with
// FieldNotFound. It returns once the click is dispatched.
//
// Driver failures, including action timeouts, are reported as SubmitFailed.
// Only an error from ctx itself surfaces as a context error.
func Submit(ctx context.Context, sess court.Session, sel Selectors, query court.CaseQuery, challenge string) error {
	for _, control := range sel.formControls() {
		ok, err := sess.Exists(ctx, control)
		if err != nil {
			return submitError(ctx, "check control "+control, err)
		}
		if !ok {
			return court.NewError(court.KindFieldNotFound, "submit form", &court.FieldError{Selector: control})
		}
	}

	if err := sess.SelectOption(ctx, sel.CaseType, query.CaseType); err != nil {
		return submitError(ctx, "select case type", err)
	}
	if err := sess.SetValue(ctx, sel.CaseNumber, query.CaseNumber); err != nil {
		return submitError(ctx, "fill case number", err)
	}
	if err := sess.SelectOption(ctx, sel.FilingYear, query.FilingYear); err != nil {
		return submitError(ctx, "select filing year", err)
	}
	if err := sess.SetValue(ctx, sel.ChallengeInput, challenge); err != nil {
		return submitError(ctx, "fill challenge", err)
	}
	if err := sess.Click(ctx, sel.Submit); err != nil {
		return submitError(ctx, "click submit", err)
	}
	return nil
}

func submitError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", op, ctxErr)
	}
	var ce *court.Error
	if errors.As(err, &ce) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return court.NewError(court.KindSubmitFailed, op, err)
}
