package scrape

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JakeFAU/court-case-scraper/internal/court"
)

// ReadChallenge waits once for the challenge element and reads its text. It
// does not poll: if the element is not there within timeout the page is
// treated as broken.
func ReadChallenge(
	ctx context.Context,
	sess court.Session,
	selector string,
	timeout time.Duration,
	clock court.Clock,
) (court.ChallengeToken, error) {
	text, err := sess.WaitText(ctx, selector, timeout)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return court.ChallengeToken{}, fmt.Errorf("read challenge: %w", ctxErr)
		}
		return court.ChallengeToken{}, court.NewError(court.KindChallengeUnavailable, "read challenge", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return court.ChallengeToken{}, court.NewError(court.KindChallengeUnavailable, "read challenge",
			errors.New("challenge element is empty"))
	}
	return court.ChallengeToken{Text: text, CapturedAt: clock.Now()}, nil
}
