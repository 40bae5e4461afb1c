package browser

import (
	"context"
	"errors"

	"github.com/JakeFAU/court-case-scraper/internal/court"
)

var errBrowserDisabled = errors.New("browser automation is disabled by configuration")

// Disabled implements court.Browser for deployments without Chrome. Every
// arena request fails with SessionUnavailable.
type Disabled struct{}

// NewDisabled creates a Disabled browser.
func NewDisabled() *Disabled {
	return &Disabled{}
}

// NewArena always fails.
func (Disabled) NewArena(_ context.Context) (court.Arena, error) {
	return nil, court.NewError(court.KindSessionUnavailable, "new arena", errBrowserDisabled)
}
