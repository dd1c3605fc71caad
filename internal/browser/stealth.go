package browser

import (
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/stealth"
)

// localeScript aligns the navigator locale with the launch flags. Portals
// that render dates by navigator.language otherwise flip day/month order
// between runs.
const localeScript = `
(function() {
    'use strict';
    try {
        Object.defineProperty(navigator, 'languages', { get: () => ['es-ES', 'es'], configurable: true });
        Object.defineProperty(navigator, 'language', { get: () => 'es-ES', configurable: true });
    } catch (e) {}
})();
`

// newStealthPage opens a tab with the go-rod/stealth evasions applied.
func newStealthPage(b *rod.Browser) (*rod.Page, error) {
	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("failed to open stealth page: %w", err)
	}

	if _, err := page.EvalOnNewDocument(localeScript); err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("failed to install locale script: %w", err)
	}

	return page, nil
}
