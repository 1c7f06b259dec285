package capture

import (
	"fmt"
	"time"

	pw "github.com/playwright-community/playwright-go"
)

// Navigate drives the page to targetURL and waits for the network to go
// idle, so requests triggered by the load reach a terminal lifecycle
// event while the capture session is still recording.
func Navigate(page pw.Page, targetURL string, timeout time.Duration) error {

	// -------------------------------------------
	// NAVIGATION
	// -------------------------------------------
	_, err := page.Goto(targetURL, pw.PageGotoOptions{
		WaitUntil: pw.WaitUntilStateNetworkidle,
		Timeout:   pw.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		return fmt.Errorf("goto failed: %w", err)
	}

	// -------------------------------------------
	// WAIT FOR NETWORKIDLE (late XHR / beacons)
	// -------------------------------------------
	err = page.WaitForLoadState(
		pw.PageWaitForLoadStateOptions{
			State: pw.LoadStateNetworkidle,
		})
	if err != nil {
		return fmt.Errorf("wait for network idle failed: %w", err)
	}

	return nil
}
