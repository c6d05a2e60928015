// Package browser drives the target site through chromedp: allocator options with
// anti-bot-detection measures, a Page abstraction, and the ActionLocator and
// NavigationGuard built on it.
package browser

import "github.com/chromedp/chromedp"

// DefaultUserAgent is a realistic Chrome user agent
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// LaunchOptions configures a browser process.
type LaunchOptions struct {
	Headless  bool
	UserAgent string
	Locale    string
	Timezone  string
}

// Options returns chromedp allocator options with anti-bot-detection measures.
// All browser instances should use this to ensure consistent stealth configuration.
func Options(lo LaunchOptions) []chromedp.ExecAllocatorOption {
	ua := lo.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", lo.Headless),

		// Prevent navigator.webdriver = true detection
		chromedp.Flag("disable-blink-features", "AutomationControlled"),

		chromedp.UserAgent(ua),
		chromedp.WindowSize(1920, 1080),

		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-default-apps", true),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
	)

	if lo.Locale != "" {
		opts = append(opts, chromedp.Flag("lang", lo.Locale))
	}
	if lo.Headless {
		opts = append(opts, chromedp.Flag("disable-gpu", true))
	}

	return opts
}
