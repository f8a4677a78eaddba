package utils

import (
	"context"

	"github.com/chromedp/chromedp"

	"github.com/Laza223/axxen-scraper-sub001/antidetect"
	"github.com/Laza223/axxen-scraper-sub001/config"
)

// AllocatorOptions builds the Chrome flags for one browser process from the
// Config and the fingerprint assigned to it.
func AllocatorOptions(cfg config.Config, fp antidetect.Fingerprint) []chromedp.ExecAllocatorOption {
	width, height := fp.Resolution.Width, fp.Resolution.Height
	if width == 0 || height == 0 {
		width, height = 1440, 900
	}
	userAgent := fp.UserAgent
	if cfg.UserAgent != "" {
		userAgent = cfg.UserAgent
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("lang", "es-AR"),
		chromedp.WindowSize(width, height),
	)
	if userAgent != "" {
		opts = append(opts, chromedp.UserAgent(userAgent))
	}
	if fp.Proxy != "" {
		opts = append(opts, chromedp.ProxyServer(fp.Proxy))
	}
	if cfg.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ChromePath))
	}
	return opts
}

// NewAllocator creates a Chrome exec allocator context for one browser process.
func NewAllocator(parent context.Context, cfg config.Config, fp antidetect.Fingerprint) (context.Context, context.CancelFunc) {
	return chromedp.NewExecAllocator(parent, AllocatorOptions(cfg, fp)...)
}
