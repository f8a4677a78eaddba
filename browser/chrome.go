package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/sirupsen/logrus"

	"github.com/Laza223/axxen-scraper-sub001/antidetect"
	"github.com/Laza223/axxen-scraper-sub001/config"
	"github.com/Laza223/axxen-scraper-sub001/utils"
)

// stealthScript hides the most common automation tells before any page
// script runs.
const stealthScript = `
Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
Object.defineProperty(navigator, 'languages', { get: () => ['es-AR', 'es', 'en'] });
Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3, 4, 5] });
window.chrome = window.chrome || { runtime: {} };
`

// ChromeLauncher starts headless Chrome processes through chromedp.
type ChromeLauncher struct {
	cfg    config.Config
	logger *logrus.Logger
}

// NewChromeLauncher creates a launcher using cfg's browser settings.
func NewChromeLauncher(cfg config.Config, logger *logrus.Logger) *ChromeLauncher {
	return &ChromeLauncher{cfg: cfg, logger: logger}
}

// Launch starts one browser process with fp's flags.
func (l *ChromeLauncher) Launch(ctx context.Context, fp antidetect.Fingerprint) (Process, error) {
	// The process outlives the request that caused it to launch.
	allocCtx, cancelAlloc := utils.NewAllocator(context.Background(), l.cfg, fp)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(l.logger.Debugf),
		chromedp.WithErrorf(l.logger.Debugf),
	)

	started := make(chan error, 1)
	go func() { started <- chromedp.Run(browserCtx) }()
	select {
	case err := <-started:
		if err != nil {
			cancelBrowser()
			cancelAlloc()
			return nil, fmt.Errorf("start chrome: %w", err)
		}
	case <-ctx.Done():
		cancelBrowser()
		cancelAlloc()
		return nil, ctx.Err()
	}

	return &chromeProcess{
		browserCtx:    browserCtx,
		cancelBrowser: cancelBrowser,
		cancelAlloc:   cancelAlloc,
	}, nil
}

type chromeProcess struct {
	browserCtx    context.Context
	cancelBrowser context.CancelFunc
	cancelAlloc   context.CancelFunc
	once          sync.Once
}

// NewPage opens a tab and applies the fingerprint overrides to it.
func (p *chromeProcess) NewPage(ctx context.Context, fp antidetect.Fingerprint) (Page, error) {
	tabCtx, cancelTab := chromedp.NewContext(p.browserCtx)
	pg := &chromePage{tabCtx: tabCtx, cancel: cancelTab}

	// The first Run binds the target's event loop to the context it is given,
	// so it must be the tab context itself. Later runs use derived contexts.
	stop := context.AfterFunc(ctx, cancelTab)
	err := chromedp.Run(tabCtx)
	stop()
	if err != nil {
		_ = pg.Close()
		return nil, fmt.Errorf("open tab: %w", err)
	}
	if err := pg.Run(ctx, fingerprintActions(fp)...); err != nil {
		_ = pg.Close()
		return nil, fmt.Errorf("apply fingerprint: %w", err)
	}
	return pg, nil
}

func (p *chromeProcess) Close() error {
	p.once.Do(func() {
		if err := chromedp.Cancel(p.browserCtx); err != nil {
			p.cancelBrowser()
		}
		p.cancelAlloc()
	})
	return nil
}

type chromePage struct {
	tabCtx context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// Run executes actions on the tab, bounded by ctx's deadline and
// cancellation.
func (p *chromePage) Run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.tabCtx)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func (p *chromePage) Close() error {
	var err error
	p.once.Do(func() {
		err = chromedp.Cancel(p.tabCtx)
		p.cancel()
	})
	return err
}

func fingerprintActions(fp antidetect.Fingerprint) []chromedp.Action {
	headers := network.Headers{}
	for k, v := range fp.Headers {
		headers[k] = v
	}
	lang := fp.Headers["Accept-Language"]

	actions := []chromedp.Action{
		network.Enable(),
		network.SetExtraHTTPHeaders(headers),
		emulation.SetAutomationOverride(false),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx)
			return err
		}),
	}
	if fp.UserAgent != "" {
		override := emulation.SetUserAgentOverride(fp.UserAgent).WithPlatform(fp.Platform)
		if lang != "" {
			override = override.WithAcceptLanguage(strings.Split(lang, ";")[0])
		}
		actions = append(actions, override)
	}
	if fp.Resolution.Width > 0 && fp.Resolution.Height > 0 {
		actions = append(actions, emulation.SetDeviceMetricsOverride(int64(fp.Resolution.Width), int64(fp.Resolution.Height), 1, false))
	}
	return actions
}
