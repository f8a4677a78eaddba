package browser

import (
	"context"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Laza223/axxen-scraper-sub001/antidetect"
	"github.com/Laza223/axxen-scraper-sub001/config"
	"github.com/Laza223/axxen-scraper-sub001/logging"
)

func chromeBinary(t *testing.T) string {
	t.Helper()
	if p := os.Getenv("CHROME_PATH"); p != "" {
		return p
	}
	for _, name := range []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser"} {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	t.Skip("no Chrome binary available")
	return ""
}

func TestChromePageKeepsWorkingAfterSetup(t *testing.T) {
	cfg := config.Config{Headless: true, ChromePath: chromeBinary(t)}
	launcher := NewChromeLauncher(cfg, logging.Discard())

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	proc, err := launcher.Launch(ctx, antidetect.Fingerprint{UserAgent: "leadcrawl-test"})
	require.NoError(t, err)
	defer proc.Close()

	// A short-lived setup context must not tie the tab's lifetime to it.
	setupCtx, cancelSetup := context.WithTimeout(ctx, 20*time.Second)
	pg, err := proc.NewPage(setupCtx, antidetect.Fingerprint{UserAgent: "leadcrawl-test"})
	cancelSetup()
	require.NoError(t, err)
	defer pg.Close()

	chromePg := pg.(*chromePage)
	require.NotNil(t, chromedp.FromContext(chromePg.tabCtx).Target, "target is attached to the tab context")

	for i := 0; i < 2; i++ {
		runCtx, cancelRun := context.WithTimeout(ctx, 10*time.Second)
		var ua string
		err := pg.Run(runCtx,
			chromedp.Navigate("about:blank"),
			chromedp.Evaluate(`navigator.userAgent`, &ua),
		)
		cancelRun()
		require.NoError(t, err, "run %d", i)
		assert.Equal(t, "leadcrawl-test", ua)
	}
}
