package screener

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"sync"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/root4loot/siteseeing/internal/log"
	"github.com/root4loot/siteseeing/pkg/stitch"
)

type chromedpEngine struct {
	opts            captureOptions
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc
}

func newChromedpEngine(o captureOptions) (*chromedpEngine, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("ignore-certificate-errors", !o.RespectCertificateErrors),
		chromedp.Flag("disable-http2", !o.UseHTTP2),
		chromedp.WindowSize(o.CaptureWidth, o.CaptureHeight),
	)

	if o.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(o.UserAgent))
	}

	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocatorCancel()
		return nil, fmt.Errorf("error launching browser: %w", err)
	}

	return &chromedpEngine{
		opts:            o,
		allocatorCancel: allocatorCancel,
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
	}, nil
}

// documentStatus records the status of the first document response in a tab.
type documentStatus struct {
	once sync.Once
	code int
}

func (e *chromedpEngine) capture(target string) (*pageCapture, error) {
	o := e.opts

	tabCtx, cancelTab := chromedp.NewContext(e.browserCtx)
	defer cancelTab()

	ctx, cancel := context.WithTimeout(tabCtx, o.timeout())
	defer cancel()

	status := &documentStatus{}
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		resp, ok := ev.(*network.EventResponseReceived)
		if !ok || resp.Type != network.ResourceTypeDocument {
			return
		}
		status.once.Do(func() {
			status.code = int(resp.Response.Status)
		})
	})

	c := &pageCapture{}
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(o.CaptureWidth), int64(o.CaptureHeight)),
	}
	if err := chromedp.Run(ctx, tasks); err != nil {
		return nil, fmt.Errorf("error setting viewport: %w", err)
	}

	resp, err := chromedp.RunResponse(ctx, chromedp.Navigate(target))
	if err != nil {
		return nil, fmt.Errorf("error navigating to %s: %w", target, err)
	}
	if resp != nil {
		c.statusCode = int(resp.Status)
	}

	after := chromedp.Tasks{
		chromedp.Sleep(o.delayBeforeCapture()),
	}
	if o.Zoom != 1.0 {
		after = append(after, chromedp.Evaluate(fmt.Sprintf(`document.body.style.zoom = "%v"`, o.Zoom), nil))
	}
	after = append(after, chromedp.Location(&c.landingURL))
	if err := chromedp.Run(ctx, after); err != nil {
		return nil, fmt.Errorf("%s timed out after %v: %w", target, o.timeout(), err)
	}

	if c.statusCode == 0 {
		c.statusCode = status.code
	}

	if o.CaptureFull {
		c.image, err = e.fullPage(ctx)
	} else {
		c.image, err = chromedpShot(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("error capturing screenshot for %s: %w", target, err)
	}
	return c, nil
}

func (e *chromedpEngine) fullPage(ctx context.Context) (image.Image, error) {
	var total, viewport int
	err := chromedp.Run(ctx,
		chromedp.Evaluate(`document.body.scrollHeight`, &total),
		chromedp.Evaluate(`window.innerHeight`, &viewport),
	)
	if err != nil {
		return nil, err
	}

	g := stitch.Geometry{
		ViewportWidth:  e.opts.CaptureWidth,
		ViewportHeight: viewport,
		TotalHeight:    total,
	}
	log.Debugf("Full page capture: %d shot(s) for height %d", g.ShotCount(), total)

	canvas, err := stitch.Capture(g, func(_, y int) (image.Image, error) {
		err := chromedp.Run(ctx,
			chromedp.Evaluate(fmt.Sprintf(`window.scrollTo(0, %d)`, y), nil),
			chromedp.Sleep(e.opts.scrollDelay()),
		)
		if err != nil {
			return nil, err
		}
		return chromedpShot(ctx)
	})
	if err != nil {
		return nil, err
	}
	return canvas, nil
}

func (e *chromedpEngine) close() error {
	e.browserCancel()
	e.allocatorCancel()
	return nil
}

func chromedpShot(ctx context.Context) (image.Image, error) {
	var buf []byte
	if err := chromedp.Run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	return png.Decode(bytes.NewReader(buf))
}
