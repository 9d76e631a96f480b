package screener

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/root4loot/siteseeing/internal/log"
	"github.com/root4loot/siteseeing/pkg/stitch"
)

type rodEngine struct {
	opts     captureOptions
	launcher *launcher.Launcher
	browser  *rod.Browser
}

func newRodEngine(o captureOptions) (*rodEngine, error) {
	path, _ := launcher.LookPath()

	l := launcher.New().
		Headless(true).
		Bin(path).
		NoSandbox(true)

	if o.UserAgent != "" {
		l.Set("user-agent", o.UserAgent)
	}

	if !o.RespectCertificateErrors {
		l.Set("ignore-certificate-errors", "true")
	}

	if !o.UseHTTP2 {
		l.Set("disable-http2", "true")
	}

	l.Set("hide-scrollbars")

	browserURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("error launching browser: %w", err)
	}

	browser := rod.New().ControlURL(browserURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("error connecting to browser: %w", err)
	}

	return &rodEngine{opts: o, launcher: l, browser: browser}, nil
}

func (e *rodEngine) capture(target string) (*pageCapture, error) {
	o := e.opts
	ctx, cancel := context.WithTimeout(context.Background(), o.timeout())
	defer cancel()

	page, err := e.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("error opening tab: %w", err)
	}
	defer page.Close()
	page = page.Context(ctx)

	viewport := &proto.EmulationSetDeviceMetricsOverride{
		Width:             o.CaptureWidth,
		Height:            o.CaptureHeight,
		DeviceScaleFactor: 1,
		Mobile:            false,
	}
	if err := page.SetViewport(viewport); err != nil {
		return nil, fmt.Errorf("error setting viewport: %w", err)
	}

	status := 0
	wait := page.EachEvent(func(ev *proto.NetworkResponseReceived) bool {
		code, ok := rodDocumentStatus(ev)
		if ok {
			status = code
		}
		return ok
	})

	if err := page.Navigate(target); err != nil {
		return nil, fmt.Errorf("error navigating to %s: %w", target, err)
	}

	wait()

	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("%s timed out after %v: %w", target, o.timeout(), err)
	}

	if d := o.delayBeforeCapture(); d > 0 {
		time.Sleep(d)
	}

	if o.Zoom != 1.0 {
		if _, err := page.Eval(`(z) => { document.body.style.zoom = String(z) }`, o.Zoom); err != nil {
			log.Warnf("Could not apply zoom on %s: %v", target, err)
		}
	}

	info, err := page.Info()
	if err != nil {
		return nil, fmt.Errorf("error reading page info for %s: %w", target, err)
	}

	c := &pageCapture{landingURL: info.URL, statusCode: status}

	if o.CaptureFull {
		c.image, err = e.fullPage(page)
	} else {
		c.image, err = rodShot(page)
	}
	if err != nil {
		return nil, fmt.Errorf("error capturing screenshot for %s: %w", target, err)
	}
	return c, nil
}

// fullPage scrolls through the page one viewport at a time and stitches the
// shots together.
func (e *rodEngine) fullPage(page *rod.Page) (image.Image, error) {
	total, err := rodEvalInt(page, `() => document.body.scrollHeight`)
	if err != nil {
		return nil, err
	}
	viewport, err := rodEvalInt(page, `() => window.innerHeight`)
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
		if _, err := page.Eval(`(y) => window.scrollTo(0, y)`, y); err != nil {
			return nil, err
		}
		time.Sleep(e.opts.scrollDelay())
		return rodShot(page)
	})
	if err != nil {
		return nil, err
	}
	return canvas, nil
}

func (e *rodEngine) close() error {
	err := e.browser.Close()
	e.launcher.Kill()
	return err
}

func rodShot(page *rod.Page) (image.Image, error) {
	data, err := page.Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, err
	}
	return png.Decode(bytes.NewReader(data))
}

// rodDocumentStatus reports the status of a document response and skips
// every other resource type.
func rodDocumentStatus(ev *proto.NetworkResponseReceived) (int, bool) {
	if ev.Type != proto.NetworkResourceTypeDocument || ev.Response == nil {
		return 0, false
	}
	return ev.Response.Status, true
}

func rodEvalInt(page *rod.Page, js string) (int, error) {
	obj, err := page.Eval(js)
	if err != nil {
		return 0, err
	}
	return obj.Value.Int(), nil
}
