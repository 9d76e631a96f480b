package screener

import (
	"errors"
	"fmt"
	"image"
	"net/url"
	"slices"
	"time"

	"github.com/root4loot/siteseeing/internal/log"
	"github.com/root4loot/siteseeing/pkg/queue"
)

const (
	EngineRod      = "rod"
	EngineChromedp = "chromedp"

	FormatPNG  = "png"
	FormatJPEG = "jpeg"
)

// ErrUnknownEngine is returned when CaptureOptions.Engine names no known
// browser driver.
var ErrUnknownEngine = errors.New("unknown browser engine")

type Screener struct {
	Debug          bool
	CaptureOptions captureOptions
	OutputOptions  outputOptions

	dedupe    *Deduper
	now       func() time.Time
	newEngine func(captureOptions) (engine, error)
}

// Result contains the result of a screenshot capture.
type Result struct {
	TargetURL  string
	LandingURL string
	Image      Image
	Format     string
	Width      int
	Height     int
	StatusCode int
	Filename   string // set once the image is written to disk
	Skipped    string // reason the image was not kept, if any
}

type Image []byte

// captureOptions contains the options for capturing screenshots.
type captureOptions struct {
	Engine                   string  // Browser driver: rod or chromedp
	CaptureHeight            int     // Height of the capture
	CaptureWidth             int     // Width of the capture
	CaptureFull              bool    // Take a full-page screenshot
	Zoom                     float64 // Page zoom factor
	Timeout                  int     // Timeout for each capture (seconds)
	RespectCertificateErrors bool    // Respect certificate errors
	UseHTTP2                 bool    // Use HTTP2
	UserAgent                string  // User agent
	DelayBeforeCapture       int     // Delay after page load (seconds)
	ScrollDelay              int     // Delay after each scroll in full-page mode (milliseconds)
	IgnoreStatusCodes        []int   // Status codes to ignore
}

// outputOptions controls what happens to a capture once it is taken.
type outputOptions struct {
	Folder          string // Folder images are written to
	Format          string // png or jpeg
	Quality         int    // JPEG quality (1-100)
	Save            bool   // Write images to Folder
	Imprint         bool   // Add the origin URL below the image
	AvoidDuplicates bool   // Drop captures identical to an earlier one
}

// NewOptions returns an CaptureOptions struct initialized with default values.
func NewOptions() captureOptions {
	return captureOptions{
		Engine:                   EngineRod,
		CaptureHeight:            1080,
		CaptureWidth:             1920,
		CaptureFull:              false,
		Zoom:                     1.0,
		Timeout:                  30,
		RespectCertificateErrors: false,
		UseHTTP2:                 false,
		DelayBeforeCapture:       2,
		ScrollDelay:              500,
		UserAgent:                "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/129.0.0.0 Safari/537.36",
	}
}

// NewOutputOptions returns the default output options.
func NewOutputOptions() outputOptions {
	return outputOptions{
		Folder:  "./screenshots",
		Format:  FormatPNG,
		Quality: 85,
		Save:    true,
	}
}

// NewScreener creates a Screener with default options.
func NewScreener() *Screener {
	return NewScreenerWithOptions(NewOptions(), NewOutputOptions())
}

// NewScreenerWithOptions creates a Screener with the provided options.
func NewScreenerWithOptions(options captureOptions, output outputOptions) *Screener {
	return &Screener{
		CaptureOptions: options,
		OutputOptions:  output,
		dedupe:         NewDeduper(),
		now:            time.Now,
		newEngine:      newEngine,
	}
}

// SetDebug enables or disables debug mode.
func (s *Screener) SetDebug(debug bool) {
	s.Debug = debug
	if debug {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}
}

func Init() {
	log.Init("siteseeing")
	log.SetLevel(log.InfoLevel)
}

// Validate checks the options before any browser is started.
func (s *Screener) Validate() error {
	o := s.CaptureOptions
	switch o.Engine {
	case EngineRod, EngineChromedp:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEngine, o.Engine)
	}
	if o.CaptureWidth <= 0 || o.CaptureHeight <= 0 {
		return fmt.Errorf("capture size must be positive, got %dx%d", o.CaptureWidth, o.CaptureHeight)
	}
	if o.Zoom <= 0 {
		return fmt.Errorf("zoom must be positive, got %v", o.Zoom)
	}
	switch s.OutputOptions.Format {
	case FormatPNG, FormatJPEG:
	default:
		return fmt.Errorf("unsupported output format %q", s.OutputOptions.Format)
	}
	if s.OutputOptions.Format == FormatJPEG && (s.OutputOptions.Quality < 1 || s.OutputOptions.Quality > 100) {
		return fmt.Errorf("jpeg quality must be between 1 and 100, got %d", s.OutputOptions.Quality)
	}
	return nil
}

// OpenSession starts a browser for one worker. It has the shape of a
// queue.SessionFactory so every worker in a pool drives its own browser.
func (s *Screener) OpenSession(worker string) (queue.Session[*Result], error) {
	eng, err := s.newEngine(s.CaptureOptions)
	if err != nil {
		return nil, err
	}
	log.Debugf("%s: browser ready (%s)", worker, s.CaptureOptions.Engine)
	return &Session{screener: s, name: worker, engine: eng}, nil
}

// CaptureScreenshot takes a screenshot of the provided URL with a
// short-lived browser and returns the result.
func (s *Screener) CaptureScreenshot(parsedURL *url.URL) (*Result, error) {
	session, err := s.OpenSession("single")
	if err != nil {
		return nil, err
	}
	defer session.Close()

	return session.Capture(parsedURL.String())
}

// pageCapture is what a browser engine hands back for one URL.
type pageCapture struct {
	image      image.Image
	landingURL string
	statusCode int
}

// finish turns a raw capture into a Result: status filtering, imprint,
// duplicate check, encoding and saving.
func (s *Screener) finish(target string, c *pageCapture) (*Result, error) {
	result := &Result{
		TargetURL:  target,
		LandingURL: c.landingURL,
		StatusCode: c.statusCode,
		Format:     s.OutputOptions.Format,
	}

	if slices.Contains(s.CaptureOptions.IgnoreStatusCodes, c.statusCode) {
		log.Warnf("Ignoring %s as it returned status code %d", target, c.statusCode)
		result.Skipped = fmt.Sprintf("status code %d", c.statusCode)
		return result, nil
	}

	if s.OutputOptions.AvoidDuplicates && !s.dedupe.Unique(c.image) {
		log.Infof("Duplicate screenshot found for %s. Skipping save.", target)
		result.Skipped = "duplicate"
		return result, nil
	}

	img := c.image
	if s.OutputOptions.Imprint {
		origin, err := Origin(target)
		if err != nil {
			return nil, fmt.Errorf("error processing result URL %s: %w", target, err)
		}
		img, err = Imprint(img, origin)
		if err != nil {
			return nil, fmt.Errorf("error adding text to image for %s: %w", origin, err)
		}
	}

	encoded, err := Encode(img, s.OutputOptions.Format, s.OutputOptions.Quality)
	if err != nil {
		return nil, fmt.Errorf("error encoding screenshot for %s: %w", target, err)
	}
	result.Image = encoded
	result.Width = img.Bounds().Dx()
	result.Height = img.Bounds().Dy()

	if s.OutputOptions.Save {
		fn, err := result.SaveImageToFolder(s.OutputOptions.Folder, s.now())
		if err != nil {
			return nil, fmt.Errorf("error saving screenshot for %s: %w", target, err)
		}
		result.Filename = fn
	}
	return result, nil
}

func (o captureOptions) timeout() time.Duration {
	if o.Timeout <= 0 {
		return 30 * time.Second
	}
	return time.Duration(o.Timeout) * time.Second
}

func (o captureOptions) delayBeforeCapture() time.Duration {
	return time.Duration(o.DelayBeforeCapture) * time.Second
}

func (o captureOptions) scrollDelay() time.Duration {
	return time.Duration(o.ScrollDelay) * time.Millisecond
}
