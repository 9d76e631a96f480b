package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/root4loot/siteseeing/internal/config"
	"github.com/root4loot/siteseeing/internal/log"
	"github.com/root4loot/siteseeing/pkg/queue"
	"github.com/root4loot/siteseeing/pkg/screener"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

// drainInterval is how often finished results are collected for the
// progress bar.
const drainInterval = 100 * time.Millisecond

func (c *cli) run(cmd *cobra.Command) error {
	cfg, err := config.Load(c.ConfigFile)
	if err != nil {
		return err
	}
	c.applyFlags(cmd.Flags(), cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := setupLogging(cfg); err != nil {
		return err
	}
	defer log.Close()
	log.SetOutput(cmd.ErrOrStderr())

	if c.SaveConfig {
		if err := cfg.Save(c.ConfigFile); err != nil {
			return err
		}
		log.Infof("Settings saved to %s", c.ConfigFile)
	}

	targets, err := c.readTargets()
	if err != nil {
		return err
	}

	s := newScreener(cfg)
	s.Debug = log.GetLevel() == log.DebugLevel
	if err := s.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.OutputDirectory, os.ModePerm); err != nil {
		return fmt.Errorf("error creating output folder: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b := batch{
		workers:  cfg.ParallelThreads,
		open:     s.OpenSession,
		retry:    c.Retry,
		progress: os.Stderr,
	}
	sum, err := b.run(ctx, targets)
	if err != nil {
		return err
	}

	log.Infof("Done: %d saved (%s), %d skipped, %d failed", sum.Saved, screener.FormatBytes(sum.Bytes), sum.Skipped, sum.Failed)
	if sum.Interrupted {
		log.Warnf("Interrupted with %d target(s) not captured", sum.Pending)
	}
	return nil
}

type batch struct {
	workers  int
	open     queue.SessionFactory[*screener.Result]
	retry    bool
	progress io.Writer
	options  []queue.Option
}

type summary struct {
	Saved       int
	Skipped     int
	Failed      int
	Retried     int
	Pending     int
	Bytes       int64
	Interrupted bool
}

// run captures every target with a pool of b.workers sessions and blocks
// until all are done or ctx is cancelled.
func (b batch) run(ctx context.Context, targets []string) (summary, error) {
	var sum summary

	m := queue.NewManager[*screener.Result](b.options...)
	if err := m.StartSessions(b.workers, b.open); err != nil {
		return sum, err
	}

	w := b.progress
	if w == nil {
		w = io.Discard
	}
	bar := newProgressBar(len(targets), w)

	handle := func(results []queue.Result[*screener.Result], retry bool) {
		for _, r := range results {
			switch {
			case !r.Success:
				if alt, ok := httpFallback(r.URL, r.Error); retry && ok {
					log.Debugf("HTTPS failed for %s: %s. Trying HTTP.", r.URL, r.Message())
					sum.Retried++
					bar.ChangeMax(bar.GetMax() + 1)
					m.EnqueueMany(alt)
					break
				}
				sum.Failed++
				log.Errorf("Error processing target %s: %s", r.URL, r.Message())
			case r.Value == nil:
				sum.Failed++
				log.Warnf("Screenshot capture failed for %s: no valid result", r.URL)
			case r.Value.Skipped != "":
				sum.Skipped++
				log.Debugf("Skipped %s: %s", r.URL, r.Value.Skipped)
			default:
				size := int64(len(r.Value.Image))
				sum.Saved++
				sum.Bytes += size
				if r.Value.Filename != "" {
					log.Resultf("Screenshot saved to %s (%s)", r.Value.Filename, screener.FormatBytes(size))
				}
			}
			bar.Add(1)
		}
	}

	m.EnqueueMany(targets...)

	ticker := time.NewTicker(drainInterval)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			sum.Interrupted = true
			log.Warn("Interrupted, stopping workers")
			break loop
		case <-ticker.C:
			// Results are pushed before the counter drops, so a zero read
			// here means the drain below sees every result.
			idle := m.Outstanding() == 0
			handle(m.DrainResults(), b.retry)
			if idle && m.Outstanding() == 0 {
				break loop
			}
		}
	}

	stopErr := m.Stop()
	handle(m.DrainResults(), false)
	sum.Pending = m.Size()
	bar.Finish()

	var timeoutErr *queue.ShutdownTimeoutError
	if errors.As(stopErr, &timeoutErr) {
		log.Warnf("%v", timeoutErr)
		stopErr = nil
	}
	return sum, stopErr
}

func newProgressBar(max int, w io.Writer) *progressbar.ProgressBar {
	return progressbar.NewOptions(max,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("Capturing"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

// httpFallback returns the http:// form of a failed https target when the
// failure could be caused by TLS rather than an unreachable host.
func httpFallback(target string, err error) (string, bool) {
	u, perr := url.Parse(target)
	if perr != nil || u.Scheme != "https" || !shouldRetryWithHTTP(err) {
		return "", false
	}
	u.Scheme = "http"
	return u.String(), true
}

func shouldRetryWithHTTP(err error) bool {
	if isDNSError(err) || isTimeoutError(err) {
		return false
	}
	return true
}

func isDNSError(err error) bool {
	if err == nil {
		return false
	}

	errMessage := getFullErrorMessage(err)
	return strings.Contains(errMessage, "net::ERR_NAME_NOT_RESOLVED") ||
		strings.Contains(errMessage, "no such host")
}

func isTimeoutError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	errMessage := getFullErrorMessage(err)
	return strings.Contains(errMessage, "context deadline exceeded") ||
		strings.Contains(errMessage, "timeout") ||
		strings.Contains(errMessage, "timed out")
}

func getFullErrorMessage(err error) string {
	var sb strings.Builder
	for err != nil {
		sb.WriteString(err.Error())
		err = errors.Unwrap(err)
		if err != nil {
			sb.WriteString(" | ")
		}
	}
	return sb.String()
}
