package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/root4loot/siteseeing/internal/config"
	"github.com/root4loot/siteseeing/internal/log"
	"github.com/root4loot/siteseeing/pkg/screener"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const (
	author  = "@danielantonsen"
	version = "0.2.0"
)

type cli struct {
	TargetURL   string
	Infile      string
	ConfigFile  string
	SaveConfig  bool
	Retry       bool
	Debug       bool
	Concurrency int

	// flag values; copied onto the loaded config when set
	OutputDirectory          string
	CaptureWidth             int
	CaptureHeight            int
	CaptureFull              bool
	Format                   string
	Quality                  int
	Zoom                     float64
	Engine                   string
	Timeout                  int
	DelayBeforeCapture       int
	UserAgent                string
	UseHTTP2                 bool
	RespectCertificateErrors bool
	IgnoreStatusCodes        []int
	Imprint                  bool
	AvoidDuplicates          bool

	stdin io.Reader
}

func init() {
	log.Init("siteseeing")
}

func main() {
	if err := newRootCmd(&cli{stdin: os.Stdin}).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(c *cli) *cobra.Command {
	defaults := config.Default()

	cmd := &cobra.Command{
		Use:   "siteseeing [flags] (-t <target> | -l <targets.txt>)",
		Short: "Capture screenshots of many websites in parallel",
		Long: `siteseeing captures viewport or full-page screenshots of websites
with a pool of headless browsers, one per worker.

Targets come from -t (comma separated), -l (one per line) or stdin.
Lines starting with # are ignored and https:// is added when missing.

by ` + author,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.run(cmd); err != nil {
				log.Error(err)
				return err
			}
			return nil
		},
	}

	f := cmd.Flags()

	// INPUT
	f.StringVarP(&c.TargetURL, "target", "t", "", "target input (domain, URL), comma separated")
	f.StringVarP(&c.Infile, "list", "l", "", "input file with list of targets (one per line)")

	// CONFIGURATIONS
	f.StringVar(&c.ConfigFile, "config", config.DefaultFile, "settings file")
	f.BoolVar(&c.SaveConfig, "save-config", false, "write the effective settings back to the settings file")
	f.IntVarP(&c.Concurrency, "concurrency", "c", defaults.ParallelThreads, "number of workers, each with its own browser")
	f.StringVar(&c.Engine, "engine", defaults.Engine, "browser driver (rod|chromedp)")
	f.IntVar(&c.CaptureWidth, "capture-width", defaults.ViewportWidth, "viewport width")
	f.IntVar(&c.CaptureHeight, "capture-height", defaults.ViewportHeight, "viewport height")
	f.BoolVar(&c.CaptureFull, "capture-full", false, "capture the entire page by scrolling and stitching")
	f.Float64Var(&c.Zoom, "zoom", defaults.ZoomLevel, "page zoom (0.5-2.0)")
	f.IntVar(&c.Timeout, "timeout", defaults.Timeout, "capture timeout (seconds)")
	f.IntVar(&c.DelayBeforeCapture, "delay-capture", defaults.DelayBeforeCapture, "delay after page load (seconds)")
	f.StringVar(&c.UserAgent, "user-agent", "", "user agent (default Chrome UA)")
	f.BoolVar(&c.UseHTTP2, "use-http2", false, "use HTTP2")
	f.BoolVar(&c.RespectCertificateErrors, "respect-cert-err", false, "respect certificate errors")
	f.IntSliceVar(&c.IgnoreStatusCodes, "ignore-status-codes", nil, "ignore specific status codes (comma separated)")
	f.BoolVar(&c.AvoidDuplicates, "avoid-duplicates", false, "do not save identical screenshots twice")
	f.BoolVar(&c.Retry, "retry", false, "retry failed https targets once over http")

	// OUTPUT
	f.StringVarP(&c.OutputDirectory, "outfolder", "o", defaults.OutputDirectory, "save outputs to specified folder")
	f.StringVar(&c.Format, "format", defaults.OutputFormat, "image format (png|jpeg)")
	f.IntVar(&c.Quality, "quality", defaults.JPEGQuality, "jpeg quality (1-100)")
	f.BoolVar(&c.Imprint, "imprint", false, "add the target origin below each image")
	f.BoolVar(&c.Debug, "debug", false, "enable debug mode")

	return cmd
}

// applyFlags copies every flag the user set onto cfg. Unset flags keep the
// value from the settings file.
func (c *cli) applyFlags(flags *pflag.FlagSet, cfg *config.Config) {
	set := func(name string, apply func()) {
		if flags.Changed(name) {
			apply()
		}
	}

	set("concurrency", func() { cfg.ParallelThreads = c.Concurrency })
	set("engine", func() { cfg.Engine = c.Engine })
	set("capture-width", func() { cfg.ViewportWidth = c.CaptureWidth })
	set("capture-height", func() { cfg.ViewportHeight = c.CaptureHeight })
	set("capture-full", func() {
		cfg.ShotType = config.ShotViewport
		if c.CaptureFull {
			cfg.ShotType = config.ShotFullPage
		}
	})
	set("zoom", func() { cfg.ZoomLevel = c.Zoom })
	set("timeout", func() { cfg.Timeout = c.Timeout })
	set("delay-capture", func() { cfg.DelayBeforeCapture = c.DelayBeforeCapture })
	set("user-agent", func() { cfg.UserAgent = c.UserAgent })
	set("use-http2", func() { cfg.UseHTTP2 = c.UseHTTP2 })
	set("respect-cert-err", func() { cfg.RespectCertificateErrors = c.RespectCertificateErrors })
	set("ignore-status-codes", func() { cfg.IgnoreStatusCodes = c.IgnoreStatusCodes })
	set("avoid-duplicates", func() { cfg.AvoidDuplicates = c.AvoidDuplicates })
	set("outfolder", func() { cfg.OutputDirectory = c.OutputDirectory })
	set("format", func() { cfg.OutputFormat = c.Format })
	set("quality", func() { cfg.JPEGQuality = c.Quality })
	set("imprint", func() { cfg.Imprint = c.Imprint })
	set("debug", func() {
		if c.Debug {
			cfg.Logging.Level = "debug"
		}
	})
}

// newScreener maps the settings onto capture and output options.
func newScreener(cfg *config.Config) *screener.Screener {
	options := screener.NewOptions()
	options.Engine = cfg.Engine
	options.CaptureWidth = cfg.ViewportWidth
	options.CaptureHeight = cfg.ViewportHeight
	options.CaptureFull = cfg.ShotType == config.ShotFullPage
	options.Zoom = cfg.ZoomLevel
	options.Timeout = cfg.Timeout
	options.DelayBeforeCapture = cfg.DelayBeforeCapture
	options.ScrollDelay = cfg.ScrollDelay
	options.RespectCertificateErrors = cfg.RespectCertificateErrors
	options.UseHTTP2 = cfg.UseHTTP2
	options.IgnoreStatusCodes = cfg.IgnoreStatusCodes
	if cfg.UserAgent != "" {
		options.UserAgent = cfg.UserAgent
	}

	output := screener.NewOutputOptions()
	output.Folder = cfg.OutputDirectory
	output.Format = cfg.OutputFormat
	output.Quality = cfg.JPEGQuality
	output.Imprint = cfg.Imprint
	output.AvoidDuplicates = cfg.AvoidDuplicates

	return screener.NewScreenerWithOptions(options, output)
}

func setupLogging(cfg *config.Config) error {
	level, err := log.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	log.SetLevel(level)

	if !cfg.Logging.File {
		return nil
	}
	fc := log.DefaultFileConfig()
	fc.Dir = cfg.Logging.LogDir
	fc.MaxSize = cfg.Logging.Rotation.MaxSize
	fc.MaxBackups = cfg.Logging.Rotation.MaxBackups
	fc.MaxAge = cfg.Logging.Rotation.MaxAge
	fc.Compress = cfg.Logging.Rotation.Compress
	return log.EnableFile(fc)
}

// readTargets collects targets from stdin, the list file and -t, in that
// order.
func (c *cli) readTargets() ([]string, error) {
	var sb strings.Builder

	if c.hasStdin() {
		scanner := bufio.NewScanner(c.stdin)
		for scanner.Scan() {
			for _, target := range strings.Fields(scanner.Text()) {
				sb.WriteString(target + "\n")
			}
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("error reading from stdin: %w", err)
		}
	}

	if c.hasInfile() {
		data, err := os.ReadFile(c.Infile)
		if err != nil {
			return nil, fmt.Errorf("error reading file: %w", err)
		}
		sb.Write(data)
		sb.WriteString("\n")
	}

	if c.hasTarget() {
		for _, target := range strings.Split(c.TargetURL, ",") {
			sb.WriteString(target + "\n")
		}
	}

	valid, invalid := screener.ParseTargets(sb.String())
	for _, target := range invalid {
		log.Warnf("Skipping invalid target %q", target)
	}
	if len(valid) == 0 {
		return nil, errors.New("no target specified")
	}
	return valid, nil
}

// hasStdin determines if the user has piped input
func (c *cli) hasStdin() bool {
	if c.stdin == nil {
		return false
	}
	f, ok := c.stdin.(*os.File)
	if !ok {
		return true
	}

	stat, err := f.Stat()
	if err != nil {
		return false
	}

	mode := stat.Mode()

	isPipedFromChrDev := (mode & os.ModeCharDevice) == 0
	isPipedFromFIFO := (mode & os.ModeNamedPipe) != 0

	return isPipedFromChrDev || isPipedFromFIFO
}

// hasTarget determines if the user has provided a target
func (c *cli) hasTarget() bool {
	return c.TargetURL != ""
}

// hasInfile determines if the user has provided an input file
func (c *cli) hasInfile() bool {
	return c.Infile != ""
}
