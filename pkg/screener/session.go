package screener

import (
	"fmt"

	"github.com/root4loot/siteseeing/internal/log"
)

// engine drives one browser. It is used by a single goroutine at a time.
type engine interface {
	capture(target string) (*pageCapture, error)
	close() error
}

func newEngine(o captureOptions) (engine, error) {
	var (
		e   engine
		err error
	)
	switch o.Engine {
	case "", EngineRod:
		e, err = newRodEngine(o)
	case EngineChromedp:
		e, err = newChromedpEngine(o)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, o.Engine)
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Session is a browser owned by one worker.
type Session struct {
	screener *Screener
	name     string
	engine   engine
}

// Capture loads target in the session's browser and processes the image.
func (s *Session) Capture(target string) (*Result, error) {
	log.Debugf("%s: attempting capture on %s", s.name, target)

	c, err := s.engine.capture(target)
	if err != nil {
		return nil, err
	}
	return s.screener.finish(target, c)
}

// Close shuts the browser down.
func (s *Session) Close() error {
	log.Debugf("%s: closing browser", s.name)
	return s.engine.close()
}
