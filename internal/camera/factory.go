package camera

import (
	"fmt"

	"github.com/tphakala/feedercam/internal/conf"
	"github.com/tphakala/feedercam/internal/errors"
)

// New builds the camera selected by settings.Camera.Source.
func New(settings *conf.Settings) (Camera, error) {
	c := &settings.Camera

	switch c.Source {
	case conf.SourceTestPattern:
		return NewTestPattern(c.Width, c.Height, c.Quality, c.FPS), nil
	case conf.SourceDirectory:
		return NewDirectory(c.Directory, c.FPS)
	case conf.SourceExec:
		return NewExec(c.Command, c.Args, c.Timeout, settings.Stream.MaxFrameBytes), nil
	case conf.SourceHTTP:
		return NewHTTPSnapshot(c.URL, c.Timeout, settings.Stream.MaxFrameBytes), nil
	default:
		return nil, errors.New(fmt.Errorf("unknown camera source %q", c.Source)).
			Component("camera").
			Category(errors.CategoryConfiguration).
			Context("operation", "create_camera").
			Build()
	}
}
