// Package snapshot implements the snapshot command.
package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/feedercam/internal/camera"
	"github.com/tphakala/feedercam/internal/conf"
	"github.com/tphakala/feedercam/internal/errors"
	"github.com/tphakala/feedercam/internal/logger"
)

const defaultTimeout = 10 * time.Second

// Command creates the snapshot command.
func Command(settings *conf.Settings) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Capture one frame from the camera into a file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := Capture(cmd.Context(), settings, output)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d bytes to %s\n", n, output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "snapshot.jpg", "File to write the JPEG to")
	return cmd
}

// Capture acquires a single frame from the configured camera and writes it
// to path. It returns the number of bytes written.
func Capture(ctx context.Context, settings *conf.Settings, path string) (int, error) {
	log := logger.Global().Module("snapshot")

	cam, err := camera.New(settings)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err := cam.Close(); err != nil {
			log.Warn("camera close failed", logger.Error(err))
		}
	}()

	timeout := settings.Camera.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	frame, err := cam.Acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer cam.Release(frame)

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, fileError(err, path)
		}
	}
	if err := os.WriteFile(path, frame.Data, 0o644); err != nil {
		return 0, fileError(err, path)
	}

	log.Info("snapshot written",
		logger.String("camera", cam.Name()),
		logger.String("path", path),
		logger.Int("bytes", len(frame.Data)))
	return len(frame.Data), nil
}

func fileError(err error, path string) error {
	return errors.New(err).
		Component("snapshot").
		Category(errors.CategoryFileIO).
		Context("operation", "write_snapshot").
		Context("path", path).
		Build()
}
