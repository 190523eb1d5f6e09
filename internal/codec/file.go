package codec

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/seantiz/stepwise/internal/model"
)

// MaxFileSize bounds the plan documents ReadFile accepts.
const MaxFileSize = 16 << 20 // 16 MB

// WriteFile writes data to path atomically through a temporary file in the
// same directory. It returns when the write finishes or ctx is done,
// whichever comes first. Failures wrap model.ErrIO.
func WriteFile(ctx context.Context, path string, data []byte) error {
	return runIO(ctx, func() error {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%w: create directory: %v", model.ErrIO, err)
		}

		tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
		if err != nil {
			return fmt.Errorf("%w: create temp file: %v", model.ErrIO, err)
		}
		defer os.Remove(tmp.Name())

		if _, err := tmp.Write(data); err != nil {
			tmp.Close()
			return fmt.Errorf("%w: write %s: %v", model.ErrIO, path, err)
		}
		if err := tmp.Close(); err != nil {
			return fmt.Errorf("%w: close %s: %v", model.ErrIO, path, err)
		}
		if err := os.Rename(tmp.Name(), path); err != nil {
			return fmt.Errorf("%w: rename into %s: %v", model.ErrIO, path, err)
		}
		return nil
	})
}

// ReadFile reads at most MaxFileSize bytes from path, honoring ctx the same
// way WriteFile does. Oversized files wrap model.ErrInvalidFormat; every
// other failure wraps model.ErrIO.
func ReadFile(ctx context.Context, path string) ([]byte, error) {
	var data []byte
	err := runIO(ctx, func() error {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("%w: open %s: %v", model.ErrIO, path, err)
		}
		defer f.Close()

		data, err = io.ReadAll(io.LimitReader(f, MaxFileSize+1))
		if err != nil {
			return fmt.Errorf("%w: read %s: %v", model.ErrIO, path, err)
		}
		if len(data) > MaxFileSize {
			return fmt.Errorf("%w: %s exceeds %d bytes", model.ErrInvalidFormat, path, MaxFileSize)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// runIO runs fn on its own goroutine so a slow filesystem cannot hold the
// caller past its deadline. fn keeps running to completion after ctx is done;
// its result is discarded.
func runIO(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", model.ErrIO, err)
	}

	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", model.ErrIO, ctx.Err())
	}
}
