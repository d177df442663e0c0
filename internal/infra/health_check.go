package infra

import (
	"context"
	"os"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// WatchExecutable reports when the running binary is replaced on disk, so
// the process can exit and let its supervisor start the new build. A
// non-positive interval disables the watch.
func WatchExecutable(ctx context.Context, interval time.Duration) <-chan struct{} {
	if interval <= 0 {
		return closed()
	}
	path, err := os.Executable()
	if err != nil {
		log.WithField("error", err.Error()).Warn("executable watch disabled")
		return closed()
	}
	ch, err := WatchFile(ctx, path, interval)
	if err != nil {
		log.WithField("error", err.Error()).Warn("executable watch disabled")
		return closed()
	}
	return ch
}

// WatchFile polls the modification time of path every interval. The returned
// channel receives one value when it changes and is closed afterwards, or
// when ctx ends.
func WatchFile(ctx context.Context, path string, interval time.Duration) (<-chan struct{}, error) {
	initial, err := modTime(path)
	if err != nil {
		return nil, err
	}

	ch := make(chan struct{}, 1)
	go func() {
		defer close(ch)
		entry := log.WithFields(log.Fields{"object": "FileWatch", "path": path})

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				current, err := modTime(path)
				if err != nil {
					entry.WithField("error", err.Error()).Debug("stat failed")
					continue
				}
				if !current.Equal(initial) {
					entry.Info("file changed")
					ch <- struct{}{}
					return
				}
			}
		}
	}()
	return ch, nil
}

func modTime(path string) (time.Time, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return time.Time{}, errors.WithMessage(err, "stat")
	}
	return stat.ModTime(), nil
}

func closed() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
