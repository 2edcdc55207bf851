package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/sirupsen/logrus"
)

// Recording file naming
const (
	recordingPrefix = "flight_"
	recordingExt    = ".mpk"
	compressedExt   = ".zst"
)

// Rotator writes recordings into one file per day. When the day changes
// the previous file is compressed with zstd in the background.
type Rotator struct {
	dir         string
	useUTC      bool
	logger      *logrus.Logger
	now         func() time.Time
	currentFile *os.File
	currentDate string
	mutex       sync.Mutex
	compressing sync.WaitGroup
}

// NewRotator creates a rotator writing into dir, creating it if needed.
func NewRotator(dir string, useUTC bool, logger *logrus.Logger) (*Rotator, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create recording directory: %w", err)
	}

	r := &Rotator{
		dir:    dir,
		useUTC: useUTC,
		logger: logger,
		now:    time.Now,
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()
	if err := r.rotate(); err != nil {
		return nil, fmt.Errorf("failed to initialize recording file: %w", err)
	}

	return r, nil
}

// Start checks for a date change every minute until ctx is done. After
// each rotation, files older than retentionDays are removed; zero keeps
// everything.
func (r *Rotator) Start(ctx context.Context, retentionDays int) {
	r.logger.Info("Starting recording rotator")

	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Recording rotator stopping")
			return
		case <-ticker.C:
			if r.checkRotation() && retentionDays > 0 {
				if err := r.CleanupOld(retentionDays); err != nil {
					r.logger.WithError(err).Warn("Failed to clean up recordings")
				}
			}
		}
	}
}

func (r *Rotator) today() string {
	now := r.now()
	if r.useUTC {
		now = now.UTC()
	}
	return now.Format("2006-01-02")
}

// checkRotation rotates if the date changed and reports whether it did.
func (r *Rotator) checkRotation() bool {
	date := r.today()

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.currentDate == date {
		return false
	}
	r.logger.WithFields(logrus.Fields{
		"old_date": r.currentDate,
		"new_date": date,
	}).Info("Rotating recording file")

	if err := r.rotate(); err != nil {
		r.logger.WithError(err).Error("Failed to rotate recording file")
		return false
	}
	return true
}

func (r *Rotator) path(date string) string {
	return filepath.Join(r.dir, recordingPrefix+date+recordingExt)
}

// rotate switches to today's file. Callers hold the mutex.
func (r *Rotator) rotate() error {
	date := r.today()

	if r.currentFile != nil {
		if err := r.currentFile.Close(); err != nil {
			r.logger.WithError(err).Error("Failed to close old recording file")
		}
		r.currentFile = nil

		if old := r.currentDate; old != date {
			r.compressing.Add(1)
			go func() {
				defer r.compressing.Done()
				r.compress(old)
			}()
		}
	}

	name := r.path(date)
	file, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create recording file %s: %w", name, err)
	}

	r.currentFile = file
	r.currentDate = date

	r.logger.WithField("file", name).Info("Opened recording file")
	return nil
}

// compress replaces the recording of date with a zstd-compressed copy.
func (r *Rotator) compress(date string) {
	source := r.path(date)
	target := source + compressedExt

	if _, err := os.Stat(source); os.IsNotExist(err) {
		r.logger.WithField("file", source).Debug("Recording doesn't exist, skipping compression")
		return
	}

	if err := compressFile(source, target); err != nil {
		r.logger.WithError(err).WithField("file", source).Error("Failed to compress recording")
		os.Remove(target)
		return
	}

	if err := os.Remove(source); err != nil {
		r.logger.WithError(err).WithField("file", source).Error("Failed to remove original recording")
		return
	}

	r.logger.WithField("file", target).Info("Recording compressed")
}

func compressFile(source, target string) error {
	src, err := os.Open(source)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(target)
	if err != nil {
		return err
	}
	defer dst.Close()

	zw, err := zstd.NewWriter(dst, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return fmt.Errorf("failed to create zstd writer: %w", err)
	}
	if _, err := io.Copy(zw, src); err != nil {
		zw.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to close zstd writer: %w", err)
	}
	return dst.Close()
}

// Write appends p to the current recording file.
func (r *Rotator) Write(p []byte) (int, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.currentFile == nil {
		return 0, fmt.Errorf("no current recording file")
	}
	return r.currentFile.Write(p)
}

// CurrentFile returns the path of the file being written.
func (r *Rotator) CurrentFile() string {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.currentDate == "" {
		return ""
	}
	return r.path(r.currentDate)
}

// Files lists every recording, compressed or not.
func (r *Rotator) Files() ([]string, error) {
	files, err := filepath.Glob(filepath.Join(r.dir, recordingPrefix+"*"+recordingExt+"*"))
	if err != nil {
		return nil, fmt.Errorf("failed to list recordings: %w", err)
	}
	return files, nil
}

// CleanupOld removes recordings last modified more than maxDays ago. The
// current file is never removed.
func (r *Rotator) CleanupOld(maxDays int) error {
	if maxDays <= 0 {
		return fmt.Errorf("maxDays must be positive")
	}

	files, err := r.Files()
	if err != nil {
		return err
	}

	cutoff := r.now().AddDate(0, 0, -maxDays)
	current := r.CurrentFile()

	removed := 0
	for _, file := range files {
		if file == current {
			continue
		}
		info, err := os.Stat(file)
		if err != nil {
			r.logger.WithError(err).WithField("file", file).Warn("Failed to stat recording")
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(file); err != nil {
				r.logger.WithError(err).WithField("file", file).Error("Failed to remove old recording")
			} else {
				removed++
			}
		}
	}

	r.logger.WithField("count", removed).Info("Cleaned up old recordings")
	return nil
}

// Close closes the current file and waits for pending compressions.
func (r *Rotator) Close() error {
	r.mutex.Lock()
	var err error
	if r.currentFile != nil {
		err = r.currentFile.Close()
		r.currentFile = nil
	}
	r.mutex.Unlock()

	r.compressing.Wait()
	if err != nil {
		return fmt.Errorf("failed to close recording file: %w", err)
	}
	return nil
}
