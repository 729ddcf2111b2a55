package logging

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// RotatingFile returns a size-rotated, gzip-compressed log file writer.
func RotatingFile(path string, maxSizeMB, maxBackups int) (io.WriteCloser, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("logging: empty log file path")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, err
		}
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		Compress:   true,
	}, nil
}

// Output joins stdout with an optional rotating file. The returned close func
// is never nil.
func Output(stdout io.Writer, path string, maxSizeMB, maxBackups int) (io.Writer, func() error, error) {
	if strings.TrimSpace(path) == "" {
		return stdout, func() error { return nil }, nil
	}
	file, err := RotatingFile(path, maxSizeMB, maxBackups)
	if err != nil {
		return nil, nil, err
	}
	return io.MultiWriter(stdout, file), file.Close, nil
}
