package logger

import (
	"io"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileOptions controls rotation of the log file
type FileOptions struct {
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`    // megabytes
	MaxBackups int    `mapstructure:"max_backups"` // number of rotated files kept
	MaxAge     int    `mapstructure:"max_age"`     // days
	Compress   bool   `mapstructure:"compress"`
}

// DefaultFileOptions returns rotation settings for the given file
func DefaultFileOptions(filename string) FileOptions {
	return FileOptions{
		Filename:   filename,
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     28,
	}
}

// FileWriter returns a rotating writer for the configured log file
func FileWriter(opts FileOptions) io.WriteCloser {
	return &lumberjack.Logger{
		Filename:   opts.Filename,
		MaxSize:    opts.MaxSize,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAge,
		Compress:   opts.Compress,
	}
}
