package cmd

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/metabolights/folder-lens/lens"
)

type noopCloser struct{}

func (noopCloser) Close() error { return nil }

// SetupLogging tees the standard logger to a rotating file when config.LogFile is set. The returned
// closer must be closed before exit.
func SetupLogging(config *lens.Config) io.Closer {
	if config.LogFile == "" {
		return noopCloser{}
	}
	rotating := &lumberjack.Logger{
		Filename:   config.LogFile,
		MaxSize:    config.LogMaxMB,
		MaxBackups: config.LogMaxBackups,
		MaxAge:     config.LogMaxAgeDays,
	}
	log.SetOutput(lens.TeeWriter(os.Stderr, rotating))
	return rotating
}
