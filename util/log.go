package util

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the package-wide structured logger used by every netwrangler
// component instead of the standard library's log package.
var Logger = logrus.New()

func init() {
	Logger.SetOutput(os.Stderr)
	Logger.SetLevel(logrus.InfoLevel)
	Logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
}

// SetLogLevel sets the logging level by name ("debug", "info", "warn", ...).
func SetLogLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	Logger.SetLevel(lvl)
	return nil
}

// SetLogOutput redirects log output, primarily for tests.
func SetLogOutput(w io.Writer) {
	Logger.SetOutput(w)
}

// WithFile returns a logger entry tagged with a source file.
func WithFile(file string) *logrus.Entry {
	return Logger.WithField("file", file)
}

// WithPos returns a logger entry tagged with a source position.
func WithPos(p Pos) *logrus.Entry {
	e := Logger.WithField("file", p.File)
	if p.Line != 0 {
		e = e.WithField("line", p.Line)
	}
	return e
}

// WithNetdef returns a logger entry tagged with a netdef ID.
func WithNetdef(id string) *logrus.Entry {
	return Logger.WithField("netdef", id)
}
