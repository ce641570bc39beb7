package tnt

import "log"

// Logger is the logging sink a Connection reports to. It is optional;
// a nil Logger in Opts is replaced by stdLogger, which writes through
// the standard library's log package exactly as the reference client
// does by default.
type Logger interface {
	Infof(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

type stdLogger struct{}

func (stdLogger) Infof(format string, args ...interface{}) {
	log.Printf("tnt: "+format, args...)
}

func (stdLogger) Debugf(format string, args ...interface{}) {
	log.Printf("tnt: "+format, args...)
}

// discardLogger drops everything; used by tests that don't want
// log output noise.
type discardLogger struct{}

func (discardLogger) Infof(string, ...interface{})  {}
func (discardLogger) Debugf(string, ...interface{}) {}
