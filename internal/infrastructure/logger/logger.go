package logger

import (
	"log"
	"os"
)

var (
	Info  = newLogger("INFO: ")
	Warn  = newLogger("WARN: ")
	Error = newLogger("ERROR: ")
	Debug = newLogger("DEBUG: ")
)

func newLogger(prefix string) *log.Logger {
	return log.New(os.Stdout, prefix, log.Ldate|log.Ltime|log.LUTC|log.Lshortfile)
}
