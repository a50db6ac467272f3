package bgpd

import "fmt"

// Logger is a log.Print-compatible function, the same seam jwhited/corebgp
// exposes: callers wire in whatever structured logger they like (cmd/bgpd
// wires in logrus) rather than this package importing one directly.
type Logger func(...interface{})

var logger Logger

// SetLogger enables logging with the provided Logger. Passing nil disables
// logging.
func SetLogger(l Logger) {
	logger = l
}

func log(v ...interface{}) {
	if logger != nil {
		logger(v...)
	}
}

// Logf logs a formatted message through the installed Logger, if any.
func Logf(format string, v ...interface{}) {
	log(fmt.Sprintf(format, v...))
}
