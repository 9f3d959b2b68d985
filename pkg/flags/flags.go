package flags

import (
	"flag"
	"os"

	log "github.com/sirupsen/logrus"
)

// ConfigureAndParse adds the flags common to the dataplane binaries. This
// func calls flag.Parse(), so it should be called after all other flags
// have been configured.
func ConfigureAndParse() {
	logLevel := flag.String("log-level", log.InfoLevel.String(),
		"log level, must be one of: panic, fatal, error, warn, info, debug")

	flag.Parse()

	setLogLevel(*logLevel)
}

func setLogLevel(logLevel string) {
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		log.Fatalf("invalid log-level: %s", logLevel)
	}
	log.SetLevel(level)
	log.SetOutput(os.Stderr)
}
