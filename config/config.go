package config

import (
	"math/rand"
	"os"
	"strings"

	"github.com/go-kit/log"
)

var Version string

// Global variable, but easier than passing a logger around throughout the system
var Logger log.Logger = log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))

func init() {
	Logger = log.With(Logger, "ts", log.DefaultTimestampUTC)
}

const charset = "abcdefghijklmnopqrstuvwxyz0123456789"

func RandomTrailer(length int) string {
	res := make([]byte, length)
	for i := 0; i < length; i++ {
		res[i] = charset[rand.Intn(len(charset))]
	}
	return string(res)
}

// TruthyEnv reports whether an environment-style toggle is switched on.
// Accepted values mirror the legacy deployment scripts: 1, y, true, on.
func Truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "y", "true", "on":
		return true
	default:
		return false
	}
}
