package log

import (
	"os"
	"strings"
	"time"

	kitlog "github.com/go-kit/log"
	"github.com/patrickmn/go-cache"
)

var loggerCache *cache.Cache
var defaultLoggerCacheExpiry = 6 * time.Hour

// Set from LOG_FORMAT_UPLOAD_API / LOG_LEVEL_UPLOAD_API before any logging
// happens; "json" switches the encoder, anything else stays logfmt.
var (
	logFormat    = "logfmt"
	debugEnabled = false
)

func init() {
	loggerCache = cache.New(defaultLoggerCacheExpiry, 10*time.Minute)
}

// Configure applies the process-wide log format and level. "verbose" and
// "simple" are accepted for compatibility with older deployments and both
// mean logfmt.
func Configure(format, level string) {
	if strings.EqualFold(format, "json") {
		logFormat = "json"
	} else {
		logFormat = "logfmt"
	}
	debugEnabled = strings.EqualFold(level, "debug")
}

// Permanently add context to the logger. Any future logging for this Request ID will include this context
func AddContext(requestID string, keyvals ...interface{}) {
	_ = loggerCache.Add(requestID, kitlog.With(getLogger(requestID), keyvals...), defaultLoggerCacheExpiry)
}

func Log(requestID string, message string, keyvals ...interface{}) {
	_ = kitlog.With(getLogger(requestID), "msg", message).Log(keyvals...)
}

func LogDebug(requestID string, message string, keyvals ...interface{}) {
	if !debugEnabled {
		return
	}
	_ = kitlog.With(getLogger(requestID), "level", "debug", "msg", message).Log(keyvals...)
}

// Log in situations where we don't have access to the Request ID.
// Should be used sparingly and with as much context inserted into the message as possible
func LogNoRequestID(message string, keyvals ...interface{}) {
	_ = kitlog.With(newLogger(), "msg", message).Log(keyvals...)
}

func LogError(requestID string, message string, err error, keyvals ...interface{}) {
	msgLogger := kitlog.With(getLogger(requestID), "msg", message)
	errLogger := kitlog.With(msgLogger, "err", err.Error())
	_ = errLogger.Log(keyvals...)
}

// Base returns an unscoped logger for components that manage their own
// context, like the request logging middleware.
func Base() kitlog.Logger {
	return newLogger()
}

func getLogger(requestID string) kitlog.Logger {
	logger, found := loggerCache.Get(requestID)
	if found {
		return logger.(kitlog.Logger)
	}

	newLogger := kitlog.With(newLogger(), "request_id", requestID)
	err := loggerCache.Add(requestID, newLogger, defaultLoggerCacheExpiry)
	if err != nil {
		_ = newLogger.Log("msg", "error adding logger to cache", "request_id", requestID)
	}
	return newLogger
}

func newLogger() kitlog.Logger {
	var logger kitlog.Logger
	if logFormat == "json" {
		logger = kitlog.NewJSONLogger(kitlog.NewSyncWriter(os.Stderr))
	} else {
		logger = kitlog.NewLogfmtLogger(kitlog.NewSyncWriter(os.Stderr))
	}
	return kitlog.With(logger, "ts", kitlog.DefaultTimestampUTC)
}
