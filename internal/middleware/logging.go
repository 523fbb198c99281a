// internal/middleware/logging.go

package middleware

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// LogMiddleware is an HTTP middleware that logs incoming requests using Logrus.
// Logs the method, path, and duration of each request.
func LogMiddleware(logger *logrus.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			path := r.URL.Path
			method := r.Method

			next.ServeHTTP(w, r)

			duration := time.Since(start)
			logger.WithFields(logrus.Fields{
				"method":   method,
				"path":     path,
				"duration": duration,
				"remote":   r.RemoteAddr,
			}).Info("HTTP Request")
		})
	}
}

// LogSocketConnect logs a message when a websocket client connects.
func LogSocketConnect(logger *logrus.Logger, remoteAddr, socketID string) {
	logger.WithFields(logrus.Fields{
		"remote": remoteAddr,
		"socket": socketID,
	}).Info("socket connected")
}

// LogSocketDisconnect logs a message when a websocket client disconnects.
func LogSocketDisconnect(logger *logrus.Logger, remoteAddr, socketID string, err error) {
	fields := logrus.Fields{
		"remote": remoteAddr,
		"socket": socketID,
	}
	if err != nil {
		fields["error"] = err
	}
	logger.WithFields(fields).Info("socket disconnected")
}
