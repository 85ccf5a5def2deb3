package monitoring

import (
	"net/http"
)

// The core holds no external stores; the healthcheck reports liveness of
// the process itself.
func healthCheckHandlerFunc(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
