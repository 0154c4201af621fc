package health

import (
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/ngageoint/scale/internal/common/logging"
)

// HttpHandler responds 204 if the checker passes and 503 with the failure otherwise.
type HttpHandler struct {
	checker Checker
	logger  *log.Entry
}

func NewHttpHandler(checker Checker) *HttpHandler {
	return &HttpHandler{
		checker: checker,
		logger:  logging.NewComponentLogger("health"),
	}
}

func (h *HttpHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	err := h.checker.Check()
	if err == nil {
		h.logger.Debug("Health check passed")
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.logger.Warnf("Health check failed: %v", err)
	w.WriteHeader(http.StatusServiceUnavailable)
	if _, err := w.Write([]byte(err.Error())); err != nil {
		h.logger.Errorf("Failed to write health check response: %v", err)
	}
}
