package health

import (
	"net/http"
)

const HealthPath = "/health"

// SetupHttpMux serves checker on HealthPath.
func SetupHttpMux(mux *http.ServeMux, checker Checker) {
	mux.Handle(HealthPath, NewHttpHandler(checker))
}
