package httpx

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

// RequestTimeout wraps non-streaming routes; the SSE stream route must stay
// outside it, a streaming response never finishes inside a deadline.
func RequestTimeout(d time.Duration) func(http.Handler) http.Handler {
	return middleware.Timeout(d)
}
