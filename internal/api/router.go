package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/honeynil/PaymentBoxService/internal/handler"
	"github.com/honeynil/PaymentBoxService/internal/infrastructure/auth"
	"github.com/honeynil/PaymentBoxService/internal/infrastructure/observability"
	service "github.com/honeynil/PaymentBoxService/internal/services"
)

// SetupRouter mounts the payment box API under /api behind JWT auth. metricsHandler,
// when not nil, is served on /metrics.
func SetupRouter(svc service.PaymentBoxService, jwtSecret string, metricsHandler http.Handler) *mux.Router {
	h := handler.NewHandler(svc)
	r := mux.NewRouter()
	r.Use(metricsMiddleware)

	h.RegisterPublicRoutes(r)
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler).Methods(http.MethodGet)
	}

	// Защищённые роуты с JWT
	protected := r.PathPrefix("/api").Subrouter()
	protected.Use(auth.AuthMiddleware(jwtSecret))
	h.RegisterAdminRoutes(protected.PathPrefix("/admin").Subrouter())
	h.RegisterProtectedRoutes(protected)

	return r
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		// Шаблон маршрута, чтобы id не раздували кардинальность
		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tmpl, err := route.GetPathTemplate(); err == nil {
				path = tmpl
			}
		}

		recorder := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(recorder, r)
		if recorder.status == 0 {
			recorder.status = http.StatusOK
		}

		observability.HTTPRequests.WithLabelValues(r.Method, path, fmt.Sprintf("%d", recorder.status)).Inc()
		observability.HTTPDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// statusRecorder для захвата статуса ответа
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}
