package admind

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// apiMetrics collects admin API request metrics on the manager's
// registry, so one scrape covers both the engine and the API.
type apiMetrics struct {
	duration *prometheus.HistogramVec
	requests *prometheus.CounterVec
}

func newAPIMetrics(registry *prometheus.Registry) *apiMetrics {
	factory := promauto.With(registry)
	return &apiMetrics{
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ircbot_api_request_duration_seconds",
				Help:    "Admin API request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"path", "method"},
		),
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ircbot_api_requests_total",
				Help: "Admin API requests by route, method, and status code",
			},
			[]string{"path", "method", "code"},
		),
	}
}

// middleware times each request and counts it under its final status.
// c.Path is the route template, not the raw URL, which keeps label
// cardinality bounded.
func (am *apiMetrics) middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			path := c.Path()
			method := c.Request().Method

			err := next(c)

			status := c.Response().Status
			if err != nil {
				var httpErr *echo.HTTPError
				if errors.As(err, &httpErr) {
					status = httpErr.Code
				} else {
					status = http.StatusInternalServerError
				}
			}
			am.duration.WithLabelValues(path, method).Observe(time.Since(start).Seconds())
			am.requests.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
			return err
		}
	}
}

// startMetrics serves the manager's Prometheus registry on a separate
// listener.
func (s *Server) startMetrics() {
	if s.cfg.MetricsAddr == "" {
		return
	}

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(
		s.manager.Metrics().Registry,
		promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		},
	))
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})

	s.metrics = &http.Server{
		Addr:    s.cfg.MetricsAddr,
		Handler: r,
	}

	s.logger.Printf("Metrics listening on %s", s.cfg.MetricsAddr)
	go func() {
		if err := s.metrics.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Metrics server error: %v", err)
		}
	}()
}
