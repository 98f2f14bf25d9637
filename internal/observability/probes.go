package observability

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
)

const (
	statusUp   = "up"
	statusDown = "down"
)

// ReadinessReport is the body of the readiness probe.
type ReadinessReport struct {
	Ready  bool              `json:"ready"`
	Status map[string]string `json:"status"`
}

// liveness responds 200 while the process can serve HTTP.
func (s *Server) liveness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// readiness runs every checker in parallel within the configured timeout.
func (s *Server) readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Timeout)
	defer cancel()

	report := CheckAll(ctx, s.logger, s.checkers...)

	w.Header().Set("Content-Type", "application/json")
	if report.Ready {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	// The status code is already written; the body is for humans.
	_ = json.NewEncoder(w).Encode(report)
}

// CheckAll runs the checkers concurrently and reports each component as "up" or "down: <err>".
func CheckAll(ctx context.Context, logger *slog.Logger, checkers ...Checker) ReadinessReport {
	report := ReadinessReport{Ready: true, Status: make(map[string]string, len(checkers))}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)

	for _, checker := range checkers {
		wg.Add(1)
		go func(c Checker) {
			defer wg.Done()

			err := c.Check(ctx)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				// WARN: Kubernetes retries probes on its own.
				logger.Warn("health probe failed",
					slog.String("dependency", c.Name()),
					slog.String("error", err.Error()),
				)
				report.Status[c.Name()] = statusDown + ": " + err.Error()
				report.Ready = false
				return
			}
			report.Status[c.Name()] = statusUp
		}(checker)
	}

	wg.Wait()
	return report
}
