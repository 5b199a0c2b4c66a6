package core

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// healthCheckTimeout bounds all probes together; a hung dependency must not
// hang the health endpoint.
const healthCheckTimeout = 2 * time.Second

// HealthProbe is one dependency check (job store, email provider) run by
// the health endpoint.
type HealthProbe interface {
	Name() string
	Check(ctx context.Context) error
}

type componentStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status     string                     `json:"status"`
	Components map[string]componentStatus `json:"components,omitempty"`
}

// HandleHealth runs every registered probe concurrently with a shared
// deadline: 200 when all pass, 503 when any fails or times out.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if len(s.HealthProbes) == 0 {
		JSON(w, r, http.StatusOK, healthResponse{Status: "healthy"})
		return
	}

	type probeResult struct {
		name string
		err  error
	}

	var (
		mu      sync.Mutex
		results = make(map[string]probeResult, len(s.HealthProbes))
		wg      sync.WaitGroup
	)

	for _, probe := range s.HealthProbes {
		wg.Add(1)
		go func(p HealthProbe) {
			defer wg.Done()
			err := p.Check(ctx)
			mu.Lock()
			results[p.Name()] = probeResult{name: p.Name(), err: err}
			mu.Unlock()
		}(probe)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		// Probes still outstanding are reported as timed out below.
	}

	mu.Lock()
	defer mu.Unlock()

	components := make(map[string]componentStatus, len(s.HealthProbes))
	allHealthy := true
	for _, probe := range s.HealthProbes {
		name := probe.Name()
		result, ok := results[name]
		switch {
		case !ok:
			allHealthy = false
			components[name] = componentStatus{Status: "unhealthy", Message: "health check timed out"}
		case result.err != nil:
			allHealthy = false
			components[name] = componentStatus{Status: "unhealthy", Message: result.err.Error()}
		default:
			components[name] = componentStatus{Status: "healthy"}
		}
	}

	resp := healthResponse{Components: components}
	if allHealthy {
		resp.Status = "healthy"
		JSON(w, r, http.StatusOK, resp)
		return
	}
	resp.Status = "unhealthy"
	JSON(w, r, http.StatusServiceUnavailable, resp)
}
