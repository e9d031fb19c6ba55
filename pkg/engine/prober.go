package engine

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ProbeResult is the outcome of probing one engine's /health endpoint
type ProbeResult struct {
	// EngineID identifies the probed engine
	EngineID ID `json:"engine_id"`

	// Name is the engine's name
	Name string `json:"name"`

	// Status is the health classification derived from the probe
	Status HealthStatus `json:"status"`

	// LatencyMS is the probe round-trip time in milliseconds
	LatencyMS int64 `json:"latency_ms"`

	// Error is the probe failure message, if any
	Error string `json:"error,omitempty"`
}

// Prober periodically probes every registered engine's /health endpoint and
// feeds the results into the registry
type Prober struct {
	registry *Registry
	client   *http.Client
	cron     *cron.Cron
	schedule string
	timeout  time.Duration
}

// NewProber creates a prober with the given cron schedule (e.g. "@every 30s")
func NewProber(registry *Registry, schedule string, timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Prober{
		registry: registry,
		client:   &http.Client{Timeout: timeout},
		cron:     cron.New(),
		schedule: schedule,
		timeout:  timeout,
	}
}

// Start begins periodic probing
func (p *Prober) Start() error {
	if _, err := p.cron.AddFunc(p.schedule, func() {
		p.ProbeAll(context.Background())
	}); err != nil {
		return fmt.Errorf("invalid probe schedule %q: %w", p.schedule, err)
	}

	p.cron.Start()
	log.Printf("Health prober started (schedule %s)", p.schedule)
	return nil
}

// Stop halts periodic probing
func (p *Prober) Stop() {
	p.cron.Stop()
}

// ProbeAll probes every registered engine concurrently and returns the
// results sorted by engine ID
func (p *Prober) ProbeAll(ctx context.Context) []ProbeResult {
	engines := p.registry.Engines()

	results := make([]ProbeResult, len(engines))
	var wg sync.WaitGroup
	for i, eng := range engines {
		wg.Add(1)
		go func(i int, eng *Engine) {
			defer wg.Done()
			results[i] = p.probeOne(ctx, eng)
		}(i, eng)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].EngineID < results[j].EngineID })
	return results
}

// probeOne hits a single engine's /health endpoint and updates the registry
func (p *Prober) probeOne(ctx context.Context, eng *Engine) ProbeResult {
	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	result := ProbeResult{EngineID: eng.ID, Name: eng.Name}

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, eng.BaseURL+"/health", nil)
	if err != nil {
		result.Status = HealthUnknown
		result.Error = err.Error()
		return result
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	result.LatencyMS = time.Since(start).Milliseconds()

	if err != nil {
		result.Status = HealthDown
		result.Error = err.Error()
		_ = p.registry.MarkHealth(eng.ID, HealthDown, err.Error())
		return result
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg := fmt.Sprintf("health endpoint returned %d", resp.StatusCode)
		result.Status = HealthDown
		result.Error = msg
		_ = p.registry.MarkHealth(eng.ID, HealthDown, msg)
		return result
	}

	result.Status = HealthUp
	_ = p.registry.MarkHealth(eng.ID, HealthUp, "")
	return result
}
