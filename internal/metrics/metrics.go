// Package metrics aggregates the gateway's operational state: monotonic
// counters, gauges, a rolling response-time summary, threshold-driven
// alerts, and both a JSON snapshot and a line-based textual exposition
// for time-series scrapers.
package metrics

import (
	"fmt"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relayhub/fanout/internal/logger"
)

// Severity is an alert's level.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarn     Severity = "warn"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Status is the aggregate health status.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
)

// Alert is a raised or resolved threshold crossing.
type Alert struct {
	ID         string     `json:"id"`
	Severity   Severity   `json:"severity"`
	Kind       string     `json:"kind"`
	Message    string     `json:"message"`
	RaisedAt   time.Time  `json:"raised_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Thresholds holds the warn/critical pairs; admins may overwrite them
// at runtime.
type Thresholds struct {
	WarnConnections        int
	CriticalConnections    int
	WarnResponseTimeMs     float64
	CriticalResponseTimeMs float64
	WarnErrorRate          float64
	CriticalErrorRate      float64
	WarnMemory             float64
	CriticalMemory         float64
}

const alertCooldown = 60 * time.Second

// Metrics is the process-wide aggregator.
type Metrics struct {
	startTime time.Time

	connTotal  int64
	connActive int64
	connPeak   int64
	connFailed int64

	authSuccess int64
	authFailure int64

	broadcastSent      int64
	broadcastDelivered int64
	broadcastFailed    int64

	subTotal  int64
	subActive int64

	httpTotal  int64
	httpSlow   int64
	httpErrors int64

	duplicateConnections int64

	mu              sync.Mutex
	connByRole      map[string]int64
	authByMethod    map[string]*methodCounts
	responseTimes   []float64
	thresholds      Thresholds
	alerts          map[string]*Alert
	lastRaisedAt    map[string]time.Time
	slowThresholdMs float64
}

type methodCounts struct {
	Success int64 `json:"success"`
	Failure int64 `json:"failure"`
}

// New constructs a Metrics aggregator with the given initial thresholds.
func New(t Thresholds) *Metrics {
	return &Metrics{
		startTime:       time.Now(),
		connByRole:      make(map[string]int64),
		authByMethod:    make(map[string]*methodCounts),
		thresholds:      t,
		alerts:          make(map[string]*Alert),
		lastRaisedAt:    make(map[string]time.Time),
		slowThresholdMs: t.WarnResponseTimeMs,
	}
}

// -- Connections --

func (m *Metrics) ConnectionOpened(role string) {
	atomic.AddInt64(&m.connTotal, 1)
	active := atomic.AddInt64(&m.connActive, 1)
	for {
		peak := atomic.LoadInt64(&m.connPeak)
		if active <= peak || atomic.CompareAndSwapInt64(&m.connPeak, peak, active) {
			break
		}
	}
	m.mu.Lock()
	m.connByRole[role]++
	m.mu.Unlock()
}

func (m *Metrics) ConnectionClosed() {
	atomic.AddInt64(&m.connActive, -1)
}

func (m *Metrics) ConnectionFailed() {
	atomic.AddInt64(&m.connFailed, 1)
}

func (m *Metrics) DuplicateConnection() {
	atomic.AddInt64(&m.duplicateConnections, 1)
}

// -- Authentication --

func (m *Metrics) AuthResult(method string, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mc, ok := m.authByMethod[method]
	if !ok {
		mc = &methodCounts{}
		m.authByMethod[method] = mc
	}
	if success {
		atomic.AddInt64(&m.authSuccess, 1)
		mc.Success++
	} else {
		atomic.AddInt64(&m.authFailure, 1)
		mc.Failure++
	}
}

// -- Broadcast / subscriptions --

func (m *Metrics) BroadcastSent(recipients int, failed bool) {
	atomic.AddInt64(&m.broadcastSent, 1)
	atomic.AddInt64(&m.broadcastDelivered, int64(recipients))
	if failed {
		atomic.AddInt64(&m.broadcastFailed, 1)
	}
}

func (m *Metrics) SubscriptionChanged(total, active int64) {
	atomic.StoreInt64(&m.subTotal, total)
	atomic.StoreInt64(&m.subActive, active)
}

// -- HTTP --

func (m *Metrics) RecordHTTP(durationMs float64, isError bool) {
	atomic.AddInt64(&m.httpTotal, 1)
	if isError {
		atomic.AddInt64(&m.httpErrors, 1)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if durationMs > m.slowThresholdMs {
		atomic.AddInt64(&m.httpSlow, 1)
	}
	m.responseTimes = append(m.responseTimes, durationMs)
	if len(m.responseTimes) > 1000 {
		m.responseTimes = m.responseTimes[len(m.responseTimes)-1000:]
	}
}

// Reset zeroes the accumulated counters and clears the alert history.
// The active-connection gauge reflects sockets the gateway still holds,
// so it survives; peak restarts from the current active count.
func (m *Metrics) Reset() {
	active := atomic.LoadInt64(&m.connActive)
	atomic.StoreInt64(&m.connTotal, 0)
	atomic.StoreInt64(&m.connPeak, active)
	atomic.StoreInt64(&m.connFailed, 0)
	atomic.StoreInt64(&m.duplicateConnections, 0)
	atomic.StoreInt64(&m.authSuccess, 0)
	atomic.StoreInt64(&m.authFailure, 0)
	atomic.StoreInt64(&m.broadcastSent, 0)
	atomic.StoreInt64(&m.broadcastDelivered, 0)
	atomic.StoreInt64(&m.broadcastFailed, 0)
	atomic.StoreInt64(&m.subTotal, 0)
	atomic.StoreInt64(&m.subActive, 0)
	atomic.StoreInt64(&m.httpTotal, 0)
	atomic.StoreInt64(&m.httpSlow, 0)
	atomic.StoreInt64(&m.httpErrors, 0)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.connByRole = make(map[string]int64)
	m.authByMethod = make(map[string]*methodCounts)
	m.responseTimes = nil
	m.alerts = make(map[string]*Alert)
	m.lastRaisedAt = make(map[string]time.Time)
}

// -- Thresholds --

// SetThresholds overwrites the warn/critical pairs (admin operation).
func (m *Metrics) SetThresholds(t Thresholds) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.thresholds = t
	m.slowThresholdMs = t.WarnResponseTimeMs
}

// -- Snapshot --

// ResponseTimeSummary is the avg/min/max/p95 rollup.
type ResponseTimeSummary struct {
	AvgMs float64 `json:"avg_ms"`
	MinMs float64 `json:"min_ms"`
	MaxMs float64 `json:"max_ms"`
	P95Ms float64 `json:"p95_ms"`
}

// Snapshot is the full JSON-serializable state.
type Snapshot struct {
	UptimeSeconds float64 `json:"uptime_seconds"`

	Connections struct {
		Total     int64            `json:"total"`
		Active    int64            `json:"active"`
		Peak      int64            `json:"peak"`
		Failed    int64            `json:"failed"`
		Duplicate int64            `json:"duplicate"`
		ByRole    map[string]int64 `json:"by_role"`
	} `json:"connections"`

	Authentications struct {
		Success  int64                   `json:"success"`
		Failure  int64                   `json:"failure"`
		ByMethod map[string]methodCounts `json:"by_method"`
	} `json:"authentications"`

	Broadcast struct {
		Sent      int64 `json:"sent"`
		Delivered int64 `json:"delivered"`
		Failed    int64 `json:"failed"`
	} `json:"broadcast"`

	Subscriptions struct {
		Total  int64 `json:"total"`
		Active int64 `json:"active"`
	} `json:"subscriptions"`

	HTTP struct {
		Total        int64               `json:"total"`
		Slow         int64               `json:"slow"`
		Errors       int64               `json:"errors"`
		ResponseTime ResponseTimeSummary `json:"response_time"`
	} `json:"http"`

	Memory struct {
		HeapUsedBytes  uint64  `json:"heap_used_bytes"`
		HeapTotalBytes uint64  `json:"heap_total_bytes"`
		UsageRatio     float64 `json:"usage_ratio"`
	} `json:"memory"`

	Status Status  `json:"status"`
	Alerts []Alert `json:"alerts"`
}

// Snapshot produces a consistent point-in-time view and evaluates the
// health predicates, raising/resolving alerts as needed.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Snapshot{UptimeSeconds: time.Since(m.startTime).Seconds()}

	s.Connections.Total = atomic.LoadInt64(&m.connTotal)
	s.Connections.Active = atomic.LoadInt64(&m.connActive)
	s.Connections.Peak = atomic.LoadInt64(&m.connPeak)
	s.Connections.Failed = atomic.LoadInt64(&m.connFailed)
	s.Connections.Duplicate = atomic.LoadInt64(&m.duplicateConnections)
	s.Connections.ByRole = cloneRoleMap(m.connByRole)

	s.Authentications.Success = atomic.LoadInt64(&m.authSuccess)
	s.Authentications.Failure = atomic.LoadInt64(&m.authFailure)
	s.Authentications.ByMethod = make(map[string]methodCounts, len(m.authByMethod))
	for k, v := range m.authByMethod {
		s.Authentications.ByMethod[k] = *v
	}

	s.Broadcast.Sent = atomic.LoadInt64(&m.broadcastSent)
	s.Broadcast.Delivered = atomic.LoadInt64(&m.broadcastDelivered)
	s.Broadcast.Failed = atomic.LoadInt64(&m.broadcastFailed)

	s.Subscriptions.Total = atomic.LoadInt64(&m.subTotal)
	s.Subscriptions.Active = atomic.LoadInt64(&m.subActive)

	s.HTTP.Total = atomic.LoadInt64(&m.httpTotal)
	s.HTTP.Slow = atomic.LoadInt64(&m.httpSlow)
	s.HTTP.Errors = atomic.LoadInt64(&m.httpErrors)
	s.HTTP.ResponseTime = summarize(m.responseTimes)

	var mstat runtime.MemStats
	runtime.ReadMemStats(&mstat)
	s.Memory.HeapUsedBytes = mstat.HeapAlloc
	s.Memory.HeapTotalBytes = mstat.HeapSys
	if mstat.HeapSys > 0 {
		s.Memory.UsageRatio = float64(mstat.HeapAlloc) / float64(mstat.HeapSys)
	}

	s.Status = m.evaluateLocked(s)
	s.Alerts = m.alertListLocked()

	return s
}

func (m *Metrics) evaluateLocked(s Snapshot) Status {
	worst := StatusHealthy

	errRate := 0.0
	if s.HTTP.Total > 0 {
		errRate = float64(s.HTTP.Errors) / float64(s.HTTP.Total)
	}

	checks := []struct {
		kind     string
		current  float64
		warn     float64
		critical float64
	}{
		{"connections", float64(s.Connections.Active), float64(m.thresholds.WarnConnections), float64(m.thresholds.CriticalConnections)},
		{"response_time", s.HTTP.ResponseTime.AvgMs, m.thresholds.WarnResponseTimeMs, m.thresholds.CriticalResponseTimeMs},
		{"error_rate", errRate, m.thresholds.WarnErrorRate, m.thresholds.CriticalErrorRate},
		{"memory", s.Memory.UsageRatio, m.thresholds.WarnMemory, m.thresholds.CriticalMemory},
	}

	for _, c := range checks {
		switch {
		case c.critical > 0 && c.current >= c.critical:
			m.raiseLocked(c.kind, SeverityCritical, fmt.Sprintf("%s at %.2f exceeds critical threshold %.2f", c.kind, c.current, c.critical))
			worst = worstOf(worst, StatusCritical)
		case c.warn > 0 && c.current >= c.warn:
			m.raiseLocked(c.kind, SeverityWarn, fmt.Sprintf("%s at %.2f exceeds warn threshold %.2f", c.kind, c.current, c.warn))
			worst = worstOf(worst, StatusWarning)
		default:
			m.resolveLocked(c.kind)
		}
	}

	return worst
}

func worstOf(a, b Status) Status {
	rank := map[Status]int{StatusHealthy: 0, StatusWarning: 1, StatusCritical: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

func (m *Metrics) raiseLocked(kind string, severity Severity, message string) {
	now := time.Now()
	existing, ok := m.alerts[kind]
	if ok && existing.ResolvedAt == nil {
		return // already raised, dedup within cooldown implicit: stays open until resolved
	}
	if last, ok := m.lastRaisedAt[kind]; ok && now.Sub(last) < alertCooldown {
		return
	}
	m.lastRaisedAt[kind] = now
	m.alerts[kind] = &Alert{
		ID:       fmt.Sprintf("%s-%d", kind, now.UnixNano()),
		Severity: severity,
		Kind:     kind,
		Message:  message,
		RaisedAt: now,
	}
	logger.Metrics().Warn().Str("kind", kind).Str("severity", string(severity)).Msg("threshold alert raised")
}

func (m *Metrics) resolveLocked(kind string) {
	existing, ok := m.alerts[kind]
	if !ok || existing.ResolvedAt != nil {
		return
	}
	now := time.Now()
	existing.ResolvedAt = &now
	logger.Metrics().Info().Str("kind", kind).Msg("threshold alert resolved")
}

func (m *Metrics) alertListLocked() []Alert {
	out := make([]Alert, 0, len(m.alerts))
	for _, a := range m.alerts {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RaisedAt.Before(out[j].RaisedAt) })
	return out
}

func summarize(values []float64) ResponseTimeSummary {
	if len(values) == 0 {
		return ResponseTimeSummary{}
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	p95Index := int(float64(len(sorted)) * 0.95)
	if p95Index >= len(sorted) {
		p95Index = len(sorted) - 1
	}

	return ResponseTimeSummary{
		AvgMs: sum / float64(len(sorted)),
		MinMs: sorted[0],
		MaxMs: sorted[len(sorted)-1],
		P95Ms: sorted[p95Index],
	}
}

func cloneRoleMap(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Prometheus renders the line-based textual exposition format.
func (s Snapshot) Prometheus() string {
	lines := []string{
		"# HELP fanout_connections_active Currently active socket connections.",
		"# TYPE fanout_connections_active gauge",
		fmt.Sprintf("fanout_connections_active %d", s.Connections.Active),
		"# HELP fanout_connections_total Total connections accepted since start.",
		"# TYPE fanout_connections_total counter",
		fmt.Sprintf("fanout_connections_total %d", s.Connections.Total),
		"# HELP fanout_connections_peak Peak concurrent connections observed.",
		"# TYPE fanout_connections_peak gauge",
		fmt.Sprintf("fanout_connections_peak %d", s.Connections.Peak),
		"# HELP fanout_broadcast_sent_total Broadcast operations performed.",
		"# TYPE fanout_broadcast_sent_total counter",
		fmt.Sprintf("fanout_broadcast_sent_total %d", s.Broadcast.Sent),
		"# HELP fanout_broadcast_delivered_total Events enqueued to subscribers.",
		"# TYPE fanout_broadcast_delivered_total counter",
		fmt.Sprintf("fanout_broadcast_delivered_total %d", s.Broadcast.Delivered),
		"# HELP fanout_http_requests_total HTTP requests served.",
		"# TYPE fanout_http_requests_total counter",
		fmt.Sprintf("fanout_http_requests_total %d", s.HTTP.Total),
		"# HELP fanout_http_response_time_ms_avg Average HTTP response time in milliseconds.",
		"# TYPE fanout_http_response_time_ms_avg gauge",
		fmt.Sprintf("fanout_http_response_time_ms_avg %f", s.HTTP.ResponseTime.AvgMs),
		"# HELP fanout_memory_usage_ratio Heap used as a fraction of heap reserved from the OS.",
		"# TYPE fanout_memory_usage_ratio gauge",
		fmt.Sprintf("fanout_memory_usage_ratio %f", s.Memory.UsageRatio),
		"# HELP fanout_uptime_seconds Process uptime in seconds.",
		"# TYPE fanout_uptime_seconds counter",
		fmt.Sprintf("fanout_uptime_seconds %f", s.UptimeSeconds),
	}

	out := ""
	for _, l := range lines {
		out += l + "\n"
	}
	return out
}
