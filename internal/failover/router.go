package failover

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"time"

	"github.com/google/uuid"

	"github.com/angeloszaimis/pool-failover/internal/circuitbreaker"
	"github.com/angeloszaimis/pool-failover/internal/metrics"
	"github.com/angeloszaimis/pool-failover/internal/outcome"
	"github.com/angeloszaimis/pool-failover/internal/pool"
)

const (
	HeaderAppPool   = "X-App-Pool"
	HeaderReleaseID = "X-Release-Id"
	HeaderRequestID = "X-Request-Id"

	// StatusClientClosedRequest is recorded when the client goes away before
	// a response could be written.
	StatusClientClosedRequest = 499
)

var DefaultRetryableStatuses = []int{
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

type Options struct {
	ConnectTimeout    time.Duration
	ResponseTimeout   time.Duration
	RetryBudget       int
	RetryableStatuses []int
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 2 * time.Second
	}
	if o.ResponseTimeout <= 0 {
		o.ResponseTimeout = 3 * time.Second
	}
	if o.RetryBudget < 0 {
		o.RetryBudget = 0
	}
	if len(o.RetryableStatuses) == 0 {
		o.RetryableStatuses = DefaultRetryableStatuses
	}
	return o
}

// OutcomeRecorder receives one outcome per routed request.
type OutcomeRecorder interface {
	Write(o outcome.Outcome)
}

type Router struct {
	registry  *pool.Registry
	breakers  *circuitbreaker.Registry
	proxies   map[*pool.Pool]*httputil.ReverseProxy
	retryable map[int]bool
	attempts  int
	outcomes  OutcomeRecorder
	collector *metrics.Collector
	logger    *slog.Logger
	now       func() time.Time
}

// New builds a router over the registry's pair. breakers, outcomes and
// collector may be nil.
func New(registry *pool.Registry, breakers *circuitbreaker.Registry, outcomes OutcomeRecorder,
	collector *metrics.Collector, logger *slog.Logger, opts Options) *Router {
	opts = opts.withDefaults()

	rt := &Router{
		registry:  registry,
		breakers:  breakers,
		proxies:   make(map[*pool.Pool]*httputil.ReverseProxy, 2),
		retryable: make(map[int]bool, len(opts.RetryableStatuses)),
		attempts:  min(1+opts.RetryBudget, 2),
		outcomes:  outcomes,
		collector: collector,
		logger:    logger,
		now:       time.Now,
	}

	for _, code := range opts.RetryableStatuses {
		rt.retryable[code] = true
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   opts.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ResponseHeaderTimeout: opts.ResponseTimeout,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
	}

	for _, p := range registry.Pools() {
		rt.proxies[p] = rt.newProxy(p, transport)
	}

	return rt
}

// Plan returns the pools to try, in order, for a request arriving now.
func (rt *Router) Plan() []*pool.Pool {
	primary, backup := rt.registry.Primary(), rt.registry.Backup()

	first, second := primary, backup
	if primary.IsUnhealthy() || (!rt.allow(primary) && rt.allow(backup)) {
		first, second = backup, primary
	}

	plan := []*pool.Pool{first, second}
	return plan[:rt.attempts]
}

func (rt *Router) allow(p *pool.Pool) bool {
	if rt.breakers == nil {
		return true
	}
	return rt.breakers.GetBreaker(p.Name()).Allow()
}

type attemptKey struct{}

// attempt is shared between ServeHTTP and the proxy callbacks through the
// outgoing request context.
type attempt struct {
	pool   *pool.Pool
	number int
	final  bool
	status int
	err    error
}

func (a *attempt) failed(retryable map[int]bool) bool {
	return a.err != nil || retryable[a.status]
}

// upstreamStatus is the status recorded for the attempt in the outcome log.
// Transport failures are reported the way a gateway would report them.
func (a *attempt) upstreamStatus() int {
	if a.status != 0 {
		return a.status
	}

	var routeErr *RouteError
	if errors.As(a.err, &routeErr) && routeErr.Timeout() {
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

func attemptFrom(ctx context.Context) *attempt {
	a, _ := ctx.Value(attemptKey{}).(*attempt)
	return a
}

func (rt *Router) newProxy(p *pool.Pool, transport http.RoundTripper) *httputil.ReverseProxy {
	target := p.URL()

	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
		},
		Transport: transport,
		ModifyResponse: func(res *http.Response) error {
			a := attemptFrom(res.Request.Context())
			if a == nil {
				return nil
			}

			a.status = res.StatusCode
			if rt.retryable[res.StatusCode] {
				if !a.final {
					return &RouteError{Pool: p.Name(), Attempt: a.number, StatusCode: res.StatusCode, Err: errRetryableStatus}
				}
				// passed through untagged
				return nil
			}

			res.Header.Set(HeaderAppPool, p.Name())
			res.Header.Set(HeaderReleaseID, p.Release())
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			a := attemptFrom(r.Context())
			if a == nil {
				w.WriteHeader(http.StatusBadGateway)
				return
			}

			var routeErr *RouteError
			if errors.As(err, &routeErr) {
				a.err = routeErr
				return
			}
			a.err = &RouteError{Pool: p.Name(), Attempt: a.number, Err: err}

			if !a.final || r.Context().Err() != nil {
				return
			}

			code := a.upstreamStatus()
			http.Error(w, http.StatusText(code), code)
		},
	}
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := rt.now()

	requestID := r.Header.Get(HeaderRequestID)
	if requestID == "" {
		requestID = uuid.NewString()
		r.Header.Set(HeaderRequestID, requestID)
	}

	rec := &statusRecorder{ResponseWriter: w}

	body, err := bufferBody(r)
	if err != nil {
		rt.logger.Warn("Failed to read request body",
			slog.String("request_id", requestID),
			slog.Any("err", err))
		http.Error(rec, "Bad Request", http.StatusBadRequest)
		rt.record(r, requestID, start, nil, rec.status, nil)
		return
	}

	plan := rt.Plan()

	var (
		served   *pool.Pool
		inFlight *attempt
		upstream = make([]int, 0, len(plan))
		status   int
	)

	// ReverseProxy panics with http.ErrAbortHandler when a response body
	// breaks off after its headers were sent. The request is still recorded.
	defer func() {
		v := recover()
		if v == nil {
			return
		}
		if v == http.ErrAbortHandler && inFlight != nil {
			rt.recordAbort(r, requestID, start, inFlight, upstream)
		}
		panic(v)
	}()

	for i, p := range plan {
		a := &attempt{pool: p, number: i + 1, final: i == len(plan)-1}
		inFlight = a

		out := r.Clone(context.WithValue(r.Context(), attemptKey{}, a))
		if body != nil {
			out.Body = io.NopCloser(bytes.NewReader(body))
			out.ContentLength = int64(len(body))
			out.TransferEncoding = nil
		}

		rt.proxies[p].ServeHTTP(rec, out)
		inFlight = nil
		served = p

		if r.Context().Err() != nil && a.err != nil {
			rt.logger.Debug("Client went away",
				slog.String("request_id", requestID),
				slog.String("pool", p.Name()))
			status = StatusClientClosedRequest
			break
		}

		upstream = append(upstream, a.upstreamStatus())

		if !a.failed(rt.retryable) {
			rt.recordBreaker(p, false)
			status = rec.status
			break
		}

		rt.recordBreaker(p, true)
		rt.collector.Emit(metrics.MetricEvent{Type: metrics.EventAttemptFailed, Pool: p.Name()})
		rt.logger.Warn("Upstream attempt failed",
			slog.String("request_id", requestID),
			slog.String("pool", p.Name()),
			slog.Int("attempt", a.number),
			slog.Bool("final", a.final),
			slog.Any("err", a.err),
			slog.Int("status", a.status))

		if a.final {
			status = rec.status
			if status == 0 {
				status = a.upstreamStatus()
			}
		}
	}

	if len(upstream) > 1 && outcome.ClassOf(status) == outcome.ClassSuccess {
		rt.logger.Info("Request served by alternate pool",
			slog.String("request_id", requestID),
			slog.String("pool", served.Name()),
			slog.Any("upstream_status", upstream))
	}

	rt.record(r, requestID, start, served, status, upstream)
}

// recordAbort records a request whose response was cut off mid-body. The
// client already saw the upstream headers, so no further attempt is made.
func (rt *Router) recordAbort(r *http.Request, requestID string, start time.Time, a *attempt, upstream []int) {
	if r.Context().Err() != nil {
		rt.record(r, requestID, start, a.pool, StatusClientClosedRequest, upstream)
		return
	}

	rt.recordBreaker(a.pool, true)
	rt.collector.Emit(metrics.MetricEvent{Type: metrics.EventAttemptFailed, Pool: a.pool.Name()})
	rt.logger.Warn("Upstream response aborted",
		slog.String("request_id", requestID),
		slog.String("pool", a.pool.Name()),
		slog.Int("attempt", a.number),
		slog.Int("status", a.status))

	upstream = append(upstream, http.StatusBadGateway)
	rt.record(r, requestID, start, a.pool, http.StatusBadGateway, upstream)
}

func (rt *Router) recordBreaker(p *pool.Pool, failed bool) {
	if rt.breakers == nil {
		return
	}

	cb := rt.breakers.GetBreaker(p.Name())
	if failed {
		cb.RecordFailure()
		return
	}
	cb.RecordSuccess()
}

func (rt *Router) record(r *http.Request, requestID string, start time.Time, served *pool.Pool, status int, upstream []int) {
	latency := rt.now().Sub(start)

	o := outcome.Outcome{
		Time:           start,
		RequestID:      requestID,
		Method:         r.Method,
		Path:           r.URL.Path,
		Status:         status,
		Class:          outcome.ClassOf(status),
		UpstreamStatus: upstream,
		Attempts:       len(upstream),
		LatencyMS:      float64(latency) / float64(time.Millisecond),
	}
	if served != nil {
		o.Pool = served.Name()
		o.Release = served.Release()
	}

	if rt.outcomes != nil {
		rt.outcomes.Write(o)
	}

	rt.collector.Emit(metrics.MetricEvent{
		Type:       metrics.EventRequestRouted,
		Pool:       o.Pool,
		Duration:   latency,
		StatusCode: status,
		Attempts:   o.Attempts,
	})

	rt.logger.Debug("Request routed",
		slog.String("request_id", requestID),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("pool", o.Pool),
		slog.Int("status", status),
		slog.Duration("latency", latency))
}

func bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	defer r.Body.Close()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	return body, nil
}
