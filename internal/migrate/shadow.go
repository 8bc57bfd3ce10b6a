package migrate

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/astroline/platform/gateway/internal/retrieval"
)

const shadowTimeout = 5 * time.Second

// shadowJob is one sampled comparison against the target backend.
type shadowJob struct {
	query      string
	tenant     string
	primaryIDs []string
}

// ShadowSampler mirrors a sample of primary reads to the target backend and
// observes agreement@5 between the two result sets. It never blocks or
// fails the primary request: a full queue drops the comparison and counts
// the drop.
type ShadowSampler struct {
	target     retrieval.Backend
	sampleRate float64
	queue      chan shadowJob
	pacer      *rate.Limiter
	agreement  *prometheus.HistogramVec
	dropped    *prometheus.CounterVec
	logger     zerolog.Logger
	rng        func() float64

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// ShadowConfig carries the explicit dependencies of a ShadowSampler.
type ShadowConfig struct {
	Target retrieval.Backend
	// SampleRate is clamped to [0, 1]; out-of-range values fall back to 0.10.
	SampleRate float64
	QueueSize  int
	Workers    int
	// TargetQPS paces calls against the target so shadow traffic cannot
	// overwhelm a backend still being sized.
	TargetQPS float64
	Agreement *prometheus.HistogramVec
	Dropped   *prometheus.CounterVec
	Logger    zerolog.Logger
}

// ClampSampleRate normalizes a configured sampling rate.
func ClampSampleRate(raw float64, fallback float64) float64 {
	if raw < 0 || raw > 1 {
		return fallback
	}
	return raw
}

func NewShadowSampler(cfg ShadowConfig) *ShadowSampler {
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 256
	}
	if cfg.Workers < 1 {
		cfg.Workers = 2
	}
	if cfg.TargetQPS <= 0 {
		cfg.TargetQPS = 20
	}
	s := &ShadowSampler{
		target:     cfg.Target,
		sampleRate: ClampSampleRate(cfg.SampleRate, 0.10),
		queue:      make(chan shadowJob, cfg.QueueSize),
		pacer:      rate.NewLimiter(rate.Limit(cfg.TargetQPS), 1),
		agreement:  cfg.Agreement,
		dropped:    cfg.Dropped,
		logger:     cfg.Logger,
		rng:        rand.Float64,
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	for i := 0; i < cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}
	return s
}

// Sample possibly enqueues a comparison for the given primary result set.
func (s *ShadowSampler) Sample(query, tenant string, primaryIDs []string) {
	if s.rng() >= s.sampleRate {
		return
	}
	job := shadowJob{query: query, tenant: tenant, primaryIDs: append([]string(nil), primaryIDs...)}
	select {
	case s.queue <- job:
	default:
		if s.dropped != nil {
			s.dropped.WithLabelValues("queue_full").Inc()
		}
	}
}

func (s *ShadowSampler) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-s.queue:
			s.compare(ctx, job)
		}
	}
}

func (s *ShadowSampler) compare(ctx context.Context, job shadowJob) {
	if err := s.pacer.Wait(ctx); err != nil {
		return
	}
	callCtx, cancel := context.WithTimeout(ctx, shadowTimeout)
	defer cancel()

	results, err := s.target.Search(callCtx, job.query, 5, job.tenant)
	if err != nil {
		if s.dropped != nil {
			s.dropped.WithLabelValues("target_error").Inc()
		}
		s.logger.Warn().Err(err).Str("tenant", job.tenant).Msg("shadow read failed")
		return
	}
	score := AgreementAtK(job.primaryIDs, retrieval.ResultIDs(results), 5)
	if s.agreement != nil {
		s.agreement.WithLabelValues(s.target.Name()).Observe(score)
	}
}

// Close stops the workers. Queued jobs that were not yet compared are
// discarded; shadow data is advisory only.
func (s *ShadowSampler) Close() {
	s.cancel()
	s.wg.Wait()
}
