package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
)

// redisCollector exposes the live backlog state: pending verification
// requests, owed settlements and per-asset pool balances.
type redisCollector struct {
	rdb    *redis.Client
	logger *slog.Logger

	owedDepthDesc   *prometheus.Desc
	poolBalanceDesc *prometheus.Desc
	tasksDesc       *prometheus.Desc
	requestsDesc    *prometheus.Desc
}

func newRedisCollector(rdb *redis.Client, logger *slog.Logger) *redisCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisCollector{
		rdb:    rdb,
		logger: logger,
		owedDepthDesc: prometheus.NewDesc(
			"homare_owed_settlements",
			"Current number of recorded-but-unpaid settlement obligations.",
			nil,
			nil,
		),
		poolBalanceDesc: prometheus.NewDesc(
			"homare_pool_balance",
			"Current pool balance by asset.",
			[]string{"asset"},
			nil,
		),
		tasksDesc: prometheus.NewDesc(
			"homare_tasks",
			"Current number of tasks in the registry.",
			nil,
			nil,
		),
		requestsDesc: prometheus.NewDesc(
			"homare_verification_requests",
			"Total verification requests issued so far.",
			nil,
			nil,
		),
	}
}

func (c *redisCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.owedDepthDesc
	ch <- c.poolBalanceDesc
	ch <- c.tasksDesc
	ch <- c.requestsDesc
}

func (c *redisCollector) Collect(ch chan<- prometheus.Metric) {
	if c.rdb == nil {
		return
	}

	// Keep Redis reads bounded so scrapes do not hang.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	owed, err := c.rdb.ZCard(ctx, "homare:owed").Result()
	if err != nil && err != redis.Nil {
		c.logger.Warn("prometheus redis collector failed", "err", err)
		return
	}
	emitGauge(ch, c.owedDepthDesc, float64(owed))

	if tasks, err := c.rdb.HLen(ctx, "homare:tasks").Result(); err == nil {
		emitGauge(ch, c.tasksDesc, float64(tasks))
	}
	if reqs, err := c.rdb.Get(ctx, "homare:verifications:seq").Int64(); err == nil {
		emitGauge(ch, c.requestsDesc, float64(reqs))
	}

	assets, err := c.rdb.SMembers(ctx, "homare:assets").Result()
	if err != nil {
		return
	}
	for _, asset := range assets {
		bal, err := c.rdb.Get(ctx, "homare:pool:"+asset).Int64()
		if err != nil && err != redis.Nil {
			continue
		}
		emitGauge(ch, c.poolBalanceDesc, float64(bal), asset)
	}
}

func emitGauge(ch chan<- prometheus.Metric, desc *prometheus.Desc, v float64, labelValues ...string) {
	m, err := prometheus.NewConstMetric(desc, prometheus.GaugeValue, v, labelValues...)
	if err != nil {
		return
	}
	ch <- m
}

var registerRedisCollectorOnce sync.Once

func RegisterRedisCollector(rdb *redis.Client, logger *slog.Logger) {
	registerRedisCollectorOnce.Do(func() {
		prometheus.MustRegister(newRedisCollector(rdb, logger))
	})
}
