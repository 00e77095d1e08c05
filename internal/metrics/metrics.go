package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gin-gonic/gin"
)

var (
	DeploymentsActive *prometheus.GaugeVec
	DeploymentsTotal  *prometheus.CounterVec
	DeploymentsFailed *prometheus.CounterVec
	StepDuration      *prometheus.HistogramVec
	TeardownFailures  *prometheus.CounterVec
)

func Init() {
	DeploymentsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "stackdeploy",
			Name:      "deployments_active",
			Help:      "Deployments currently provisioning",
		},
		[]string{"backend"},
	)

	DeploymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stackdeploy",
			Name:      "deployments_total",
			Help:      "Total deployment requests accepted",
		},
		[]string{"backend"},
	)

	DeploymentsFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stackdeploy",
			Name:      "deployments_failed",
			Help:      "Deployments that ended with success=false",
		},
		[]string{"backend"},
	)

	StepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "stackdeploy",
			Name:      "step_duration_seconds",
			Help:      "Wall-clock duration of provisioning steps",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
		},
		[]string{"phase", "step"},
	)

	TeardownFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stackdeploy",
			Name:      "teardown_failures_total",
			Help:      "Resources that could not be destroyed during teardown",
		},
		[]string{"kind"},
	)

	prometheus.MustRegister(
		DeploymentsActive,
		DeploymentsTotal,
		DeploymentsFailed,
		StepDuration,
		TeardownFailures,
	)
}

// Handler exposes the prometheus registry on a gin route.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
