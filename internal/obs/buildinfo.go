package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfoOnce sync.Once

	// buildInfo: gauge со статич. значением 1 и метками версии/коммита.
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "console_build_info",
			Help: "ZippyTrip console API build information.",
		},
		[]string{"version", "commit", "provider"},
	)
)

// InitBuildInfo registers build_info once and publishes the running version
// together with the identity provider kind in use.
func InitBuildInfo(version, commit, provider string) {
	buildInfoOnce.Do(func() {
		prometheus.MustRegister(buildInfo)
	})
	if commit == "" {
		commit = "unknown"
	}
	buildInfo.WithLabelValues(version, commit, provider).Set(1)
}
