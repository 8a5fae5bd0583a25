package observability

import (
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// WriteMetrics writes every metric family gathered from registry to w in
// the Prometheus text exposition format.
func WriteMetrics(w io.Writer, registry prometheus.Gatherer) error {
	families, err := registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}

	for _, family := range families {
		_, err = expfmt.MetricFamilyToText(w, family)
		if err != nil {
			return fmt.Errorf("write metric %s: %w", family.GetName(), err)
		}
	}

	return nil
}
