package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSetPhase(t *testing.T) {
	phases := []string{"idle", "downloading", "verifying"}

	SetPhase("downloading", phases)
	assert.Equal(t, 0.0, testutil.ToFloat64(PipelinePhase.WithLabelValues("idle")))
	assert.Equal(t, 1.0, testutil.ToFloat64(PipelinePhase.WithLabelValues("downloading")))

	SetPhase("idle", phases)
	assert.Equal(t, 1.0, testutil.ToFloat64(PipelinePhase.WithLabelValues("idle")))
	assert.Equal(t, 0.0, testutil.ToFloat64(PipelinePhase.WithLabelValues("downloading")))
	assert.Equal(t, 0.0, testutil.ToFloat64(PipelinePhase.WithLabelValues("verifying")))
}

func TestRegistryGathers(t *testing.T) {
	CommandsTotal.WithLabelValues("GetStatus", "ok").Inc()
	SetPhase("idle", []string{"idle"})
	families, err := Registry.Gather()
	assert.NoError(t, err)

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["bankupdate_commands_total"])
	assert.True(t, names["bankupdate_pipeline_phase"])
}
