package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgconfig "github.com/kernelpoetlaureate/Predictive-CPU-Frequency-Scaling/pkg/config"
)

func TestLoad_Defaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "predictd.yml")
	require.NoError(t, os.WriteFile(path, []byte("governor:\n  cpus: [0, 2]\n"), 0644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2}, c.Governor.CPUs)
	assert.Equal(t, 50*time.Millisecond, c.Governor.SampleRateDuration())
	assert.Equal(t, uint32(100000), c.Governor.MinFreqChange)
	assert.Equal(t, uint32(50), c.Model.AggressivenessValue())
	assert.Equal(t, uint32(10), c.Model.LearningRate)
	assert.Equal(t, 100*time.Millisecond, c.Model.PredictionWindowDuration())
	assert.Equal(t, "/proc", c.Paths.Proc)
	assert.Equal(t, uint16(pkgconfig.DefaultHTTPPort), c.HTTP.Port)
	assert.False(t, c.HTTP.Enabled)
}

func TestParse_ExplicitValues(t *testing.T) {
	c, err := Parse([]byte(`
governor:
  sample_rate: 20ms
  min_freq_change: 200000
  dry_run: true
model:
  aggressiveness: 0
  prediction_window: 250ms
paths:
  sysfs_cpu: /tmp/sys
http:
  enabled: true
  port: 9000
export:
  enabled: true
  url: ws://collector:8080/ingest
`))
	require.NoError(t, err)
	assert.Equal(t, 20*time.Millisecond, c.Governor.SampleRateDuration())
	assert.Equal(t, uint32(200000), c.Governor.MinFreqChange)
	assert.True(t, c.Governor.DryRun)
	assert.Equal(t, uint32(0), c.Model.AggressivenessValue(), "explicit zero survives defaults")
	assert.Equal(t, 250*time.Millisecond, c.Model.PredictionWindowDuration())
	assert.Equal(t, "/tmp/sys", c.Paths.SysfsCPU)
	assert.Equal(t, uint16(9000), c.HTTP.Port)
	assert.Equal(t, pkgconfig.DefaultQueueSize, c.Export.QueueSize)
}

func TestParse_Invalid(t *testing.T) {
	for _, tc := range []struct {
		name string
		yaml string
	}{
		{"syntax", "governor: ["},
		{"aggressiveness", "model:\n  aggressiveness: 101\n"},
		{"sample rate", "governor:\n  sample_rate: fast\n"},
		{"negative cpu", "governor:\n  cpus: [-1]\n"},
		{"export without url", "export:\n  enabled: true\n"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestAppConfig(t *testing.T) {
	t.Cleanup(func() { SetAppConfig(nil) })
	assert.Nil(t, GetAppConfig())
	c := pkgconfig.Default()
	SetAppConfig(c)
	assert.Same(t, c, GetAppConfig())
}
