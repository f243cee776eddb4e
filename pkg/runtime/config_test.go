package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWorkloadConfig(t *testing.T) {
	cfg, err := ParseWorkloadConfig(`
image: docker.io/nginx:latest
env:
  PORT: "8080"
ports:
  - hostPort: 8080
    containerPort: 80
mounts:
  - source: /data
    target: /var/lib/data
    readOnly: true
`)
	require.NoError(t, err)
	assert.Equal(t, "docker.io/nginx:latest", cfg.Image)
	assert.Equal(t, map[string]string{"PORT": "8080"}, cfg.Env)
	require.Len(t, cfg.Ports, 1)
	assert.Equal(t, 8080, cfg.Ports[0].HostPort)
	assert.Equal(t, 80, cfg.Ports[0].ContainerPort)
	require.Len(t, cfg.Mounts, 1)
	assert.True(t, cfg.Mounts[0].ReadOnly)
}

func TestParseWorkloadConfigMissingImage(t *testing.T) {
	_, err := ParseWorkloadConfig("env:\n  A: b\n")
	assert.ErrorContains(t, err, "image")
}

func TestParseWorkloadConfigUnknownField(t *testing.T) {
	_, err := ParseWorkloadConfig("image: nginx\nimagge: typo\n")
	assert.Error(t, err)
}

func TestEnvList(t *testing.T) {
	cfg := WorkloadConfig{Env: map[string]string{"A": "1"}}
	assert.Equal(t, []string{"A=1"}, cfg.EnvList())
}
