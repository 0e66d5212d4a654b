package testclunks

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestImageName(t *testing.T) {
	t.Setenv(natsImageEnv, "")
	require.Equal(t, natsImage, imageName())

	t.Setenv(natsImageEnv, "mirror.local/nats:2.10")
	require.Equal(t, "mirror.local/nats:2.10", imageName())
}
