package bootstrap

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"

	"github.com/openctemio/qualitygate/internal/config"
	"github.com/openctemio/qualitygate/pkg/crypto"
)

func TestNewEncryptor(t *testing.T) {
	key := base64.StdEncoding.EncodeToString(make([]byte, 32))

	enc, err := NewEncryptor(key, "", "")
	require.NoError(t, err)
	assert.IsType(t, &crypto.Cipher{}, enc)

	enc, err = NewEncryptor("", "passphrase", "salt")
	require.NoError(t, err)
	sealed, err := enc.EncryptString("API_TOKEN", "tok-123")
	require.NoError(t, err)
	assert.NotEqual(t, "tok-123", sealed)

	enc, err = NewEncryptor("", "", "")
	require.NoError(t, err)
	assert.Equal(t, crypto.NoOpEncryptor{}, enc)

	_, err = NewEncryptor("not-base64!", "", "")
	assert.Error(t, err)
}

func TestManagerConfig(t *testing.T) {
	cfg := &config.Config{
		Workflow: config.WorkflowConfig{
			RootFile:          "qg-config.yaml",
			ExecutorNamespace: "qualitygate",
			PullPolicy:        "Always",
			Images:            []config.ImageRule{{Constraint: "^1", Image: "reg/qg-engine:1"}},
			PrivateCloud:      true,
			HTTPSProxy:        "http://proxy:3128",
			ImagePullSecret:   "registry-creds",
		},
		Poller: config.PollerConfig{RunTimeout: 45 * time.Minute},
	}

	mc := managerConfig(cfg)
	assert.Equal(t, "qualitygate", mc.ExecutorNamespace)
	assert.Equal(t, corev1.PullAlways, mc.PullPolicy)
	require.Len(t, mc.Images, 1)
	assert.Equal(t, "reg/qg-engine:1", mc.Images[0].Image)
	assert.True(t, mc.Cloud.Private)
	assert.Equal(t, "registry-creds", mc.Cloud.PullSecret)
	assert.Equal(t, 45*time.Minute, mc.RunTimeout)
}

func TestNewSweepLock(t *testing.T) {
	lock, err := NewSweepLock(&config.PollerConfig{Interval: time.Second}, nil)
	require.NoError(t, err)
	assert.Nil(t, lock)

	_, err = NewSweepLock(&config.PollerConfig{Interval: time.Second, DistributedLock: true}, nil)
	assert.ErrorIs(t, err, ErrLockNeedsRedis)
}
