//go:build integration
// +build integration

package integration

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math/rand"
	"testing"

	"github.com/bitrise-io/go-swiftclient/config"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var logger = log.NewLogger()

// openSession connects to the storage configured by the SWIFT_* environment
// variables and creates a throwaway container, removed when the test ends.
func openSession(t *testing.T) (*config.Session, string) {
	t.Helper()
	logger.EnableDebugLog(true)

	cfg, err := config.FromEnv(env.NewRepository())
	if err != nil {
		t.Skipf("storage is not configured: %s", err)
	}

	session, err := config.Open(cfg, logger, nil)
	require.NoError(t, err)

	container := "integration-" + uuid.NewString()
	resp, err := session.Client.PutContainer(context.Background(), container, nil)
	require.NoError(t, err)
	require.NoError(t, resp.Err())

	t.Cleanup(func() {
		ctx := context.Background()
		client := session.Client
		for _, c := range []string{container, client.SegmentContainer(container)} {
			if _, err := client.DeleteContainerContents(ctx, c); err != nil {
				t.Logf("cleanup %s: %s", c, err)
			}
			if _, err := client.DeleteContainer(ctx, c); err != nil {
				t.Logf("delete %s: %s", c, err)
			}
		}
		if err := session.Close(); err != nil {
			t.Logf("close session: %s", err)
		}
	})

	return session, container
}

func randomBytes(size int) []byte {
	data := make([]byte, size)
	_, _ = rand.Read(data)
	return data
}

func checksumOf(bytes []byte) string {
	hash := sha256.New()
	hash.Write(bytes)
	return hex.EncodeToString(hash.Sum(nil))
}
