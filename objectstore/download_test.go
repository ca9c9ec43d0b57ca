package objectstore

import (
	"context"
	"path/filepath"
	"testing"

	swifttest "github.com/bitrise-io/go-swiftclient/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_DownloadFile(t *testing.T) {
	server := swifttest.NewServer(testUser, testPassword)
	defer server.Close()
	client := newTestClient(t, server)
	dir := t.TempDir()

	data := testPayload(5000)
	server.PutObject("c", "dir/archive.tar", data)
	server.PutObject("c", "empty", nil)

	tests := []struct {
		name    string
		object  string
		want    []byte
		wantErr bool
	}{
		{name: "object", object: "dir/archive.tar", want: data},
		{name: "empty object", object: "empty", want: []byte{}},
		{name: "missing object", object: "missing", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dest := filepath.Join(dir, filepath.Base(tt.object))

			err := client.DownloadFile(context.Background(), "c", tt.object, dest)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, IsNotFound(err))
				return
			}
			require.NoError(t, err)
			require.NoError(t, swifttest.NewFileChecker(dest).IsFile().Content(tt.want).Check())
		})
	}
}
