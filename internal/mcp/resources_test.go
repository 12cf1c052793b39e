package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/gazou/internal/artifact"
)

func TestParseArtifactURI(t *testing.T) {
	id := uuid.New()
	tests := []struct {
		name      string
		uri       string
		wantThumb bool
		wantError bool
	}{
		{name: "full image", uri: "gazou://artifacts/" + id.String()},
		{name: "thumbnail", uri: "gazou://artifacts/" + id.String() + "/thumbnail", wantThumb: true},
		{name: "wrong prefix", uri: "other://artifacts/" + id.String(), wantError: true},
		{name: "empty id", uri: "gazou://artifacts/", wantError: true},
		{name: "empty id with suffix", uri: "gazou://artifacts//thumbnail", wantError: true},
		{name: "not a uuid", uri: "gazou://artifacts/cat", wantError: true},
		{name: "unknown suffix", uri: "gazou://artifacts/" + id.String() + "/raw", wantError: true},
		{name: "empty string", uri: "", wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotID, gotThumb, err := parseArtifactURI(tt.uri)
			if tt.wantError {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, id, gotID)
			assert.Equal(t, tt.wantThumb, gotThumb)
		})
	}
}

func readRequest(uri string) mcplib.ReadResourceRequest {
	return mcplib.ReadResourceRequest{Params: mcplib.ReadResourceParams{URI: uri}}
}

func TestHandleArtifactResource(t *testing.T) {
	env := newTestEnv(t, nil)
	id := mustGenerate(t, env)
	full, err := env.store.Get(context.Background(), id)
	require.NoError(t, err)

	uri := "gazou://artifacts/" + id.String()
	contents, err := env.server.handleArtifactResource(context.Background(), readRequest(uri))
	require.NoError(t, err)
	require.Len(t, contents, 1)
	blob, ok := contents[0].(mcplib.BlobResourceContents)
	require.True(t, ok)
	assert.Equal(t, uri, blob.URI)
	assert.Equal(t, "image/png", blob.MIMEType)
	data, err := base64.StdEncoding.DecodeString(blob.Blob)
	require.NoError(t, err)
	assert.Equal(t, full.Data, data)

	contents, err = env.server.handleArtifactResource(context.Background(), readRequest(uri+"/thumbnail"))
	require.NoError(t, err)
	thumb, ok := contents[0].(mcplib.BlobResourceContents)
	require.True(t, ok)
	assert.Equal(t, artifact.ThumbnailMIMEType, thumb.MIMEType)
}

func TestHandleArtifactResource_NotFound(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.server.handleArtifactResource(context.Background(), readRequest("gazou://artifacts/"+uuid.New().String()))
	require.Error(t, err)
	assert.ErrorIs(t, err, artifact.ErrNotFound)
}

func TestHandleTiersResource(t *testing.T) {
	env := newTestEnv(t, nil)
	contents, err := env.server.handleTiersResource(context.Background(), readRequest("gazou://tiers"))
	require.NoError(t, err)
	require.Len(t, contents, 1)
	text, ok := contents[0].(mcplib.TextResourceContents)
	require.True(t, ok)

	var tiers []map[string]any
	require.NoError(t, json.Unmarshal([]byte(text.Text), &tiers))
	require.Len(t, tiers, 2)
	assert.Equal(t, "Flash", tiers[0]["name"])
	assert.Equal(t, "Pro", tiers[1]["name"])
}

func TestHandleSessionRecent_NoSession(t *testing.T) {
	env := newTestEnv(t, nil)
	contents, err := env.server.handleSessionRecent(context.Background(), readRequest("gazou://session/recent"))
	require.NoError(t, err)
	text, ok := contents[0].(mcplib.TextResourceContents)
	require.True(t, ok)
	assert.JSONEq(t, `{"artifacts": []}`, text.Text)
}
