package model_test

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/gazou/internal/model"
)

func TestNewGenerateResponse(t *testing.T) {
	id := uuid.New()
	b := &model.BatchResult{
		Tier:      model.TierFast,
		Rule:      "speed_keyword",
		Model:     "flash",
		Requested: 3,
		Attempts: []model.Attempt{
			{Index: 0, Outcome: model.OutcomeSuccess, ArtifactIDs: []uuid.UUID{id}},
			{Index: 1, Outcome: model.OutcomeFailed, Error: "empty result"},
			{Index: 2, Outcome: model.OutcomeFailed, Error: "storage failure"},
		},
		Artifacts: []model.ArtifactRef{{Handle: model.Handle{ID: id}, MIMEType: "image/png"}},
	}

	resp := model.NewGenerateResponse(b, []string{"w"})
	assert.Equal(t, 3, resp.Requested)
	assert.Equal(t, 1, resp.Returned)
	assert.Equal(t, 1, resp.Succeeded)
	assert.Equal(t, 2, resp.Failed)
	require.Len(t, resp.Artifacts, 1)
	assert.Equal(t, id, resp.Artifacts[0].ID)
	assert.Nil(t, resp.Artifacts[0].Thumbnail)
	assert.Equal(t, []string{"w"}, resp.Warnings)
}

func TestGeneratedArtifactFlattensRef(t *testing.T) {
	id := uuid.New()
	a := model.GeneratedArtifact{
		ArtifactRef:       model.ArtifactRef{Handle: model.Handle{ID: id, Width: 4, Height: 2}, Attempt: 1},
		Thumbnail:         []byte{1, 2, 3},
		ThumbnailMIMEType: "image/jpeg",
	}
	raw, err := json.Marshal(a)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.Equal(t, id.String(), fields["id"])
	assert.Equal(t, float64(4), fields["width"])
	assert.Equal(t, "AQID", fields["thumbnail"])
}
