package registry

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func sampleManifest() []LevelTiles {
	return []LevelTiles{
		{
			Index: 0, Width: 8, Height: 8,
			Tiles: []TileEntry{
				{Index: 0, X: 0, Y: 0, Width: 4, Height: 4, BlobID: "b0", Name: "u_L0_T0"},
				{Index: 1, X: 4, Y: 0, Width: 4, Height: 4, BlobID: "b1", Name: "u_L0_T1"},
			},
		},
		{
			Index: 1, Width: 4, Height: 4,
			Tiles: []TileEntry{
				{Index: 0, X: 0, Y: 0, Width: 4, Height: 4, BlobID: "b2", Name: "u_L1_T0"},
			},
		},
	}
}

func TestTileSetJSONShapes(t *testing.T) {
	tests := []struct {
		name string
		ts   TileSet
		want string
	}{
		{"pending", Pending(), `"pending"`},
		{"processing", Processing(), `"processing"`},
		{"failed", Failed("decode failed"), `{"state":"failed","reason":"decode failed"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.ts)
			require.NoError(t, err)
			require.JSONEq(t, tt.want, string(data))
		})
	}

	data, err := json.Marshal(Done(sampleManifest()))
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	require.Equal(t, "done", doc["state"])
	require.Len(t, doc["level_tiles"], 2)
}

func TestTileSetJSONRoundTrip(t *testing.T) {
	for _, ts := range []TileSet{
		Pending(),
		Processing(),
		Done(sampleManifest()),
		Failed("tile 3 of level 2 did not encode"),
	} {
		data, err := json.Marshal(ts)
		require.NoError(t, err)

		var got TileSet
		require.NoError(t, json.Unmarshal(data, &got))
		require.Equal(t, ts.State, got.State)
		require.Equal(t, ts.Reason, got.Reason)
		require.Equal(t, len(ts.Levels), len(got.Levels))
		if len(ts.Levels) > 0 {
			require.Equal(t, ts.Levels[0].Tiles, got.Levels[0].Tiles)
		}
	}
}

func TestTileSetJSONRejectsUnknownState(t *testing.T) {
	var ts TileSet
	require.Error(t, json.Unmarshal([]byte(`"todo"`), &ts))
	require.Error(t, json.Unmarshal([]byte(`{"state":"paused"}`), &ts))
}

func TestDescriptorBSONRoundTrip(t *testing.T) {
	d := Descriptor{
		UUID:     "11111111-2222-3333-4444-555555555555",
		MimeType: "image/png",
		Levels: []Level{
			{Index: 0, Width: 8, Height: 8, BlobID: "blob0", URL: LevelURL("u", 0)},
		},
		Tiles:     Done(sampleManifest()),
		CreatedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	raw, err := bson.Marshal(d)
	require.NoError(t, err)

	var got Descriptor
	require.NoError(t, bson.Unmarshal(raw, &got))
	require.Equal(t, d.UUID, got.UUID)
	require.Equal(t, TileDone, got.Tiles.State)
	require.Equal(t, d.Tiles.Levels, got.Tiles.Levels)
}

func TestDescriptorBSONPendingIsString(t *testing.T) {
	d := Descriptor{UUID: "x", MimeType: "image/png", Tiles: Pending()}
	raw, err := bson.Marshal(d)
	require.NoError(t, err)

	// The pending variant must be stored as a bare string so that the
	// conditional claim filter {"tiles": "pending"} matches it.
	var doc bson.M
	require.NoError(t, bson.Unmarshal(raw, &doc))
	require.Equal(t, "pending", doc["tiles"])
}

func TestNames(t *testing.T) {
	require.Equal(t, "/image/abc_L3", LevelURL("abc", 3))
	require.Equal(t, "abc_L3", LevelName("abc", 3))
	require.Equal(t, "abc_L2_T17", TileName("abc", 2, 17))
}
