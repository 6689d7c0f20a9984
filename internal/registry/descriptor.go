// Package registry owns the pyramid descriptor documents: their data
// model, their tile-state machine, and their persistence.
package registry

import (
	"encoding/json"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// TileState enumerates the lifecycle of a pyramid's tile set:
//
//	pending ──► processing ──► done   (terminal)
//	                    └────► failed (terminal)
type TileState string

const (
	TilePending    TileState = "pending"
	TileProcessing TileState = "processing"
	TileDone       TileState = "done"
	TileFailed     TileState = "failed"
)

// Terminal reports whether no further transitions are allowed from s.
func (s TileState) Terminal() bool {
	return s == TileDone || s == TileFailed
}

// TileSet is the tagged value of a descriptor's tiles field. Levels is
// populated only in state done, Reason only in state failed.
type TileSet struct {
	State  TileState
	Levels []LevelTiles
	Reason string
}

func Pending() TileSet    { return TileSet{State: TilePending} }
func Processing() TileSet { return TileSet{State: TileProcessing} }

func Done(levels []LevelTiles) TileSet {
	return TileSet{State: TileDone, Levels: levels}
}

func Failed(reason string) TileSet {
	return TileSet{State: TileFailed, Reason: reason}
}

// LevelTiles is the per-level tile manifest published when tiling is
// done.
type LevelTiles struct {
	Index  int         `json:"index" bson:"index"`
	Width  int         `json:"width" bson:"width"`
	Height int         `json:"height" bson:"height"`
	Tiles  []TileEntry `json:"tiles" bson:"tiles"`
}

// TileEntry locates one tile blob within its level. Index is the flat
// row-major position; Name is the public handle served under /tile/.
type TileEntry struct {
	Index  int    `json:"index" bson:"index"`
	X      int    `json:"x" bson:"x"`
	Y      int    `json:"y" bson:"y"`
	Width  int    `json:"width" bson:"width"`
	Height int    `json:"height" bson:"height"`
	BlobID string `json:"blob_id" bson:"blob_id"`
	Name   string `json:"name" bson:"name"`
}

// Level describes one pyramid level raster and its blob.
type Level struct {
	Index  int    `json:"index" bson:"index"`
	Width  int    `json:"width" bson:"width"`
	Height int    `json:"height" bson:"height"`
	BlobID string `json:"blob_id" bson:"blob_id"`
	URL    string `json:"url" bson:"url"`
}

// Descriptor is the authoritative per-pyramid document. The registry is
// its only owner; the tiles field is mutated exclusively through Claim and
// SetTiles, and never after it reaches a terminal state.
type Descriptor struct {
	UUID             string    `json:"uuid" bson:"uuid"`
	MimeType         string    `json:"mime_type" bson:"mime_type"`
	OriginalFilename string    `json:"original_filename,omitempty" bson:"original_filename,omitempty"`
	Levels           []Level   `json:"levels" bson:"levels"`
	Tiles            TileSet   `json:"tiles" bson:"tiles"`
	CreatedAt        time.Time `json:"created_at" bson:"created_at"`
}

// LevelURL is the public path of one level raster.
func LevelURL(uuid string, index int) string {
	return fmt.Sprintf("/image/%s_L%d", uuid, index)
}

// LevelName is the blob-serving handle of one level raster.
func LevelName(uuid string, index int) string {
	return fmt.Sprintf("%s_L%d", uuid, index)
}

// TileName is the public handle of one tile blob.
func TileName(uuid string, level, tile int) string {
	return fmt.Sprintf("%s_L%d_T%d", uuid, level, tile)
}

// tileSetDoc is the wire form of the done and failed variants.
type tileSetDoc struct {
	State      TileState    `json:"state" bson:"state"`
	LevelTiles []LevelTiles `json:"level_tiles,omitempty" bson:"level_tiles,omitempty"`
	Reason     string       `json:"reason,omitempty" bson:"reason,omitempty"`
}

// MarshalJSON writes pending and processing as bare strings, done and
// failed as tagged objects, matching the published descriptor shape.
func (ts TileSet) MarshalJSON() ([]byte, error) {
	switch ts.State {
	case TilePending, TileProcessing:
		return json.Marshal(string(ts.State))
	case TileDone:
		return json.Marshal(tileSetDoc{State: TileDone, LevelTiles: ts.Levels})
	case TileFailed:
		return json.Marshal(tileSetDoc{State: TileFailed, Reason: ts.Reason})
	}
	return nil, fmt.Errorf("registry: invalid tile state %q", ts.State)
}

func (ts *TileSet) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return ts.fromState(TileState(s), nil, "")
	}
	var doc tileSetDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("registry: decode tiles field: %w", err)
	}
	return ts.fromState(doc.State, doc.LevelTiles, doc.Reason)
}

// MarshalBSONValue stores the tiles field in the same tagged shape the
// JSON surface exposes, so a raw document read is self-describing.
func (ts TileSet) MarshalBSONValue() (bsontype.Type, []byte, error) {
	switch ts.State {
	case TilePending, TileProcessing:
		return bson.MarshalValue(string(ts.State))
	case TileDone:
		return bson.MarshalValue(tileSetDoc{State: TileDone, LevelTiles: ts.Levels})
	case TileFailed:
		return bson.MarshalValue(tileSetDoc{State: TileFailed, Reason: ts.Reason})
	}
	return 0, nil, fmt.Errorf("registry: invalid tile state %q", ts.State)
}

func (ts *TileSet) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	switch t {
	case bsontype.String:
		rv := bson.RawValue{Type: t, Value: data}
		return ts.fromState(TileState(rv.StringValue()), nil, "")
	case bsontype.EmbeddedDocument:
		var doc tileSetDoc
		if err := bson.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("registry: decode tiles field: %w", err)
		}
		return ts.fromState(doc.State, doc.LevelTiles, doc.Reason)
	}
	return fmt.Errorf("registry: unexpected BSON type %s for tiles field", t)
}

func (ts *TileSet) fromState(state TileState, levels []LevelTiles, reason string) error {
	switch state {
	case TilePending, TileProcessing, TileDone, TileFailed:
		ts.State = state
		ts.Levels = levels
		ts.Reason = reason
		return nil
	}
	return fmt.Errorf("registry: invalid tile state %q", state)
}
