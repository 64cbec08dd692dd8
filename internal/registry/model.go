package registry

import (
	"github.com/Yurzs/ollama-x/internal/store"
)

// OllamaModel is cached per-model metadata fetched from a backend's
// /api/show?verbose=true (spec §3 "OllamaModel (cached metadata)"), unique
// by (id, digest): a model is re-fetched and its row replaced whenever a
// backend reports a digest the cache doesn't already hold.
type OllamaModel struct {
	ID        string         `json:"id" bson:"_id"`
	Digest    string         `json:"digest" bson:"digest"`
	Modelfile string         `json:"modelfile,omitempty" bson:"modelfile,omitempty"`
	Template  string         `json:"template,omitempty" bson:"template,omitempty"`
	Details   map[string]any `json:"details,omitempty" bson:"details,omitempty"`
	Info      map[string]any `json:"info,omitempty" bson:"info,omitempty"`
}

// ModelRepository is the subset of store.Repository[OllamaModel] the
// registry needs.
type ModelRepository = store.Repository[OllamaModel]

// ModelIndexes declares the indexes for the cached-model-metadata
// collection: one row per model id, mirroring
// ollama_x/scheduler.py's save_models_info upsert-by-name behavior.
func ModelIndexes() []store.IndexSpec {
	return []store.IndexSpec{
		{Name: "id_unique", Keys: []string{"_id"}, Unique: true},
	}
}
