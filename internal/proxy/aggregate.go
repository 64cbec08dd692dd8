package proxy

import (
	"context"
	"time"

	"github.com/Yurzs/ollama-x/internal/registry"
)

// AggregateTags unions every active backend's advertised models, deduped
// by name, mirroring ollama_x/api/proxy.py's get_tags (spec §4.3: "/api/tags
// handler unions all active backends' model lists").
func AggregateTags(ctx context.Context, reg *registry.Registry) ([]registry.ModelInfo, error) {
	backends, err := reg.ActiveForModel(ctx, "", time.Now())
	if err != nil {
		return nil, err
	}

	seen := make(map[string]registry.ModelInfo)
	for _, b := range backends {
		for _, m := range b.Models {
			seen[m.Name] = m
		}
	}

	out := make([]registry.ModelInfo, 0, len(seen))
	for _, m := range seen {
		out = append(out, m)
	}
	return out, nil
}

// AggregatePS unions every active backend's running models (spec §4.3:
// "/api/ps unions running models").
func AggregatePS(ctx context.Context, reg *registry.Registry) ([]registry.RunningModel, error) {
	backends, err := reg.ActiveForModel(ctx, "", time.Now())
	if err != nil {
		return nil, err
	}

	var out []registry.RunningModel
	for _, b := range backends {
		out = append(out, b.RunningModels...)
	}
	return out, nil
}
