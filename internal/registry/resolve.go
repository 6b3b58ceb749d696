package registry

import "errors"

// Resolution errors.
var (
	ErrNoEmbeddingModel  = errors.New("registry: no online embedding model available")
	ErrNoGenerationModel = errors.New("registry: no online chat model available")
)

// resolve returns the preferred model when it is online and carries the
// capability, otherwise the first online capable model in catalog order.
func (r *Registry) resolve(preferredID, capability string) (Model, bool) {
	if preferredID != "" {
		if m, ok := r.Get(preferredID); ok && m.Online() && m.HasCapability(capability) {
			return m, true
		}
	}
	for _, m := range r.List() {
		if m.Online() && m.HasCapability(capability) {
			return m, true
		}
	}
	return Model{}, false
}

// ResolveEmbedding picks the embedding model for an ingestion run.
func (r *Registry) ResolveEmbedding(preferredID string) (Model, error) {
	m, ok := r.resolve(preferredID, CapabilityEmbedding)
	if !ok {
		return Model{}, ErrNoEmbeddingModel
	}
	return m, nil
}

// ResolveGeneration picks the chat model used to answer questions.
func (r *Registry) ResolveGeneration(preferredID string) (Model, error) {
	m, ok := r.resolve(preferredID, CapabilityChat)
	if !ok {
		return Model{}, ErrNoGenerationModel
	}
	return m, nil
}
