// Package embeddings turns text into vectors via pluggable providers.
//
// The http provider speaks the OpenAI-compatible embeddings API and is
// the default; the fastembed provider runs local ONNX models and needs
// CGO. Service routes calls to a provider per catalog model, honoring
// per-model endpoint overrides.
package embeddings
