// Package chunking splits document text into ordered, context-preserving
// chunks for embedding and retrieval.
//
// All strategies operate on a whitespace-normalized view of the input (runs
// of whitespace collapsed to a single space, leading/trailing trimmed) and
// report chunk offsets as rune positions into that normalized text. The
// package is pure: no I/O, no clocks, no randomness.
//
// Five strategies are supported:
//
//   - fixed: sliding rune window with configurable overlap
//   - sentence: CJK/Latin sentence units, greedily merged up to the chunk size
//   - paragraph: blank-line units with a sentence fallback for flat text
//   - parent_child: large parent spans re-split into sentence-level children
//   - pageindex: structural heading detection with per-section chunking
//
// Strategy names are resolved through a fixed alias table via
// ResolveStrategy; unrecognized names are rejected rather than silently
// defaulted.
package chunking
