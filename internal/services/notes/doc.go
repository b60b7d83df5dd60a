// Package notes generates structured lecture notes from a transcript through
// an OpenAI-compatible chat completions endpoint (OpenRouter by default).
//
// The model is asked for a single JSON object carrying markdown notes, a short
// title and the timestamps where slides or board work are likely on screen.
// Those timestamps become the key moments the frames stage extracts stills
// for. Responses wrapped in code fences or prose are tolerated.
package notes
