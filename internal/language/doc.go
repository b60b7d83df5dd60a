// Package language normalizes the language values that transcription
// backends and configuration files use into ISO 639-1 codes.
package language
