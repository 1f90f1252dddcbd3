// Package minutes generates structured meeting minutes from a transcript
// through an OpenAI-compatible chat-completion endpoint.
package minutes
