// Package llm defines the oracle contract used by every agent role: a
// chat-style request made of messages plus the requesting position, answered
// with generated text. Provider adapters live in sub-packages.
package llm
