// Package llm provides reasoning providers backed by chat-completion
// models.
//
// HTTP talks to any OpenAI-compatible endpoint directly and asks for
// schema-constrained output through response_format. LangChain drives a
// langchaingo model in JSON mode. Both return the model's JSON text
// unchanged apart from stripping a surrounding code fence; validation
// against the request schema happens on the reasoning bus.
package llm
