package adapter

var (
	ToGeminiContents = toGeminiContents
	ToGeminiTools    = toGeminiTools
	GeminiEvents     = geminiEvents
)
