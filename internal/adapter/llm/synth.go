package llm

import (
	"bytes"
	"encoding/json"
	"io"
)

// Synthesize renders text as a complete single-delta completion stream in the
// same wire format the upstream produces.
func Synthesize(text string) []byte {
	chunk := openaiStreamChunk{
		Choices: []openaiStreamChoice{{Delta: openaiStreamDelta{Content: text}}},
	}
	payload, _ := json.Marshal(chunk) // plain strings always marshal

	var b bytes.Buffer
	b.Grow(len(payload) + 32)
	b.WriteString("data: ")
	b.Write(payload)
	b.WriteString("\n\ndata: [DONE]\n\n")
	return b.Bytes()
}

// SynthesizeStream implements domain.CompletionProvider.
func (c *Client) SynthesizeStream(text string) io.ReadCloser {
	return io.NopCloser(bytes.NewReader(Synthesize(text)))
}
