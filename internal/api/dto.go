package api

// GenerateRequest is the body of POST /v1/generate. Unset sampling fields
// fall back to the server defaults.
type GenerateRequest struct {
	Model  string `json:"model,omitempty"`
	Prompt string `json:"prompt,omitempty"`
	// Tokens is used instead of Prompt when set.
	Tokens      []int    `json:"tokens,omitempty"`
	Length      *int     `json:"length,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	TopK        *int     `json:"top_k,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	NSamples    *int     `json:"nsamples,omitempty"`
	Seed        *int64   `json:"seed,omitempty"`
	Stream      bool     `json:"stream,omitempty"`
}

type GenerateResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Seed    int64    `json:"seed"`
	Samples []Sample `json:"samples"`
	Usage   Usage    `json:"usage"`
}

type Sample struct {
	Index int `json:"index"`
	// Text decodes the prompt and the generated tokens.
	Text   string `json:"text"`
	Tokens []int  `json:"tokens"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type TokenEvent struct {
	Sample int    `json:"sample"`
	ID     int    `json:"id"`
	Text   string `json:"text"`
}

type ErrorBody struct {
	Error ResponseError `json:"error"`
}

type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

type Health struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit,omitempty"`
}
