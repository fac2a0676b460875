package domain

import "encoding/json"

// ToolSchema describes a tool for the LLM function-calling protocol.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolCall represents an LLM's request to invoke a tool.
//
// Streaming providers deliver a call in fragments addressed by Index; Name and
// Arguments are the concatenation of every fragment seen for that index.
type ToolCall struct {
	Index     int    `json:"index"`
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// SearchToolName is the single tool advertised to the model.
const SearchToolName = "search_real_estate_info"

// SearchToolSchema returns the schema of the search tool.
func SearchToolSchema() ToolSchema {
	return ToolSchema{
		Name: SearchToolName,
		Description: "Search the web for current real estate information: property prices, " +
			"land rates, market trends, new projects and infrastructure news for a specific location.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "minLength": 1, "description": "The search query, including the location"}
			},
			"required": ["query"]
		}`),
	}
}

// SearchToolArgs are the decoded arguments of a search tool call.
type SearchToolArgs struct {
	Query string `json:"query"`
}
