package tools

import (
	"context"
	"encoding/json"
)

type displayImageArgs struct {
	Src         string `json:"src" jsonschema:"required,description=Image URL to display"`
	Alt         string `json:"alt" jsonschema:"required,description=Alt text for the image"`
	Title       string `json:"title,omitempty" jsonschema:"description=Optional caption title"`
	Description string `json:"description,omitempty" jsonschema:"description=Optional caption body"`
}

// DisplayImageTool is a UI hint: it performs no I/O, it just echoes a
// render directive the client picks out of the tool result.
type DisplayImageTool struct{}

func NewDisplayImageTool() *DisplayImageTool { return &DisplayImageTool{} }

func (t *DisplayImageTool) Name() string { return "display_image" }

func (t *DisplayImageTool) Description() string {
	return "Display an image to the user. Use when an image URL would answer better than describing it."
}

func (t *DisplayImageTool) ArgsSchema() map[string]any {
	return argsSchema[displayImageArgs]()
}

func (t *DisplayImageTool) Invoke(_ context.Context, args map[string]any) ToolOutcome {
	src := stringArg(args, "src")
	if src == "" {
		return Failedf("src is required")
	}
	alt := stringArg(args, "alt")
	if alt == "" {
		return Failedf("alt is required")
	}

	directive := map[string]any{
		"type": "image",
		"src":  src,
		"alt":  alt,
	}
	if title := stringArg(args, "title"); title != "" {
		directive["title"] = title
	}
	if description := stringArg(args, "description"); description != "" {
		directive["description"] = description
	}

	data, err := json.Marshal(directive)
	if err != nil {
		return Failed(err)
	}
	return Success(string(data))
}
