package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lorehq/lore/pkg/store"
)

// MemoryService is the slice of the user-memory service the memory
// tools drive.
type MemoryService interface {
	Save(ctx context.Context, userID, fact, category string) (*store.UserMemory, error)
	Recall(ctx context.Context, userID, query string, topK int) ([]store.UserMemory, error)
}

type saveMemoryArgs struct {
	Fact     string `json:"fact" jsonschema:"required,description=The fact to remember about the user"`
	Category string `json:"category,omitempty" jsonschema:"description=One of PREFERENCE PROJECT FACT CONTACT OTHER,enum=PREFERENCE|PROJECT|FACT|CONTACT|OTHER"`
}

// SaveMemoryTool persists an explicit user fact.
type SaveMemoryTool struct {
	memory MemoryService
	userID string
}

func NewSaveMemoryTool(memory MemoryService, userID string) *SaveMemoryTool {
	return &SaveMemoryTool{memory: memory, userID: userID}
}

func (t *SaveMemoryTool) Name() string { return "save_memory" }

func (t *SaveMemoryTool) Description() string {
	return "Save a fact about the user for future conversations. Only use when the user states something worth remembering or asks you to remember it."
}

func (t *SaveMemoryTool) ArgsSchema() map[string]any {
	return argsSchema[saveMemoryArgs]()
}

func (t *SaveMemoryTool) Invoke(ctx context.Context, args map[string]any) ToolOutcome {
	fact := stringArg(args, "fact")
	if fact == "" {
		return Failedf("fact is required")
	}

	saved, err := t.memory.Save(ctx, t.userID, fact, stringArg(args, "category"))
	if err != nil {
		return Failed(err)
	}

	data, err := json.Marshal(map[string]string{
		"status":   "saved",
		"id":       saved.ID.String(),
		"category": saved.Category,
	})
	if err != nil {
		return Failed(err)
	}
	return Success(string(data))
}

type recallMemoryArgs struct {
	Query string `json:"query" jsonschema:"required,description=What to recall about the user"`
	TopK  int    `json:"top_k,omitempty" jsonschema:"description=Maximum memories to return,default=5"`
}

// RecallMemoryTool retrieves previously saved user facts by similarity.
type RecallMemoryTool struct {
	memory MemoryService
	userID string
}

func NewRecallMemoryTool(memory MemoryService, userID string) *RecallMemoryTool {
	return &RecallMemoryTool{memory: memory, userID: userID}
}

func (t *RecallMemoryTool) Name() string { return "recall_memory" }

func (t *RecallMemoryTool) Description() string {
	return "Recall saved facts about the user relevant to a query."
}

func (t *RecallMemoryTool) ArgsSchema() map[string]any {
	return argsSchema[recallMemoryArgs]()
}

func (t *RecallMemoryTool) Invoke(ctx context.Context, args map[string]any) ToolOutcome {
	query := stringArg(args, "query")
	if query == "" {
		return Failedf("query is required")
	}

	memories, err := t.memory.Recall(ctx, t.userID, query, intArg(args, "top_k", 5))
	if err != nil {
		return Failed(err)
	}
	if len(memories) == 0 {
		return Success("No saved memories match.")
	}

	var b strings.Builder
	for _, m := range memories {
		fmt.Fprintf(&b, "- [%s] %s\n", m.Category, m.Content)
	}
	return Success(strings.TrimRight(b.String(), "\n"))
}
