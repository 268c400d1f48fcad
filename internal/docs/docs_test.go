package docs_test

import (
	"encoding/json"
	"testing"

	"github.com/swaggo/swag"

	_ "agent-queue/internal/docs"
)

func TestRegisteredDocIsValid(t *testing.T) {
	raw, err := swag.ReadDoc()
	if err != nil {
		t.Fatalf("read doc: %v", err)
	}
	var doc struct {
		Paths       map[string]any `json:"paths"`
		Definitions map[string]any `json:"definitions"`
	}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		t.Fatalf("doc is not json: %v", err)
	}
	for _, p := range []string{"/jobs", "/jobs/{id}", "/queues/{queue}/claim", "/jobs/{id}/heartbeat"} {
		if _, ok := doc.Paths[p]; !ok {
			t.Fatalf("missing path %s", p)
		}
	}
	if _, ok := doc.Definitions["entity.Job"]; !ok {
		t.Fatalf("missing entity.Job definition")
	}
}
