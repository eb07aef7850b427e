// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package stores

import (
	"testing"

	"github.com/weaviate/weaviate/entities/models"
)

// extractObjects consumes the typed GraphQL response envelope the
// weaviate client returns (Data is map[string]models.JSONObject).
func TestVectorStore_ExtractObjects(t *testing.T) {
	store := &VectorStore{class: VectorPatternClass}

	data := map[string]models.JSONObject{
		"Get": map[string]any{
			VectorPatternClass: []any{
				map[string]any{"patternId": "p1", "payload": `{"v":1}`},
				map[string]any{"patternId": "p2", "payload": `{"v":2}`},
				"not-an-object",
			},
		},
	}

	objects := store.extractObjects(data)
	if len(objects) != 2 {
		t.Fatalf("got %d objects, want 2", len(objects))
	}
	if objects[0]["patternId"] != "p1" || objects[1]["patternId"] != "p2" {
		t.Errorf("unexpected objects: %v", objects)
	}
}

func TestVectorStore_ExtractObjects_EmptyEnvelope(t *testing.T) {
	store := &VectorStore{class: VectorPatternClass}

	if got := store.extractObjects(map[string]models.JSONObject{}); got != nil {
		t.Errorf("missing Get section should yield nil, got %v", got)
	}

	data := map[string]models.JSONObject{
		"Get": map[string]any{"OtherClass": []any{map[string]any{"v": 1}}},
	}
	if got := store.extractObjects(data); got != nil {
		t.Errorf("missing class key should yield nil, got %v", got)
	}
}

func TestVectorStore_ObjectIDDeterministic(t *testing.T) {
	store := &VectorStore{class: VectorPatternClass}

	first := store.objectID("p1", PatternKnowledgeEntity)
	second := store.objectID("p1", PatternKnowledgeEntity)
	if first != second {
		t.Errorf("object id must be stable: %s vs %s", first, second)
	}
	if store.objectID("p1", PatternDecision) == first {
		t.Error("different pattern types must map to different object ids")
	}
}
