package score

import (
	"testing"

	"github.com/cloudwego/eino/schema"
)

func doc(id string, s float64) *schema.Document {
	d := &schema.Document{ID: id, Content: "chunk " + id, MetaData: map[string]any{}}
	return d.WithScore(s)
}

func TestHybridReranker_WeightedFusion(t *testing.T) {
	milvusDocs := []*schema.Document{doc("a", 10), doc("b", 5)}
	esDocs := []*schema.Document{doc("b", 2), doc("c", 1)}

	results := HybridReranker(milvusDocs, esDocs, nil)
	if len(results) != 3 {
		t.Fatalf("Expected 3 unique chunks, got %d", len(results))
	}

	// 归一化后: milvus a=1 b=0, es b=1 c=0
	// a = 1*0.6 = 0.6, b = 0*0.6 + 1*0.4 = 0.4, c = 0
	if results[0].ID != "a" || results[1].ID != "b" || results[2].ID != "c" {
		t.Errorf("Unexpected order: %s %s %s", results[0].ID, results[1].ID, results[2].ID)
	}

	var bDoc *RerankedDocument
	for _, r := range results {
		if r.ID == "b" {
			bDoc = r
		}
	}
	if len(bDoc.Sources) != 2 {
		t.Errorf("Overlapping chunk should carry both sources, got %v", bDoc.Sources)
	}
}

func TestHybridReranker_TopKLimit(t *testing.T) {
	var milvusDocs []*schema.Document
	for i := 0; i < 20; i++ {
		milvusDocs = append(milvusDocs, doc(string(rune('a'+i)), float64(i)))
	}

	results := HybridReranker(milvusDocs, nil, &HybridRerankerConfig{
		MilvusWeight: 1.0, ESWeight: 0.0, TopK: 5,
	})
	if len(results) != 5 {
		t.Errorf("Expected TopK=5 results, got %d", len(results))
	}
}

func TestHybridReranker_UniformScores(t *testing.T) {
	// 全部同分时归一化不能除零，统一记 1.0
	milvusDocs := []*schema.Document{doc("a", 3), doc("b", 3)}
	results := HybridReranker(milvusDocs, nil, nil)
	if len(results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(results))
	}
	for _, r := range results {
		if r.FinalScore != 0.6 {
			t.Errorf("Expected uniform score 0.6 (1.0 * milvus weight), got %v", r.FinalScore)
		}
	}
}
