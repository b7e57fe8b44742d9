package schema

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func setupDocType(t *testing.T, root, slug, ss, sa, fse string) {
	t.Helper()
	dir := filepath.Join(root, slug)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if ss != "" {
		writeFile(t, filepath.Join(dir, slug+"_ss.json"), ss)
	}
	if sa != "" {
		writeFile(t, filepath.Join(dir, slug+"_sa.json"), sa)
	}
	if fse != "" {
		writeFile(t, filepath.Join(dir, slug+"_fse.txt"), fse)
	}
}

func TestResolver_MergePrecedence(t *testing.T) {
	root := t.TempDir()
	basePath := filepath.Join(root, "base.json")
	writeFile(t, basePath, `{
		"type": "object",
		"properties": {
			"parties": {"type": "array"},
			"confidence_score": {"type": "string"}
		}
	}`)
	setupDocType(t, root, "lease",
		`{"properties": {"confidence_score": {"type": "number"}}}`,
		`{"properties": {"rent_schedule": {"type": "array"}}}`,
		"Example: {}")

	r := NewResolver(root, basePath)
	merged, fewShot, meta, err := r.Resolve("lease", "", false)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	props := merged["properties"].(map[string]interface{})

	// 专用 schema 覆盖 base
	conf := props["confidence_score"].(map[string]interface{})
	if conf["type"] != "number" {
		t.Errorf("Expected specialist to override base type, got %v", conf["type"])
	}

	// base 独有字段保留
	if _, ok := props["parties"]; !ok {
		t.Error("Expected base-only field 'parties' to survive the merge")
	}

	// 追加 schema 合进来
	if _, ok := props["rent_schedule"]; !ok {
		t.Error("Expected additions field 'rent_schedule' in merged schema")
	}

	if fewShot != "Example: {}" {
		t.Errorf("Expected few-shot content, got %q", fewShot)
	}
	if meta.SchemaSHA256 == "" {
		t.Error("Expected non-empty schema hash")
	}
	if meta.Specialist == "" || meta.Additions == "" {
		t.Errorf("Expected specialist and additions paths in meta, got %+v", meta)
	}
}

func TestResolver_MissingSlugDir(t *testing.T) {
	root := t.TempDir()
	r := NewResolver(root, "")

	_, _, _, err := r.Resolve("no-such-type", "", false)
	if !errors.Is(err, ErrSchemaNotFound) {
		t.Fatalf("Expected ErrSchemaNotFound, got %v", err)
	}
}

func TestResolver_MissingBothSchemaFiles(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "empty-type"), 0o755); err != nil {
		t.Fatal(err)
	}
	r := NewResolver(root, "")

	_, _, _, err := r.Resolve("empty-type", "", false)
	if !errors.Is(err, ErrSchemaNotFound) {
		t.Fatalf("Expected ErrSchemaNotFound for dir without schema files, got %v", err)
	}
}

func TestResolver_MissingBaseSchemaIsAllowed(t *testing.T) {
	root := t.TempDir()
	setupDocType(t, root, "nda", `{"properties": {"term": {"type": "string"}}}`, "", "")

	r := NewResolver(root, filepath.Join(root, "does-not-exist.json"))
	merged, _, _, err := r.Resolve("nda", "", false)
	if err != nil {
		t.Fatalf("Expected resolve to succeed without base schema, got %v", err)
	}
	if _, ok := merged["properties"]; !ok {
		t.Error("Expected specialist schema content in merge result")
	}
}

func TestResolver_CacheAndBypass(t *testing.T) {
	root := t.TempDir()
	ssPath := filepath.Join(root, "loi", "loi_ss.json")
	setupDocType(t, root, "loi", `{"version": "v1"}`, "", "")

	r := NewResolver(root, "")

	merged, _, _, err := r.Resolve("loi", "", true)
	if err != nil {
		t.Fatal(err)
	}
	if merged["version"] != "v1" {
		t.Fatalf("Expected v1, got %v", merged["version"])
	}

	// 改文件后，带缓存的 Resolve 还是旧内容
	writeFile(t, ssPath, `{"version": "v2"}`)
	merged, _, _, err = r.Resolve("loi", "", true)
	if err != nil {
		t.Fatal(err)
	}
	if merged["version"] != "v1" {
		t.Errorf("Expected cached v1, got %v", merged["version"])
	}

	// 绕过缓存强制重读
	merged, _, _, err = r.Resolve("loi", "", false)
	if err != nil {
		t.Fatal(err)
	}
	if merged["version"] != "v2" {
		t.Errorf("Expected fresh v2 after cache bypass, got %v", merged["version"])
	}
}

func TestResolver_ValidateIssues(t *testing.T) {
	r := NewResolver("", "")

	issues := r.Validate(map[string]interface{}{}, "x")
	if len(issues) != 1 {
		t.Fatalf("Expected 1 issue for missing properties, got %d: %v", len(issues), issues)
	}

	issues = r.Validate(map[string]interface{}{
		"properties": map[string]interface{}{"parties": map[string]interface{}{}},
		"required":   []interface{}{},
	}, "x")
	// discovered_entities 缺失 + required 为空
	if len(issues) != 2 {
		t.Fatalf("Expected 2 issues, got %d: %v", len(issues), issues)
	}

	issues = r.Validate(map[string]interface{}{
		"properties": map[string]interface{}{
			"parties":             map[string]interface{}{},
			"discovered_entities": map[string]interface{}{},
		},
		"required": []interface{}{"parties"},
	}, "x")
	if len(issues) != 0 {
		t.Fatalf("Expected clean schema, got issues: %v", issues)
	}
}

func TestResolver_ListSlugs(t *testing.T) {
	root := t.TempDir()
	setupDocType(t, root, "nda", `{}`, "", "")
	setupDocType(t, root, "lease", `{}`, "", "")
	if err := os.MkdirAll(filepath.Join(root, ".hidden"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(root, "stray.txt"), "not a dir")

	r := NewResolver(root, "")
	slugs, err := r.ListSlugs()
	if err != nil {
		t.Fatal(err)
	}
	if len(slugs) != 2 || slugs[0] != "lease" || slugs[1] != "nda" {
		t.Errorf("Expected sorted [lease nda], got %v", slugs)
	}
}

func TestDeepMerge_NestedObjects(t *testing.T) {
	dst := map[string]interface{}{
		"a": map[string]interface{}{
			"x": 1.0,
			"y": 2.0,
		},
		"list": []interface{}{"keep"},
	}
	src := map[string]interface{}{
		"a": map[string]interface{}{
			"y": 3.0,
			"z": 4.0,
		},
		"list": []interface{}{"replace"},
	}

	out := DeepMerge(dst, src)
	a := out["a"].(map[string]interface{})
	if a["x"] != 1.0 || a["y"] != 3.0 || a["z"] != 4.0 {
		t.Errorf("Nested merge wrong: %v", a)
	}

	// 数组整体替换，不拼接
	list := out["list"].([]interface{})
	if len(list) != 1 || list[0] != "replace" {
		t.Errorf("Expected array replacement, got %v", list)
	}
}

func TestHashSchema_Stable(t *testing.T) {
	a := map[string]interface{}{"b": 1.0, "a": map[string]interface{}{"c": true}}
	b := map[string]interface{}{"a": map[string]interface{}{"c": true}, "b": 1.0}

	if HashSchema(a) != HashSchema(b) {
		t.Error("Expected identical hash for identical content regardless of insertion order")
	}
	if HashSchema(a) == HashSchema(map[string]interface{}{"b": 2.0}) {
		t.Error("Expected different hash for different content")
	}
}
