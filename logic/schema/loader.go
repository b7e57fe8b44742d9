package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	gocache "github.com/patrickmn/go-cache"
)

// ErrSchemaNotFound slug 目录缺失或两个 schema 文件都不存在时返回
// 这是配置错误，调用方不应该兜底成空 schema
var ErrSchemaNotFound = errors.New("schema not found")

// Meta 解析结果的元信息（审计 / 调试用）
type Meta struct {
	Slug         string `json:"slug"`
	Dir          string `json:"dir"`
	Base         string `json:"base"`
	Specialist   string `json:"specialist,omitempty"`
	Additions    string `json:"additions,omitempty"`
	FewShot      string `json:"few_shot,omitempty"`
	SchemaSHA256 string `json:"schema_sha256"`
}

// Resolver 按 doc type 解析合并 schema
// 目录约定: <docTypesDir>/<slug>/
//   - <slug>_ss.json  专用 schema（可选）
//   - <slug>_sa.json  追加 schema（可选，两者至少有一个）
//   - <slug>_fse.txt  few-shot 示例（可选）
type Resolver struct {
	docTypesDir    string
	baseSchemaPath string
	cache          *gocache.Cache
}

// NewResolver 构造函数；cache 进程级常驻，只能用 useCache=false 绕过
func NewResolver(docTypesDir, baseSchemaPath string) *Resolver {
	return &Resolver{
		docTypesDir:    docTypesDir,
		baseSchemaPath: baseSchemaPath,
		cache:          gocache.New(gocache.NoExpiration, 0),
	}
}

type resolved struct {
	schema  map[string]interface{}
	fewShot string
	meta    *Meta
}

// Resolve 加载并合并 slug 的 schema
// basePath 传空串时用 Resolver 默认的 base schema；useCache=false 强制重读文件
func (r *Resolver) Resolve(slug, basePath string, useCache bool) (map[string]interface{}, string, *Meta, error) {
	if basePath == "" {
		basePath = r.baseSchemaPath
	}
	cacheKey := slug + ":" + basePath

	if useCache {
		if v, ok := r.cache.Get(cacheKey); ok {
			hit := v.(*resolved)
			return hit.schema, hit.fewShot, hit.meta, nil
		}
	}

	ddir := filepath.Join(r.docTypesDir, slug)
	if fi, err := os.Stat(ddir); err != nil || !fi.IsDir() {
		return nil, "", nil, fmt.Errorf("%w: doc type folder not found: %s", ErrSchemaNotFound, ddir)
	}

	specPath := filepath.Join(ddir, slug+"_ss.json")
	addsPath := filepath.Join(ddir, slug+"_sa.json")
	fsePath := filepath.Join(ddir, slug+"_fse.txt")

	hasSpec := fileExists(specPath)
	hasAdds := fileExists(addsPath)
	if !hasSpec && !hasAdds {
		return nil, "", nil,
			fmt.Errorf("%w: %s: expected %s_ss.json and/or %s_sa.json in %s", ErrSchemaNotFound, slug, slug, slug, ddir)
	}

	// base schema 允许缺失，从空对象开始合并
	merged := map[string]interface{}{}
	if fileExists(basePath) {
		base, err := readJSON(basePath)
		if err != nil {
			return nil, "", nil, err
		}
		merged = base
	}

	meta := &Meta{Slug: slug, Dir: ddir, Base: basePath}

	if hasSpec {
		spec, err := readJSON(specPath)
		if err != nil {
			return nil, "", nil, err
		}
		merged = DeepMerge(merged, spec)
		meta.Specialist = specPath
	}
	if hasAdds {
		adds, err := readJSON(addsPath)
		if err != nil {
			return nil, "", nil, err
		}
		merged = DeepMerge(merged, adds)
		meta.Additions = addsPath
	}

	fewShot := ""
	if fileExists(fsePath) {
		b, err := os.ReadFile(fsePath)
		if err != nil {
			return nil, "", nil, fmt.Errorf("read few-shot %s: %w", fsePath, err)
		}
		fewShot = string(b)
		meta.FewShot = fsePath
	}

	meta.SchemaSHA256 = HashSchema(merged)

	r.cache.Set(cacheKey, &resolved{schema: merged, fewShot: fewShot, meta: meta}, gocache.NoExpiration)
	return merged, fewShot, meta, nil
}

// Validate schema 体检，只产出告警不阻断解析（lint 巡检用）
func (r *Resolver) Validate(schema map[string]interface{}, slug string) []string {
	var issues []string

	props, hasProps := schema["properties"].(map[string]interface{})
	if !hasProps {
		issues = append(issues, fmt.Sprintf("%s: missing 'properties' field", slug))
	}

	// discovered_entities 是兜底字段，没有它 schema 外的实体会被直接丢掉
	if hasProps {
		if _, ok := props["discovered_entities"]; !ok {
			issues = append(issues, fmt.Sprintf("%s: missing 'discovered_entities' safety net field", slug))
		}
	}

	if req, ok := schema["required"].([]interface{}); ok && len(req) == 0 {
		issues = append(issues, fmt.Sprintf("%s: 'required' array is empty", slug))
	}

	return issues
}

// ListSlugs 列出所有可用的 doc type（隐藏目录跳过）
func (r *Resolver) ListSlugs() ([]string, error) {
	entries, err := os.ReadDir(r.docTypesDir)
	if err != nil {
		return nil, fmt.Errorf("read doc types dir %s: %w", r.docTypesDir, err)
	}
	var slugs []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			slugs = append(slugs, e.Name())
		}
	}
	sort.Strings(slugs)
	return slugs, nil
}

// DeepMerge 把 src 深合并进 dst，src 优先
// 只对嵌套对象递归；标量和数组整体替换，不做数组拼接
func DeepMerge(dst, src map[string]interface{}) map[string]interface{} {
	if dst == nil {
		dst = map[string]interface{}{}
	}
	for k, v := range src {
		if sv, ok := v.(map[string]interface{}); ok {
			if dv, ok := dst[k].(map[string]interface{}); ok {
				dst[k] = DeepMerge(dv, sv)
				continue
			}
		}
		dst[k] = v
	}
	return dst
}

// HashSchema schema 内容哈希（json.Marshal 对 map key 排序，结果是稳定的）
func HashSchema(schema map[string]interface{}) string {
	b, err := json.Marshal(schema)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func fileExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir()
}

func readJSON(path string) (map[string]interface{}, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("invalid JSON in %s: %w", path, err)
	}
	return m, nil
}
