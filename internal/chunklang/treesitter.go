package chunklang

import (
	"context"
	"path/filepath"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"

	"github.com/chunkhound/chunkhound/internal/chunkerr"
	"github.com/chunkhound/chunkhound/internal/store"
)

// languageConfig maps one language's grammar node types onto the
// chunk kind taxonomy (§3 Chunk.kind), grounded on the teacher's
// LanguageRegistry (internal/chunk/languages.go).
type languageConfig struct {
	name          string
	extensions    []string
	tsLanguage    *sitter.Language
	functionTypes map[string]bool
	methodTypes   map[string]bool
	classTypes    map[string]bool
	nameField     string
}

func set(types ...string) map[string]bool {
	m := make(map[string]bool, len(types))
	for _, t := range types {
		m[t] = true
	}
	return m
}

// treeSitterChunker produces function/class/method chunks for the
// languages it knows, falling back to nothing (an unsupported-kind
// skip) for anything the configured grammars don't recognize as a
// symbol node — there is no line-based fallback because a chunk with
// no semantic boundary is exactly the ambiguity §9's chunk-identity
// invariant is meant to avoid.
type treeSitterChunker struct {
	mu      sync.Mutex // tree-sitter parsers are not safe for concurrent Parse calls
	parser  *sitter.Parser
	byExt   map[string]*languageConfig
	configs []*languageConfig
}

func newTreeSitterChunker() *treeSitterChunker {
	goCfg := &languageConfig{
		name:          "go",
		extensions:    []string{".go"},
		tsLanguage:    golang.GetLanguage(),
		functionTypes: set("function_declaration"),
		methodTypes:   set("method_declaration"),
		nameField:     "name",
	}
	pyCfg := &languageConfig{
		name:          "python",
		extensions:    []string{".py"},
		tsLanguage:    python.GetLanguage(),
		functionTypes: set("function_definition"),
		classTypes:    set("class_definition"),
		nameField:     "name",
	}
	jsCfg := &languageConfig{
		name:          "javascript",
		extensions:    []string{".js", ".mjs", ".jsx"},
		tsLanguage:    javascript.GetLanguage(),
		functionTypes: set("function_declaration", "function"),
		methodTypes:   set("method_definition"),
		classTypes:    set("class_declaration"),
		nameField:     "name",
	}

	c := &treeSitterChunker{
		parser: sitter.NewParser(),
		byExt:  make(map[string]*languageConfig),
	}
	for _, cfg := range []*languageConfig{goCfg, pyCfg, jsCfg} {
		c.configs = append(c.configs, cfg)
		for _, ext := range cfg.extensions {
			c.byExt[ext] = cfg
		}
	}
	return c
}

func (c *treeSitterChunker) supportedExtensions() []string {
	exts := make([]string, 0, len(c.byExt))
	for ext := range c.byExt {
		exts = append(exts, ext)
	}
	return exts
}

func (c *treeSitterChunker) Produce(path string, content []byte) ([]*store.Chunk, error) {
	ext := extOf(path)
	cfg, ok := c.byExt[ext]
	if !ok {
		return nil, chunkerr.Unsupported("ERR_CHUNK_UNSUPPORTED_LANG", "no grammar registered for extension "+ext)
	}
	if len(content) == 0 {
		return nil, nil
	}

	c.mu.Lock()
	c.parser.SetLanguage(cfg.tsLanguage)
	tree, err := c.parser.ParseCtx(context.Background(), nil, content)
	c.mu.Unlock()
	if err != nil || tree == nil {
		return nil, chunkerr.Unsupported("ERR_CHUNK_PARSE_FAILED", "parse failed for "+path)
	}
	defer tree.Close()

	var chunks []*store.Chunk
	walk(tree.RootNode(), func(n *sitter.Node) bool {
		kind, ok := classify(cfg, n.Type())
		if !ok {
			return true
		}
		name := fieldName(n, content, cfg.nameField)
		chunks = append(chunks, &store.Chunk{
			Kind:      kind,
			Name:      name,
			StartLine: int(n.StartPoint().Row) + 1,
			EndLine:   int(n.EndPoint().Row) + 1,
			Code:      string(content[n.StartByte():n.EndByte()]),
		})
		return true
	})
	return chunks, nil
}

func classify(cfg *languageConfig, nodeType string) (string, bool) {
	switch {
	case cfg.methodTypes[nodeType]:
		return store.KindMethod, true
	case cfg.classTypes[nodeType]:
		return store.KindClass, true
	case cfg.functionTypes[nodeType]:
		return store.KindFunction, true
	default:
		return "", false
	}
}

func fieldName(n *sitter.Node, source []byte, field string) string {
	if field == "" {
		return ""
	}
	child := n.ChildByFieldName(field)
	if child == nil {
		return ""
	}
	return string(source[child.StartByte():child.EndByte()])
}

func walk(n *sitter.Node, fn func(*sitter.Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		walk(n.Child(i), fn)
	}
}

func extOf(path string) string {
	return strings.ToLower(filepath.Ext(path))
}
