// Package parser extracts the code entities of a source file: its
// functions, methods and types, the names each one calls, and the
// modules the file imports. Go sources are parsed with go/ast; other
// supported languages are scanned line by line.
package parser

import (
	"path/filepath"
	"sort"
	"strings"
)

// Entity kinds.
const (
	KindFunction = "function"
	KindMethod   = "method"
	KindClass    = "class"
	KindType     = "type"
)

// Entity is a named definition within a file.
type Entity struct {
	Name  string
	Kind  string
	Line  int
	Calls []string
}

// Result is everything Parse found in a file.
type Result struct {
	Language string
	Entities []Entity
	Imports  []string
}

// Language returns the language parsed for path, or "" if unsupported.
func Language(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".go":
		return "go"
	case ".py":
		return "python"
	case ".js", ".jsx", ".mjs", ".ts", ".tsx":
		return "javascript"
	case ".java":
		return "java"
	default:
		return ""
	}
}

// Parse extracts entities and imports from content. Unsupported
// languages, and Go sources which fail to parse, yield an empty Result.
func Parse(path, content string) Result {
	var res Result
	switch res.Language = Language(path); res.Language {
	case "go":
		parseGo(path, content, &res)
	case "python":
		scanLines(content, pythonRules, &res)
	case "javascript":
		scanLines(content, javascriptRules, &res)
	case "java":
		scanLines(content, javaRules, &res)
	}
	res.Imports = dedupe(res.Imports)
	for i := range res.Entities {
		res.Entities[i].Calls = dedupe(res.Entities[i].Calls)
	}
	return res
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	var seen = make(map[string]struct{}, len(in))
	var out = in[:0]
	for _, s := range in {
		if _, ok := seen[s]; ok || s == "" {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
