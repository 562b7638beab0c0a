package parser

import (
	"regexp"
	"strings"
)

// lineRules drive the line scanner for one language. Each definition
// pattern captures the entity name in its first group.
type lineRules struct {
	imports []*regexp.Regexp
	defs    []defRule
	// keywords are call-like tokens which are not calls.
	keywords map[string]struct{}
}

type defRule struct {
	re   *regexp.Regexp
	kind string
	// indented definitions are methods when nested in a class.
	methodWhenIndented bool
}

var callRe = regexp.MustCompile(`([A-Za-z_$][A-Za-z0-9_$]*)\s*\(`)

var pythonRules = lineRules{
	imports: []*regexp.Regexp{
		regexp.MustCompile(`^\s*import\s+([A-Za-z0-9_.]+)`),
		regexp.MustCompile(`^\s*from\s+([A-Za-z0-9_.]+)\s+import\b`),
	},
	defs: []defRule{
		{re: regexp.MustCompile(`^\s*class\s+([A-Za-z_][A-Za-z0-9_]*)`), kind: KindClass},
		{re: regexp.MustCompile(`^\s*(?:async\s+)?def\s+([A-Za-z_][A-Za-z0-9_]*)`), kind: KindFunction, methodWhenIndented: true},
	},
	keywords: keywordSet("def", "class", "if", "elif", "while", "for", "return", "print", "with", "not", "and", "or", "in", "assert", "lambda", "yield", "await", "except"),
}

var javascriptRules = lineRules{
	imports: []*regexp.Regexp{
		regexp.MustCompile(`^\s*import\s.*from\s+['"]([^'"]+)['"]`),
		regexp.MustCompile(`^\s*import\s+['"]([^'"]+)['"]`),
		regexp.MustCompile(`require\(\s*['"]([^'"]+)['"]\s*\)`),
	},
	defs: []defRule{
		{re: regexp.MustCompile(`^\s*(?:export\s+)?(?:default\s+)?(?:abstract\s+)?class\s+([A-Za-z_$][A-Za-z0-9_$]*)`), kind: KindClass},
		{re: regexp.MustCompile(`^\s*(?:export\s+)?(?:default\s+)?(?:async\s+)?function\s*\*?\s*([A-Za-z_$][A-Za-z0-9_$]*)`), kind: KindFunction},
		{re: regexp.MustCompile(`^\s*(?:export\s+)?(?:const|let|var)\s+([A-Za-z_$][A-Za-z0-9_$]*)\s*=\s*(?:async\s+)?(?:\([^)]*\)|[A-Za-z_$][A-Za-z0-9_$]*)\s*=>`), kind: KindFunction},
		{re: regexp.MustCompile(`^\s*(?:export\s+)?(?:interface|type)\s+([A-Za-z_$][A-Za-z0-9_$]*)`), kind: KindType},
		{re: regexp.MustCompile(`^\s+(?:static\s+)?(?:async\s+)?([A-Za-z_$][A-Za-z0-9_$]*)\s*\([^)]*\)\s*\{`), kind: KindMethod},
	},
	keywords: keywordSet("if", "for", "while", "switch", "catch", "function", "return", "typeof", "new", "super", "constructor", "await"),
}

var javaRules = lineRules{
	imports: []*regexp.Regexp{
		regexp.MustCompile(`^\s*import\s+(?:static\s+)?([A-Za-z0-9_.*]+)\s*;`),
	},
	defs: []defRule{
		{re: regexp.MustCompile(`^\s*(?:(?:public|protected|private|abstract|final|static)\s+)*(?:class|record)\s+([A-Za-z_][A-Za-z0-9_]*)`), kind: KindClass},
		{re: regexp.MustCompile(`^\s*(?:(?:public|protected|private)\s+)?(?:interface|enum)\s+([A-Za-z_][A-Za-z0-9_]*)`), kind: KindType},
		{re: regexp.MustCompile(`^\s+(?:(?:public|protected|private|static|final|abstract|synchronized)\s+)*[A-Za-z_][A-Za-z0-9_<>\[\], ]*\s+([A-Za-z_][A-Za-z0-9_]*)\s*\([^;]*$`), kind: KindMethod},
	},
	keywords: keywordSet("if", "for", "while", "switch", "catch", "return", "new", "super", "this", "synchronized"),
}

func keywordSet(words ...string) map[string]struct{} {
	var m = make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

// scanLines attributes each call to the most recent definition above it.
// Calls before the first definition are dropped.
func scanLines(content string, rules lineRules, res *Result) {
	var current = -1

	for n, line := range strings.Split(content, "\n") {
		var trimmed = strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "//") {
			continue
		}

		var matchedImport bool
		for _, re := range rules.imports {
			if m := re.FindStringSubmatch(line); m != nil {
				res.Imports = append(res.Imports, m[1])
				matchedImport = true
			}
		}
		if matchedImport {
			continue
		}

		var defined string
		for _, d := range rules.defs {
			var m = d.re.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			if _, kw := rules.keywords[m[1]]; kw {
				continue
			}
			var kind = d.kind
			if d.methodWhenIndented && line != strings.TrimLeft(line, " \t") {
				kind = KindMethod
			}
			res.Entities = append(res.Entities, Entity{Name: m[1], Kind: kind, Line: n + 1})
			current, defined = len(res.Entities)-1, m[1]
			break
		}

		if current < 0 {
			continue
		}
		for _, m := range callRe.FindAllStringSubmatch(line, -1) {
			if _, kw := rules.keywords[m[1]]; kw || m[1] == defined {
				continue
			}
			res.Entities[current].Calls = append(res.Entities[current].Calls, m[1])
		}
	}
}
