package parser

import (
	"go/ast"
	goparser "go/parser"
	"go/token"
	"strconv"

	log "github.com/sirupsen/logrus"
)

func parseGo(path, content string, res *Result) {
	var fset = token.NewFileSet()
	file, err := goparser.ParseFile(fset, path, content, goparser.SkipObjectResolution)
	if err != nil {
		log.WithFields(log.Fields{"file": path, "err": err}).Debug("parser: go source did not parse")
		return
	}

	for _, imp := range file.Imports {
		if p, err := strconv.Unquote(imp.Path.Value); err == nil {
			res.Imports = append(res.Imports, p)
		}
	}

	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			var e = Entity{
				Name: d.Name.Name,
				Kind: KindFunction,
				Line: fset.Position(d.Pos()).Line,
			}
			if d.Recv != nil && len(d.Recv.List) != 0 {
				e.Kind = KindMethod
				if recv := receiverName(d.Recv.List[0].Type); recv != "" {
					e.Name = recv + "." + e.Name
				}
			}
			if d.Body != nil {
				e.Calls = goCalls(d.Body)
			}
			res.Entities = append(res.Entities, e)

		case *ast.GenDecl:
			if d.Tok != token.TYPE {
				continue
			}
			for _, spec := range d.Specs {
				var ts = spec.(*ast.TypeSpec)
				res.Entities = append(res.Entities, Entity{
					Name: ts.Name.Name,
					Kind: KindType,
					Line: fset.Position(ts.Pos()).Line,
				})
			}
		}
	}
}

// receiverName returns the base type name of a method receiver,
// stripping pointers and type parameters.
func receiverName(expr ast.Expr) string {
	for {
		switch e := expr.(type) {
		case *ast.StarExpr:
			expr = e.X
		case *ast.IndexExpr:
			expr = e.X
		case *ast.IndexListExpr:
			expr = e.X
		case *ast.Ident:
			return e.Name
		default:
			return ""
		}
	}
}

// goCalls returns the names called within body. Selector calls such as
// pkg.Fn or recv.Method are reported by their final name.
func goCalls(body *ast.BlockStmt) []string {
	var calls []string
	ast.Inspect(body, func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}
		switch fn := call.Fun.(type) {
		case *ast.Ident:
			calls = append(calls, fn.Name)
		case *ast.SelectorExpr:
			calls = append(calls, fn.Sel.Name)
		}
		return true
	})
	return calls
}
