package forge

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strings"
)

// bannedImports are packages generated tools may never import: no process
// spawning, no shell execution, no dynamic loading, no network, no raw
// filesystem or memory access.
var bannedImports = []string{
	"os",
	"os/exec",
	"syscall",
	"unsafe",
	"plugin",
	"reflect",
	"net",
	"net/http",
	"runtime",
	"io/ioutil",
}

// ValidationResult carries the detailed outcome of source validation.
type ValidationResult struct {
	Valid       bool
	ParseError  error
	Errors      []string
	Warnings    []string
	PackageName string
	Functions   []string
	Imports     []string
}

// ValidateSource checks a generated tool source: it must parse, declare a
// package, define Execute(params map[string]any) (string, error), and
// import none of the banned packages. Returns the first failure.
func ValidateSource(code string) error {
	result := ValidateSourceDetailed(code)
	if result.Valid {
		return nil
	}
	if result.ParseError != nil {
		return fmt.Errorf("syntax error: %w", result.ParseError)
	}
	if len(result.Errors) > 0 {
		return fmt.Errorf("%s", result.Errors[0])
	}
	return fmt.Errorf("validation failed")
}

// ValidateSourceDetailed performs AST-based validation of generated code.
func ValidateSourceDetailed(code string) *ValidationResult {
	result := &ValidationResult{Valid: true}

	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "tool.go", code, parser.ParseComments)
	if err != nil {
		result.Valid = false
		result.ParseError = err
		return result
	}

	if file.Name == nil {
		result.Valid = false
		result.Errors = append(result.Errors, "missing package declaration")
		return result
	}
	result.PackageName = file.Name.Name
	if result.PackageName != "forged" && result.PackageName != "main" {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("package name %q should be 'forged'", result.PackageName))
	}

	for _, imp := range file.Imports {
		path := strings.Trim(imp.Path.Value, `"`)
		result.Imports = append(result.Imports, path)
		for _, banned := range bannedImports {
			if path == banned || strings.HasPrefix(path, banned+"/") {
				result.Valid = false
				result.Errors = append(result.Errors,
					fmt.Sprintf("banned import: %s", path))
			}
		}
	}

	hasExecute := false
	ast.Inspect(file, func(n ast.Node) bool {
		fn, ok := n.(*ast.FuncDecl)
		if !ok {
			return true
		}
		result.Functions = append(result.Functions, fn.Name.Name)
		if fn.Name.Name == "Execute" && fn.Recv == nil && executeSignatureOK(fn) {
			hasExecute = true
		}
		// panic() in tool code is tolerated but noted; the sandbox
		// recovers it into an error.
		ast.Inspect(fn, func(inner ast.Node) bool {
			call, ok := inner.(*ast.CallExpr)
			if !ok {
				return true
			}
			if ident, ok := call.Fun.(*ast.Ident); ok && ident.Name == "panic" {
				result.Warnings = append(result.Warnings, "code contains panic()")
			}
			return true
		})
		return true
	})

	if len(result.Functions) == 0 {
		result.Valid = false
		result.Errors = append(result.Errors, "no functions defined")
		return result
	}
	if !hasExecute {
		result.Valid = false
		result.Errors = append(result.Errors,
			"missing entry point: func Execute(params map[string]any) (string, error)")
	}

	return result
}

// executeSignatureOK verifies Execute takes one map parameter and returns
// (string, error).
func executeSignatureOK(fn *ast.FuncDecl) bool {
	params := fn.Type.Params
	if params == nil || len(params.List) != 1 {
		return false
	}
	if _, ok := params.List[0].Type.(*ast.MapType); !ok {
		return false
	}
	results := fn.Type.Results
	if results == nil || len(results.List) != 2 {
		return false
	}
	first, ok := results.List[0].Type.(*ast.Ident)
	if !ok || first.Name != "string" {
		return false
	}
	second, ok := results.List[1].Type.(*ast.Ident)
	return ok && second.Name == "error"
}
