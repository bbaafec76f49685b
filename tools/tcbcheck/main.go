// Command tcbcheck keeps the decision core free of I/O.
//
// The gate and the packages it trusts (crypto, intent, canonicalize) must not
// import transports, storage drivers or the packages that sit on top of them.
// Backends reach the gate only through its Oracle and Registry interfaces.
//
// Usage:
//
//	go run ./tools/tcbcheck [-root <project-root>]
package main

import (
	"flag"
	"fmt"
	"go/parser"
	"go/token"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// tcbPackages are the directories, relative to the project root, that make up
// the decision core.
var tcbPackages = []string{
	"pkg/gate",
	"pkg/crypto",
	"pkg/intent",
	"pkg/canonicalize",
}

// forbiddenImports are import paths (or path prefixes) the core must not use.
var forbiddenImports = []string{
	"net/http",
	"database/sql",
	"os/exec",
	"github.com/lib/pq",
	"github.com/redis/",
	"modernc.org/sqlite",
	"github.com/Mindburn-Labs/helm-rem/pkg/api",
	"github.com/Mindburn-Labs/helm-rem/pkg/oracle",
	"github.com/Mindburn-Labs/helm-rem/pkg/registry",
	"github.com/Mindburn-Labs/helm-rem/pkg/store",
	"github.com/Mindburn-Labs/helm-rem/pkg/config",
}

// Violation is one forbidden import.
type Violation struct {
	File   string
	Line   int
	Import string
	Rule   string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s:%d imports %q (forbidden: %q)", v.File, v.Line, v.Import, v.Rule)
}

func forbidden(importPath string) (string, bool) {
	for _, rule := range forbiddenImports {
		if importPath == rule || strings.HasPrefix(importPath, strings.TrimSuffix(rule, "/")+"/") {
			return rule, true
		}
	}
	return "", false
}

// check scans the non-test Go files of the core packages under root.
func check(root string) ([]Violation, error) {
	var violations []Violation
	fset := token.NewFileSet()

	for _, pkg := range tcbPackages {
		dir := filepath.Join(root, filepath.FromSlash(pkg))
		if _, err := os.Stat(dir); err != nil {
			return nil, fmt.Errorf("core package %s: %w", pkg, err)
		}

		err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() {
				if info.Name() == "testdata" {
					return filepath.SkipDir
				}
				return nil
			}
			if !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
				return nil
			}

			f, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
			if err != nil {
				return fmt.Errorf("parse %s: %w", path, err)
			}
			for _, imp := range f.Imports {
				importPath := strings.Trim(imp.Path.Value, `"`)
				rule, bad := forbidden(importPath)
				if !bad {
					continue
				}
				pos := fset.Position(imp.Pos())
				rel, _ := filepath.Rel(root, pos.Filename)
				violations = append(violations, Violation{
					File:   filepath.ToSlash(rel),
					Line:   pos.Line,
					Import: importPath,
					Rule:   rule,
				})
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	sort.Slice(violations, func(i, j int) bool {
		if violations[i].File != violations[j].File {
			return violations[i].File < violations[j].File
		}
		return violations[i].Line < violations[j].Line
	})
	return violations, nil
}

func run(root string, stdout, stderr io.Writer) int {
	violations, err := check(root)
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}
	for _, v := range violations {
		fmt.Fprintf(stdout, "TCB VIOLATION: %s\n", v)
	}
	if len(violations) > 0 {
		fmt.Fprintf(stdout, "\n❌ %d TCB violation(s) found\n", len(violations))
		return 1
	}
	fmt.Fprintln(stdout, "✅ TCB isolation check passed")
	return 0
}

func main() {
	root := flag.String("root", ".", "Project root directory")
	flag.Parse()
	os.Exit(run(*root, os.Stdout, os.Stderr))
}
