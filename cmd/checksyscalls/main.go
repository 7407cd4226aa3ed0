/// Command checksyscalls statically confirms that every call number in
/// the user/kernel ABI (spec.md §6) has exactly one handler method on
/// syscall.Context. It loads internal/syscall with go/packages the way
/// misc/depgraph loads `go mod graph`'s output, except here the thing
/// being inspected is the type-checked method set rather than shelling
/// out to another tool.
package main

import (
	"fmt"
	"go/types"
	"log"
	"os"

	"golang.org/x/tools/go/packages"
)

/// abiCalls is the call-number -> handler-method-name table of spec.md
/// §6, in Context's own Go-exported-name spelling.
var abiCalls = map[int]string{
	0:  "Halt",
	1:  "Exit",
	2:  "Exec",
	3:  "Wait",
	4:  "Create",
	5:  "Remove",
	6:  "Open",
	7:  "Filesize",
	8:  "Read",
	9:  "Write",
	10: "Seek",
	11: "Tell",
	12: "Close",
	13: "Mmap",
	14: "Munmap",
}

func main() {
	cfg := &packages.Config{Mode: packages.NeedTypes | packages.NeedName}
	pkgs, err := packages.Load(cfg, "github.com/louisch/pintos-03/internal/syscall")
	if err != nil {
		log.Fatalf("checksyscalls: load: %v", err)
	}
	if packages.PrintErrors(pkgs) > 0 {
		log.Fatal("checksyscalls: errors loading internal/syscall")
	}
	if len(pkgs) != 1 {
		log.Fatalf("checksyscalls: expected 1 package, got %d", len(pkgs))
	}

	methods, err := contextMethodSet(pkgs[0].Types)
	if err != nil {
		log.Fatalf("checksyscalls: %v", err)
	}

	var missing []int
	for call := 0; call <= 14; call++ {
		name, ok := abiCalls[call]
		if !ok {
			log.Fatalf("checksyscalls: no ABI name recorded for call %d", call)
		}
		if _, ok := methods[name]; !ok {
			missing = append(missing, call)
		}
	}

	if len(missing) > 0 {
		for _, call := range missing {
			fmt.Fprintf(os.Stderr, "missing handler for call %d (%s)\n", call, abiCalls[call])
		}
		os.Exit(1)
	}

	fmt.Printf("all %d ABI calls have a Context handler\n", len(abiCalls))
}

/// contextMethodSet returns the set of exported method names declared on
/// the syscall.Context type within pkg.
func contextMethodSet(pkg *types.Package) (map[string]bool, error) {
	obj := pkg.Scope().Lookup("Context")
	if obj == nil {
		return nil, fmt.Errorf("type Context not found in %s", pkg.Path())
	}
	tn, ok := obj.(*types.TypeName)
	if !ok {
		return nil, fmt.Errorf("Context is not a type name in %s", pkg.Path())
	}
	named, ok := tn.Type().(*types.Named)
	if !ok {
		return nil, fmt.Errorf("Context is not a named type in %s", pkg.Path())
	}

	set := make(map[string]bool, named.NumMethods())
	for i := 0; i < named.NumMethods(); i++ {
		set[named.Method(i).Name()] = true
	}
	return set, nil
}
