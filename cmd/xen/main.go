// Command xen is the Xen language front-end: script runner, REPL, bytecode
// emitter, and disassembler.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/xenlang/xen/pkg/bytecode"
	"github.com/xenlang/xen/pkg/compiler"
	"github.com/xenlang/xen/pkg/vm"
)

const version = "1.0.0"

var (
	errColor  = color.New(color.FgRed)
	noteColor = color.New(color.FgCyan)
)

var (
	flagVersion  bool
	flagVMConfig bool
	flagEmit     string
)

func main() {
	root := &cobra.Command{
		Use:   "xen [file]",
		Short: "The Xen scripting language",
		Long: "xen runs Xen source files, starts an interactive REPL when invoked\n" +
			"with no arguments, and compiles scripts to XENB bytecode.",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}
	root.Flags().BoolVarP(&flagVersion, "version", "v", false, "print version and platform")
	root.Flags().BoolVar(&flagVMConfig, "vm-config", false, "print VM stack and arena configuration")
	root.Flags().StringVar(&flagEmit, "emit-bytecode", "", "compile to XENB bytecode at the given path instead of executing")

	root.AddCommand(disassembleCmd())

	if err := root.Execute(); err != nil {
		errColor.Fprintln(os.Stderr, "error:", err)
		os.Exit(vm.ExitInvalidArgs)
	}
}

func run(cmd *cobra.Command, args []string) error {
	switch {
	case flagVersion:
		fmt.Printf("xen %s (%s/%s)\n", version, runtime.GOOS, runtime.GOARCH)
		return nil
	case flagVMConfig:
		printVMConfig()
		return nil
	case len(args) == 0:
		runREPL()
		return nil
	}

	file := args[0]
	if strings.HasSuffix(file, ".bin") {
		// Reserved: deserializing and executing XENB directly.
		fmt.Println("not supported")
		return nil
	}
	runFile(file)
	return nil
}

func printVMConfig() {
	fmt.Println("xen VM configuration:")
	fmt.Printf("  call frames:       %d\n", vm.FramesMax)
	fmt.Printf("  slots per frame:   %d\n", vm.FrameSlots)
	fmt.Printf("  value stack:       %d slots\n", vm.StackMax)
	fmt.Println("  object arena:      one run-scoped arena, released at shutdown")
}

// runFile compiles and either executes a source file or, with
// --emit-bytecode, serializes it. Includes resolve relative to the script's
// directory.
func runFile(file string) {
	source, err := os.ReadFile(file)
	if err != nil {
		errColor.Fprintf(os.Stderr, "error reading file: %v\n", err)
		os.Exit(vm.ExitFileOpen)
	}

	machine := vm.New()
	defer machine.Shutdown()

	dir := filepath.Dir(file)
	c := compiler.New(string(source), machine.Arena(), compiler.WithFileLoader(func(name string) (string, error) {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return "", err
		}
		return string(data), nil
	}))

	fn, err := c.Compile()
	if err != nil {
		errColor.Fprintln(os.Stderr, err)
		if strings.Contains(err.Error(), "expected expression") {
			os.Exit(vm.ExitExpectedExpr)
		}
		os.Exit(vm.ExitCompileError)
	}

	if flagEmit != "" {
		data, err := bytecode.Encode(fn)
		if err != nil {
			errColor.Fprintf(os.Stderr, "error encoding bytecode: %v\n", err)
			os.Exit(vm.ExitCompileError)
		}
		if err := os.WriteFile(flagEmit, data, 0o644); err != nil {
			errColor.Fprintf(os.Stderr, "error writing bytecode: %v\n", err)
			os.Exit(vm.ExitFileOpen)
		}
		fmt.Printf("Compiled %s -> %s\n", file, flagEmit)
		return
	}

	machine.MarkConst(c.ConstGlobals())
	if err := machine.Run(fn); err != nil {
		errColor.Fprintln(os.Stderr, err)
		var fatal *vm.FatalError
		if errors.As(err, &fatal) {
			os.Exit(fatal.Code)
		}
		os.Exit(vm.ExitRuntimeError)
	}
}

func disassembleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disassemble <file>",
		Short: "Print a human-readable listing of a source file's bytecode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := os.ReadFile(args[0])
			if err != nil {
				errColor.Fprintf(os.Stderr, "error reading file: %v\n", err)
				os.Exit(vm.ExitFileOpen)
			}
			machine := vm.New()
			defer machine.Shutdown()
			c := compiler.New(string(source), machine.Arena())
			fn, err := c.Compile()
			if err != nil {
				errColor.Fprintln(os.Stderr, err)
				os.Exit(vm.ExitCompileError)
			}
			fmt.Print(bytecode.Disassemble(fn.Chunk, args[0]))
			return nil
		},
	}
}

// runREPL reads, compiles, and executes lines interactively. The VM (and
// its globals, const markers, and interned strings) persists across lines;
// a runtime error never terminates the session.
func runREPL() {
	noteColor.Printf("xen %s (%s/%s)\n", version, runtime.GOOS, runtime.GOARCH)
	fmt.Println("Type '.exit' to leave.")

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "xen> ",
		HistoryLimit:    512,
		InterruptPrompt: "^C",
	})
	if err != nil {
		errColor.Fprintf(os.Stderr, "error starting REPL: %v\n", err)
		os.Exit(vm.ExitInvalidArgs)
	}
	defer rl.Close()

	machine := vm.New()
	defer machine.Shutdown()

	for {
		line, err := rl.Readline()
		if err != nil { // io.EOF on ^D, readline.ErrInterrupt on ^C
			break
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == ".exit" {
			break
		}

		c := compiler.New(line, machine.Arena())
		fn, err := c.Compile()
		if err != nil {
			errColor.Fprintln(os.Stderr, err)
			continue
		}
		machine.MarkConst(c.ConstGlobals())
		if err := machine.Run(fn); err != nil {
			errColor.Fprintln(os.Stderr, err)
		}
	}
	fmt.Println("bye")
}
