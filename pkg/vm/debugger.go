// Package vm - debugger support
package vm

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/xenlang/xen/pkg/bytecode"
	"github.com/xenlang/xen/pkg/value"
)

// Debugger provides interactive debugging for the VM: breakpoints at
// bytecode offsets, single stepping, and inspection of the value stack,
// globals, and call frames. Attach one with VM.AttachDebugger; the run loop
// consults it before each instruction.
type Debugger struct {
	vm          *VM
	breakpoints map[int]bool
	stepMode    bool
	enabled     bool
}

// AttachDebugger installs (and returns) a debugger on the VM.
func (vm *VM) AttachDebugger() *Debugger {
	d := &Debugger{vm: vm, breakpoints: make(map[int]bool)}
	vm.debugger = d
	return d
}

// Enable activates the debugger.
func (d *Debugger) Enable() { d.enabled = true }

// Disable deactivates the debugger.
func (d *Debugger) Disable() { d.enabled = false }

// SetStepMode enables or disables step mode. In step mode, execution pauses
// before each instruction.
func (d *Debugger) SetStepMode(enabled bool) { d.stepMode = enabled }

// AddBreakpoint registers a breakpoint at a bytecode offset. Breakpoints are
// keyed by offset alone, so execution pauses at that offset in whichever
// function's chunk reaches it.
func (d *Debugger) AddBreakpoint(offset int) { d.breakpoints[offset] = true }

// RemoveBreakpoint removes the breakpoint at a bytecode offset.
func (d *Debugger) RemoveBreakpoint(offset int) { delete(d.breakpoints, offset) }

// ClearBreakpoints removes all breakpoints.
func (d *Debugger) ClearBreakpoints() { d.breakpoints = make(map[int]bool) }

// ShouldPause reports whether execution should pause before the instruction
// at offset.
func (d *Debugger) ShouldPause(offset int) bool {
	if !d.enabled {
		return false
	}
	return d.stepMode || d.breakpoints[offset]
}

func (d *Debugger) showStack() {
	fmt.Println("Stack (top to bottom):")
	if d.vm.top == 0 {
		fmt.Println("  (empty)")
		return
	}
	for i := d.vm.top - 1; i >= 0; i-- {
		v := d.vm.stack[i]
		fmt.Printf("  [%d] %s (%s)\n", i, v.String(), value.TypeName(v))
	}
}

func (d *Debugger) showGlobals() {
	fmt.Println("Globals:")
	count := 0
	d.vm.globals.Each(func(name string, v value.Value) bool {
		fmt.Printf("  %s = %s (%s)\n", name, v.String(), value.TypeName(v))
		count++
		return true
	})
	if count == 0 {
		fmt.Println("  (none)")
	}
}

func (d *Debugger) showFrames() {
	fmt.Println("Call frames (top to bottom):")
	if d.vm.frameCount == 0 {
		fmt.Println("  (empty)")
		return
	}
	for i := d.vm.frameCount - 1; i >= 0; i-- {
		frame := &d.vm.frames[i]
		name := frame.function.Name
		if name == "" {
			name = "script"
		}
		fmt.Printf("  %s [ip=%d, slots=%d]\n", name, frame.ip, frame.slots)
	}
}

// InteractivePrompt pauses execution at offset in chunk and reads commands
// until the user continues or quits. Returns false to abort execution.
func (d *Debugger) InteractivePrompt(chunk *value.Chunk, offset int) (continueExecution bool) {
	scanner := bufio.NewScanner(os.Stdin)

	fmt.Println("\n=== Debugger Paused ===")
	fmt.Printf("at offset %d, line %d\n", offset, chunk.LineAt(offset))

	for {
		fmt.Print("debug> ")
		if !scanner.Scan() {
			return false
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.Fields(line)

		switch parts[0] {
		case "help", "h", "?":
			d.printHelp()
		case "continue", "c":
			d.SetStepMode(false)
			return true
		case "step", "s":
			d.SetStepMode(true)
			return true
		case "stack", "st":
			d.showStack()
		case "globals", "g":
			d.showGlobals()
		case "frames", "f":
			d.showFrames()
		case "list", "ls":
			fmt.Print(bytecode.Disassemble(chunk, "current chunk"))
		case "breakpoint", "b":
			if len(parts) < 2 {
				fmt.Println("Usage: breakpoint <offset>")
				continue
			}
			off, err := strconv.Atoi(parts[1])
			if err != nil {
				fmt.Println("Invalid offset")
				continue
			}
			d.AddBreakpoint(off)
			fmt.Printf("Breakpoint added at offset %d\n", off)
		case "delete", "d":
			if len(parts) < 2 {
				fmt.Println("Usage: delete <offset>")
				continue
			}
			off, err := strconv.Atoi(parts[1])
			if err != nil {
				fmt.Println("Invalid offset")
				continue
			}
			d.RemoveBreakpoint(off)
			fmt.Printf("Breakpoint removed at offset %d\n", off)
		case "quit", "q":
			return false
		default:
			fmt.Printf("Unknown command: %s (type 'help' for commands)\n", parts[0])
		}
	}
}

func (d *Debugger) printHelp() {
	fmt.Println("Debugger Commands:")
	fmt.Println("  help, h, ?           Show this help")
	fmt.Println("  continue, c          Continue execution")
	fmt.Println("  step, s              Enable step mode (pause before each instruction)")
	fmt.Println("  stack, st            Show the value stack")
	fmt.Println("  globals, g           Show global variables")
	fmt.Println("  frames, f            Show call frames")
	fmt.Println("  list, ls             Disassemble the current chunk")
	fmt.Println("  breakpoint <n>, b    Add breakpoint at bytecode offset n")
	fmt.Println("  delete <n>, d        Remove breakpoint at bytecode offset n")
	fmt.Println("  quit, q              Quit debugging (abort execution)")
}
