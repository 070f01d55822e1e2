// Copyright 2025 Google LLC. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sim

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang/glog"
	"github.com/google/bootcore/internal/bootm"
	"github.com/google/bootcore/internal/mem"
	"github.com/perlin-network/life/exec"
	wasm_validation "github.com/perlin-network/life/wasm-validation"
)

// ErrNotExecutable is returned when the jump target is not a wasm module.
var ErrNotExecutable = errors.New("no executable payload at entry point")

var wasmMagic = []byte{0x00, 'a', 's', 'm'}

// WasmJumper "executes" a payload on the simulated board by running it as
// a WebAssembly module. The module's main export is the entry point; it can
// read its boot arguments and write to the console through imports.
type WasmJumper struct {
	Console io.Writer
	// EntryPoint is the export to run. Defaults to "main".
	EntryPoint string

	// Exits records the return value of each payload run.
	Exits []int64
}

// resolver provides the imports available to payloads.
type resolver struct {
	console io.Writer
	args    bootm.JumpArgs
}

// ResolveFunc implements exec.ImportResolver.
func (r *resolver) ResolveFunc(module, field string) exec.FunctionImport {
	if module != "env" {
		panic(fmt.Errorf("unknown module: %s", module))
	}
	switch field {
	case "__life_ping":
		return func(vm *exec.VirtualMachine) int64 {
			return vm.GetCurrentFrame().Locals[0] + 1
		}
	case "__life_log":
		return func(vm *exec.VirtualMachine) int64 {
			ptr := int(uint32(vm.GetCurrentFrame().Locals[0]))
			msgLen := int(uint32(vm.GetCurrentFrame().Locals[1]))
			fmt.Fprintf(r.console, "%s\n", vm.Memory[ptr:ptr+msgLen])
			return 0
		}
	case "print":
		return func(vm *exec.VirtualMachine) int64 {
			ptr := int(uint32(vm.GetCurrentFrame().Locals[0]))
			end := ptr
			for vm.Memory[end] != 0 {
				end++
			}
			fmt.Fprintf(r.console, "%s", vm.Memory[ptr:end])
			return 0
		}
	case "print_i64":
		return func(vm *exec.VirtualMachine) int64 {
			fmt.Fprintf(r.console, "%d\n", vm.GetCurrentFrame().Locals[0])
			return 0
		}
	case "boot_arg":
		// boot_arg(i) returns the i'th argument register.
		return func(vm *exec.VirtualMachine) int64 {
			i := vm.GetCurrentFrame().Locals[0]
			if i < 0 || i >= int64(len(r.args.Regs)) {
				return -1
			}
			return int64(r.args.Regs[i])
		}
	case "bootargs":
		// bootargs(ptr, len) copies the kernel command line and returns
		// its full length.
		return func(vm *exec.VirtualMachine) int64 {
			ptr := int(uint32(vm.GetCurrentFrame().Locals[0]))
			n := int(uint32(vm.GetCurrentFrame().Locals[1]))
			copy(vm.Memory[ptr:ptr+n], r.args.Cmdline)
			return int64(len(r.args.Cmdline))
		}
	}
	panic(fmt.Errorf("unknown field: %s", field))
}

// ResolveGlobal implements exec.ImportResolver.
func (r *resolver) ResolveGlobal(module, field string) int64 {
	if module == "env" && field == "__life_magic" {
		return 424
	}
	panic(fmt.Errorf("unknown global: %s.%s", module, field))
}

// Jump runs the module loaded at args.Load. It returns once the module's
// entry point returns, which the caller treats as a failed boot.
func (j *WasmJumper) Jump(m *mem.Memory, args bootm.JumpArgs) (err error) {
	code, err := m.Read(args.Load, args.Size)
	if err != nil {
		return err
	}
	if !bytes.HasPrefix(code, wasmMagic) {
		return fmt.Errorf("%w: %s image at 0x%x", ErrNotExecutable, args.OS, args.Load)
	}
	if err := wasm_validation.ValidateWasm(code); err != nil {
		return fmt.Errorf("%w: %v", ErrNotExecutable, err)
	}
	// Resolvers report unknown imports by panicking.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("payload aborted: %v", r)
		}
	}()

	vm, err := exec.NewVirtualMachine(code, exec.VMConfig{
		DefaultMemoryPages: 128,
		DefaultTableSize:   65536,
	}, &resolver{console: j.Console, args: args}, nil)
	if err != nil {
		return err
	}
	entry := j.EntryPoint
	if entry == "" {
		entry = "main"
	}
	entryID, ok := vm.GetFunctionExport(entry)
	if !ok {
		glog.Warningf("entry function %s not found; starting from 0", entry)
		entryID = 0
	}

	start := time.Now()
	if vm.Module.Base.Start != nil {
		if _, err := vm.Run(int(vm.Module.Base.Start.Index)); err != nil {
			vm.PrintStackTrace()
			return err
		}
	}
	ret, err := vm.Run(entryID)
	if err != nil {
		vm.PrintStackTrace()
		return err
	}
	glog.Infof("payload returned %d after %v", ret, time.Since(start))
	j.Exits = append(j.Exits, ret)
	return nil
}
