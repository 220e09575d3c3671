package script

import (
	"fmt"

	"github.com/dop251/goja"
)

var dangerousGlobals = []string{
	"require",
	"module",
	"exports",
	"process",
	"global",
	"__dirname",
	"__filename",
	"Buffer",
	"setImmediate",
	"clearImmediate",
}

var frozenBuiltins = []string{
	"Object", "Array", "Function", "String", "Number",
	"Boolean", "Date", "RegExp", "Error", "Math",
}

// sandbox restricts a VM according to a security level.
func sandbox(vm *goja.Runtime, level string) error {
	for _, name := range dangerousGlobals {
		if err := vm.Set(name, goja.Undefined()); err != nil {
			return fmt.Errorf("failed to remove %s: %w", name, err)
		}
	}

	if level == SecurityLevelStrict {
		err := vm.Set("eval", func(goja.FunctionCall) goja.Value {
			panic(vm.NewGoError(newSecurityError("eval is not allowed in strict security mode")))
		})
		if err != nil {
			return err
		}
	}

	if level == SecurityLevelPermissive {
		return nil
	}
	return freeze(vm)
}

func freeze(vm *goja.Runtime) error {
	val, err := vm.RunString(`(function(obj) {
		if (obj) {
			Object.freeze(obj);
			if (obj.prototype) Object.freeze(obj.prototype);
		}
	})`)
	if err != nil {
		return fmt.Errorf("failed to create freeze function: %w", err)
	}
	fn, ok := goja.AssertFunction(val)
	if !ok {
		return fmt.Errorf("freeze function is not a function")
	}
	for _, name := range frozenBuiltins {
		obj := vm.Get(name)
		if obj == nil || goja.IsUndefined(obj) {
			continue
		}
		if _, err := fn(goja.Undefined(), obj); err != nil {
			return fmt.Errorf("failed to freeze %s: %w", name, err)
		}
	}
	return nil
}
