package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/dop251/goja"
	"github.com/loykin/appvisor/internal/env"
)

// jsTimeout bounds evaluation of an ecosystem script.
var jsTimeout = 5 * time.Second

// evalJS runs a CommonJS ecosystem file and returns module.exports.
// Only the bits of the Node runtime such files use are provided:
// module/exports, __dirname, __filename, process.env and require("path").
func evalJS(path string, src []byte) (any, error) {
	vm := goja.New()
	module := vm.NewObject()
	exports := vm.NewObject()
	if err := module.Set("exports", exports); err != nil {
		return nil, err
	}

	proc := vm.NewObject()
	_ = proc.Set("env", map[string]string(env.Parse(os.Environ())))
	_ = proc.Set("platform", runtime.GOOS)
	_ = proc.Set("cwd", func() string {
		wd, _ := os.Getwd()
		return wd
	})

	globals := map[string]any{
		"module":     module,
		"exports":    exports,
		"__dirname":  filepath.Dir(path),
		"__filename": path,
		"process":    proc,
		"require": func(call goja.FunctionCall) goja.Value {
			name := call.Argument(0).String()
			if name == "path" || name == "node:path" {
				return pathModule(vm)
			}
			panic(vm.NewGoError(fmt.Errorf("require(%q) is not supported in ecosystem files", name)))
		},
	}
	for k, v := range globals {
		if err := vm.Set(k, v); err != nil {
			return nil, fmt.Errorf("set %s: %w", k, err)
		}
	}

	timer := time.AfterFunc(jsTimeout, func() { vm.Interrupt("evaluation timed out") })
	defer timer.Stop()
	if _, err := vm.RunScript(path, string(src)); err != nil {
		return nil, err
	}
	return module.Get("exports").Export(), nil
}

func pathModule(vm *goja.Runtime) goja.Value {
	m := vm.NewObject()
	_ = m.Set("sep", string(filepath.Separator))
	_ = m.Set("join", func(parts ...string) string { return filepath.Join(parts...) })
	_ = m.Set("resolve", func(parts ...string) string {
		p := filepath.Join(parts...)
		for i := len(parts) - 1; i >= 0; i-- {
			if filepath.IsAbs(parts[i]) {
				p = filepath.Join(parts[i:]...)
				break
			}
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			return p
		}
		return abs
	})
	_ = m.Set("dirname", filepath.Dir)
	_ = m.Set("basename", filepath.Base)
	_ = m.Set("extname", filepath.Ext)
	_ = m.Set("isAbsolute", filepath.IsAbs)
	return m
}
