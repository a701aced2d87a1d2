package buildctx

import (
	"context"
	"reflect"

	"github.com/sirupsen/logrus"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/platinummonkey/modhub/pkg/plugins"
)

const (
	// HostPackage is the import path of the host SDK for source plugins
	HostPackage = "modhub/host"
	// HostWasmModule is the import module name of the host SDK for wasm plugins
	HostWasmModule = "modhub_host"
)

func hostSymbols(logger *logrus.Logger) map[string]reflect.Value {
	entry := logger.WithField("component", "plugin")
	return map[string]reflect.Value{
		"Log":        reflect.ValueOf(func(msg string) { entry.Info(msg) }),
		"Warn":       reflect.ValueOf(func(msg string) { entry.Warn(msg) }),
		"APIVersion": reflect.ValueOf(func() string { return plugins.CurrentAPIVersion }),
	}
}

// hostWasmModule exports log(ptr, len) and warn(ptr, len), reading the message
// from the caller's memory
func hostWasmModule(logger *logrus.Logger) WasmInstantiator {
	entry := logger.WithField("component", "plugin")
	read := func(m api.Module, ptr, size uint32) (string, bool) {
		mem := m.Memory()
		if mem == nil {
			return "", false
		}
		b, ok := mem.Read(ptr, size)
		return string(b), ok
	}

	return func(ctx context.Context, r wazero.Runtime) error {
		_, err := r.NewHostModuleBuilder(HostWasmModule).
			NewFunctionBuilder().
			WithFunc(func(ctx context.Context, m api.Module, ptr, size uint32) {
				if msg, ok := read(m, ptr, size); ok {
					entry.WithField("module", m.Name()).Info(msg)
				}
			}).
			Export("log").
			NewFunctionBuilder().
			WithFunc(func(ctx context.Context, m api.Module, ptr, size uint32) {
				if msg, ok := read(m, ptr, size); ok {
					entry.WithField("module", m.Name()).Warn(msg)
				}
			}).
			Export("warn").
			Instantiate(ctx)
		return err
	}
}
