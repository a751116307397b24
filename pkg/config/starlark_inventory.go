package config

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.starlark.net/starlark"
)

// defaultScriptTimeout bounds a single inventory script run.
const defaultScriptTimeout = 30 * time.Second

// StarlarkInventory runs sandboxed Starlark inventory scripts. A script
// has no filesystem, network, or print access; it sees range and
// enumerate plus any parameters passed in as predeclared globals, and
// must define a top-level "targets" list of dicts, one dict per target,
// carrying the same keys as a YAML inventory entry.
type StarlarkInventory struct {
	timeout time.Duration
}

// NewStarlarkInventory creates a script runner. A zero timeout uses the
// default.
func NewStarlarkInventory(timeout time.Duration) *StarlarkInventory {
	if timeout == 0 {
		timeout = defaultScriptTimeout
	}
	return &StarlarkInventory{timeout: timeout}
}

// Targets runs an inventory script and decodes its "targets" global
// into target specs. filename labels positions in script errors. The
// returned specs are not yet validated; the inventory loader applies
// struct validation after merging sources.
func (si *StarlarkInventory) Targets(ctx context.Context, filename, src string, params map[string]interface{}) ([]TargetSpec, error) {
	globals, err := si.Run(ctx, filename, src, params)
	if err != nil {
		return nil, err
	}

	raw, ok := globals["targets"]
	if !ok {
		return nil, fmt.Errorf("%s did not define a targets list", filename)
	}
	items, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%s: targets must be a list, got %T", filename, raw)
	}

	specs := make([]TargetSpec, 0, len(items))
	for i, item := range items {
		// Round-trip through JSON so the dict keys map like a YAML entry.
		encoded, err := json.Marshal(item)
		if err != nil {
			return nil, fmt.Errorf("targets[%d]: %w", i, err)
		}
		var ts TargetSpec
		if err := json.Unmarshal(encoded, &ts); err != nil {
			return nil, fmt.Errorf("targets[%d]: %w", i, err)
		}
		specs = append(specs, ts)
	}
	return specs, nil
}

// Run executes a script and returns its exported globals. Names
// starting with "_" are the script's own helpers and are dropped. The
// run is abandoned after the configured timeout.
func (si *StarlarkInventory) Run(ctx context.Context, filename, src string, params map[string]interface{}) (map[string]interface{}, error) {
	runCtx, cancel := context.WithTimeout(ctx, si.timeout)
	defer cancel()

	type outcome struct {
		globals map[string]interface{}
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		globals, err := si.exec(filename, src, params)
		done <- outcome{globals: globals, err: err}
	}()

	select {
	case <-runCtx.Done():
		return nil, fmt.Errorf("inventory script %s did not finish within %v", filename, si.timeout)
	case out := <-done:
		return out.globals, out.err
	}
}

func (si *StarlarkInventory) exec(filename, src string, params map[string]interface{}) (map[string]interface{}, error) {
	thread := &starlark.Thread{
		Name: "inventory",
		// Scripts have no output channel.
		Print: func(_ *starlark.Thread, _ string) {},
	}

	predeclared := starlark.StringDict{
		"range":     starlark.NewBuiltin("range", scriptRange),
		"enumerate": starlark.NewBuiltin("enumerate", scriptEnumerate),
	}
	for key, val := range params {
		sv, err := scriptValue(val)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", key, err)
		}
		predeclared[key] = sv
	}

	globals, err := starlark.ExecFile(thread, filename, src, predeclared)
	if err != nil {
		return nil, fmt.Errorf("inventory script failed: %w", err)
	}

	out := make(map[string]interface{}, len(globals))
	for name, val := range globals {
		if strings.HasPrefix(name, "_") {
			continue
		}
		gv, err := goValue(val)
		if err != nil {
			return nil, fmt.Errorf("global %s: %w", name, err)
		}
		out[name] = gv
	}
	return out, nil
}

// scriptValue converts a Go parameter to a Starlark value.
func scriptValue(v interface{}) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []interface{}:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			sv, err := scriptValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = sv
		}
		return starlark.NewList(list), nil
	case map[string]interface{}:
		dict := starlark.NewDict(len(val))
		for k, item := range val {
			sv, err := scriptValue(item)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported parameter type: %T", v)
	}
}

// goValue converts a Starlark value back to a Go value.
func goValue(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		list := make([]interface{}, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := goValue(val.Index(i))
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case starlark.Tuple:
		list := make([]interface{}, len(val))
		for i, item := range val {
			gv, err := goValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = gv
		}
		return list, nil
	case *starlark.Dict:
		dict := make(map[string]interface{}, val.Len())
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string, got %s", item[0].Type())
			}
			value, err := goValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}

// scriptRange implements range() for host numbering loops.
func scriptRange(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var start, stop, step int64 = 0, 0, 1

	switch len(args) {
	case 1:
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "stop", &stop); err != nil {
			return nil, err
		}
	case 2:
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "start", &start, "stop", &stop); err != nil {
			return nil, err
		}
	case 3:
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "start", &start, "stop", &stop, "step", &step); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("range takes 1 to 3 arguments, got %d", len(args))
	}

	if step == 0 {
		return nil, fmt.Errorf("range step cannot be zero")
	}

	var list []starlark.Value
	if step > 0 {
		for i := start; i < stop; i += step {
			list = append(list, starlark.MakeInt64(i))
		}
	} else {
		for i := start; i > stop; i += step {
			list = append(list, starlark.MakeInt64(i))
		}
	}

	return starlark.NewList(list), nil
}

// scriptEnumerate implements enumerate() for indexed target names.
func scriptEnumerate(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var iterable starlark.Iterable
	var start int64

	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "iterable", &iterable, "start?", &start); err != nil {
		return nil, err
	}

	iter := iterable.Iterate()
	defer iter.Done()

	var list []starlark.Value
	var x starlark.Value
	i := start
	for iter.Next(&x) {
		list = append(list, starlark.Tuple{starlark.MakeInt64(i), x})
		i++
	}

	return starlark.NewList(list), nil
}
