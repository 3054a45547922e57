package transform

import (
	"fmt"

	"github.com/robertkrimen/otto"
)

// OttoTransformer evaluates a user-supplied JavaScript snippet against
// ctx using the embedded otto VM. The script sees a "ctx" object with
// document/operation/id and may set ignore/deleted/_index/_type/
// _parent/_routing/id.
type OttoTransformer struct {
	src string
}

// NewOttoTransformer compiles nothing up front (otto recompiles per
// run to keep each invocation's global state isolated); it only
// retains the script source.
func NewOttoTransformer(script string) *OttoTransformer {
	return &OttoTransformer{src: script}
}

func (t *OttoTransformer) Apply(ctx *Context) (*Context, error) {
	vm := otto.New()

	jsCtx, err := vm.Object(`({})`)
	if err != nil {
		return ctx, err
	}
	if err := jsCtx.Set("document", ctx.Document); err != nil {
		return ctx, err
	}
	if err := jsCtx.Set("operation", ctx.Operation); err != nil {
		return ctx, err
	}
	if ctx.ID != "" {
		if err := jsCtx.Set("id", ctx.ID); err != nil {
			return ctx, err
		}
	}
	if err := vm.Set("ctx", jsCtx); err != nil {
		return ctx, err
	}

	if _, err := vm.Run(t.src); err != nil {
		return ctx, fmt.Errorf("transform: script evaluation failed: %w", err)
	}

	result, err := vm.Get("ctx")
	if err != nil {
		return ctx, err
	}
	exported, err := result.Export()
	if err != nil {
		return ctx, err
	}
	fields, ok := exported.(map[string]interface{})
	if !ok {
		return ctx, fmt.Errorf("transform: ctx did not export as an object")
	}

	out := *ctx
	if doc, ok := fields["document"].(map[string]interface{}); ok {
		out.Document = doc
	}
	if op, ok := fields["operation"].(string); ok {
		out.Operation = op
	}
	if id, ok := fields["id"]; ok {
		out.ID = fmt.Sprintf("%v", id)
	}
	if ignore, ok := fields["ignore"].(bool); ok {
		out.Ignore = ignore
	}
	if deleted, ok := fields["deleted"].(bool); ok {
		out.Deleted = deleted
	}
	if v, ok := fields["_index"].(string); ok {
		out.Index = v
	}
	if v, ok := fields["_type"].(string); ok {
		out.Type = v
	}
	if v, ok := fields["_parent"].(string); ok {
		out.Parent = v
	}
	if v, ok := fields["_routing"].(string); ok {
		out.Routing = v
	}
	return &out, nil
}
