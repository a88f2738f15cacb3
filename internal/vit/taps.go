package vit

import "github.com/23skdu/longbow-spyglass/internal/device"

// Taps is a reusable hook registry for one block. Model
// implementations embed it to satisfy the Block interface and call
// Emit at each tap point during their forward pass.
//
// Not safe for concurrent use; the extractor serializes attach,
// forward and detach within one call.
type Taps struct {
	hooks map[TapPoint][]*tapHandle
}

type tapHandle struct {
	owner   *Taps
	point   TapPoint
	fn      Hook
	removed bool
}

func (h *tapHandle) Remove() {
	if h.removed {
		return
	}
	h.removed = true
	list := h.owner.hooks[h.point]
	for i, other := range list {
		if other == h {
			h.owner.hooks[h.point] = append(list[:i], list[i+1:]...)
			break
		}
	}
}

func (t *Taps) Hook(point TapPoint, fn Hook) HookHandle {
	if t.hooks == nil {
		t.hooks = make(map[TapPoint][]*tapHandle)
	}
	h := &tapHandle{owner: t, point: point, fn: fn}
	t.hooks[point] = append(t.hooks[point], h)
	return h
}

// Emit delivers a tensor to every hook attached at point, in
// attachment order.
func (t *Taps) Emit(point TapPoint, tensor *device.Tensor) {
	for _, h := range t.hooks[point] {
		h.fn(tensor)
	}
}

// HookCount returns the number of hooks attached at point.
func (t *Taps) HookCount(point TapPoint) int {
	return len(t.hooks[point])
}
