package extract

import (
	"fmt"
	"sort"
	"time"

	"github.com/23skdu/longbow-spyglass/internal/device"
	"github.com/23skdu/longbow-spyglass/internal/metrics"
	"github.com/23skdu/longbow-spyglass/internal/vit"
)

// Selection maps each tap point to the stage indices to instrument.
// A missing key or nil slice means every stage.
type Selection map[vit.TapPoint][]int

// stagesFor resolves the instrumented stages for a tap point in
// ascending, deduplicated order. Hooks fire as blocks execute, so the
// capture buffer fills in stage order; the selection must be
// normalized the same way or buffer indices drift from stages.
func (s Selection) stagesFor(point vit.TapPoint, numBlocks int) []int {
	if stages, ok := s[point]; ok && stages != nil {
		out := append([]int(nil), stages...)
		sort.Ints(out)
		n := 0
		for i, st := range out {
			if i == 0 || st != out[n-1] {
				out[n] = st
				n++
			}
		}
		return out[:n]
	}
	all := make([]int, numBlocks)
	for i := range all {
		all[i] = i
	}
	return all
}

// session owns the hooks and buffers of exactly one instrumented
// forward pass. Hooks are attached at construction and detached by
// Close, which runs on every exit path so a failed forward cannot
// leave stale hooks on the model.
type session struct {
	model   vit.Model
	handles []vit.HookHandle
	buffers map[vit.TapPoint][]*device.Tensor
}

func newSession(m vit.Model, sel Selection) (*session, error) {
	s := &session{
		model:   m,
		buffers: make(map[vit.TapPoint][]*device.Tensor),
	}

	blocks := m.Blocks()
	for _, point := range vit.TapPoints {
		if _, ok := sel[point]; !ok {
			continue
		}
		point := point
		for _, stage := range sel.stagesFor(point, len(blocks)) {
			if stage < 0 || stage >= len(blocks) {
				s.Close()
				return nil, fmt.Errorf("stage %d out of range [0, %d)", stage, len(blocks))
			}
			h := blocks[stage].Hook(point, func(t *device.Tensor) {
				// Clone: the model owns the emitted tensor and may
				// reuse its backing slice for later stages.
				s.buffers[point] = append(s.buffers[point], t.Clone())
			})
			s.handles = append(s.handles, h)
		}
	}
	return s, nil
}

// run performs the single forward evaluation that populates the
// buffers. It must be called exactly once per session.
func (s *session) run(img *device.Tensor) error {
	start := time.Now()
	err := s.model.Forward(img)
	metrics.RecordForward(time.Since(start))
	if err != nil {
		return fmt.Errorf("forward pass failed: %w", err)
	}
	for _, point := range vit.TapPoints {
		if n := len(s.buffers[point]); n > 0 {
			metrics.RecordCapture(point.String(), n)
		}
	}
	return nil
}

// captured returns the buffered tensors for a tap point, one per
// instrumented stage in stage order.
func (s *session) captured(point vit.TapPoint) []*device.Tensor {
	return s.buffers[point]
}

// stage returns the buffered tensor for one requested stage. The
// buffer index is the rank of the stage within the selection, which
// under the default all-stages selection is the stage index itself.
func (s *session) stage(point vit.TapPoint, sel Selection, stage int) (*device.Tensor, error) {
	stages := sel.stagesFor(point, len(s.model.Blocks()))
	for i, st := range stages {
		if st == stage {
			buf := s.buffers[point]
			if i >= len(buf) {
				return nil, fmt.Errorf("stage %d not captured for %s (buffer has %d entries)", stage, point, len(buf))
			}
			return buf[i], nil
		}
	}
	return nil, fmt.Errorf("stage %d not in capture selection for %s", stage, point)
}

// Close detaches every hook and discards the buffers. Idempotent.
func (s *session) Close() {
	for _, h := range s.handles {
		h.Remove()
	}
	s.handles = nil
	s.buffers = make(map[vit.TapPoint][]*device.Tensor)
}
