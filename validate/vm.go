// Copyright 2026 The M-Token Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package validate

import (
	"github.com/m-token/mvm/mtoken"
)

// frame is a structured control frame (IF or FN), pushed when its opening
// opcode is seen and popped at the matching E. Grounded on wagon's
// validate.mockVM frame (pc/stackHeight/op), minus the typed label/return
// signatures WASM tracks — M-Token's single value kind means the
// validator only needs to track stack *height*, not per-slot type.
type frame struct {
	openedAt    int // token index of the IF/FN that opened this frame
	op          mtoken.Op
	stackHeight int // data-stack height when the frame opened
}

// state is the symbolic machine the stack-effect pass runs, mirroring
// wagon's mockVM: a simulated operand stack (tracked by height only) plus
// a stack of control frames.
type state struct {
	height int
	frames []frame
}

func newState() *state {
	return &state{}
}

func (s *state) pushFrame(openedAt int, op mtoken.Op) {
	s.frames = append(s.frames, frame{openedAt: openedAt, op: op, stackHeight: s.height})
	logger.Printf("pushed frame %+v", s.topFrame())
}

func (s *state) popFrame() frame {
	top := s.frames[len(s.frames)-1]
	s.frames = s.frames[:len(s.frames)-1]
	return top
}

func (s *state) topFrame() *frame {
	if len(s.frames) == 0 {
		return nil
	}
	return &s.frames[len(s.frames)-1]
}

// pop consumes n stack slots. A function body (the outermost frame inside
// a FN) may not pop past its own floor; the top-level program may not pop
// past an empty stack either, since stackHeight starts at 0 either way.
func (s *state) pop(n int, at int) error {
	floor := 0
	if f := s.topFrame(); f != nil {
		floor = f.stackHeight
	}
	for i := 0; i < n; i++ {
		if s.height <= floor {
			return Error{Token: at, Err: ErrStackUnderflow}
		}
		s.height--
	}
	return nil
}

func (s *state) push(n int) { s.height += n }
