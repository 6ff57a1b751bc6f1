// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package vm

import (
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/fble-lang/fblevm/internal/profile"
)

// IO is the host's bridge to the outside world for port-backed
// processes. Between scheduler rounds, Scheduler.run calls IO once per
// round; block is true only when no thread made progress that round.
type IO interface {
	// Step may transfer at most one value through each port argument
	// of the main process. It returns true iff it changed any port's
	// state (populated an input port, or drained an output port).
	Step(heap *Heap, block bool) bool
}

// NopIO is an IO that never produces or consumes anything; programs
// that only read/write links among themselves (no host ports) can use
// it, and it is what makes scenario S6 (a program that blocks forever
// on an external port) deterministically deadlock.
type NopIO struct{}

func (NopIO) Step(*Heap, bool) bool { return false }

// Scheduler holds every live thread for one evaluation and drives them
// to completion or failure, per §4.6/§5's cooperative round model.
type Scheduler struct {
	Heap    *Heap
	Profile *profile.Profile
	IO      IO

	timeSlice int // instructions per time slice; 0 uses defaultTimeSlice

	threads []*Thread
	runID   string // diagnostic correlation id only; never observable to the program, logged via Diag

	Diag *os.File // where located abort/deadlock messages are written; defaults to os.Stderr
}

// NewScheduler constructs a scheduler with the given time slice (0 for
// the spec default of ~1024 instructions) and IO bridge.
func NewScheduler(heap *Heap, p *profile.Profile, io IO, timeSlice int) *Scheduler {
	if io == nil {
		io = NopIO{}
	}
	return &Scheduler{
		Heap:      heap,
		Profile:   p,
		IO:        io,
		timeSlice: timeSlice,
		runID:     uuid.New().String(),
		Diag:      os.Stderr,
	}
}

func (s *Scheduler) spawn(t *Thread) {
	if t.Profile == nil && s.Profile != nil {
		t.Profile = profile.NewThread(s.Profile, -1)
	}
	s.threads = append(s.threads, t)
}

// RunMain evaluates main (a zero-argument process Func) to completion,
// returning its result or an error: a located abort, or ErrDeadlock.
func (s *Scheduler) RunMain(main *Value) (*Value, error) {
	root := &Thread{}
	if s.Profile != nil {
		root.Profile = profile.NewThread(s.Profile, -1)
	}
	root.Call(s.Heap, main, nil, nil)
	s.spawn(root)
	return s.run(root)
}

// run is the outer scheduler loop (§4.6): each round advances every
// live thread once; if any thread made progress, poll IO
// non-blockingly and loop; otherwise poll IO blockingly, and report a
// deadlock if that too makes no progress. It terminates once root has
// a result or any thread aborts.
//
// A thread's own ForkInstr can append new child threads to s.threads
// mid-round (via spawn), so the round is driven by index against
// s.threads directly rather than by ranging over a copy or a header
// captured at round start: len(s.threads) is re-read every iteration,
// which means a child spawned partway through a round still gets
// driven before the round ends, and a finished thread is spliced out
// in place rather than dropped by rebuilding the slice from a
// separately-indexed "alive" accumulator (the two don't mix safely,
// since spawn's append and an in-place filter would otherwise race
// over the same backing array).
func (s *Scheduler) run(root *Thread) (*Value, error) {
	for {
		progressed := false
		i := 0
		for i < len(s.threads) {
			t := s.threads[i]
			status := s.driveThread(t)
			switch status {
			case Aborted:
				return nil, s.reportAbort(t)
			case Finished:
				// Stack is empty; its result, if any, was already
				// written through its resultSlot or, for root, into
				// t.result. Splice it out in place; do not advance i,
				// since the next thread has shifted into this slot.
				progressed = true
				s.threads = append(s.threads[:i], s.threads[i+1:]...)
			case Yielded:
				progressed = true
				i++
			case Blocked:
				i++
			}
		}
		s.Heap.MaybeGC()

		if v, ok := root.Result(); ok {
			return v, nil
		}

		if progressed {
			s.IO.Step(s.Heap, false)
			continue
		}
		if !s.IO.Step(s.Heap, true) {
			return nil, s.deadlock()
		}
	}
}

// driveThread is the trampoline that repeatedly invokes the current
// top frame's Executable until the thread truly suspends (Blocked,
// Yielded, Aborted) or its call stack empties (Finished). Every
// Call/Return instruction hands off by returning Finished and letting
// this loop re-resolve thread.Stack, which is what keeps a deep chain
// of tail calls (and ordinary non-tail calls) from growing the Go call
// stack: there is no recursion here at all, only iteration.
func (s *Scheduler) driveThread(t *Thread) RunStatus {
	for {
		if t.Stack == nil {
			return Finished
		}
		exec := t.Stack.funcVal.FuncExecutable()
		status := exec.Run(s.Heap, s, t)
		if status == Aborted {
			return Aborted
		}
		if status == Finished {
			continue
		}
		return status
	}
}

func (s *Scheduler) reportAbort(t *Thread) error {
	if s.Diag != nil {
		fmt.Fprintf(s.Diag, "[%s] %s\n", s.runID, t.abortErr.Error())
	}
	return t.abortErr
}

func (s *Scheduler) deadlock() error {
	if s.Diag != nil {
		fmt.Fprintf(s.Diag, "[%s] %s\n", s.runID, ErrDeadlock.Error())
	}
	return ErrDeadlock
}
