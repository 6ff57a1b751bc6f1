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

package compile

import (
	"testing"

	"github.com/fble-lang/fblevm/internal/profile"
	"github.com/fble-lang/fblevm/internal/tc"
	"github.com/fble-lang/fblevm/internal/vm"
)

func runModule(t *testing.T, body tc.Node) (*vm.Value, *vm.Heap, error) {
	t.Helper()
	c := New(profile.New())
	code := c.CompileModule(body, "test")
	c.Finish()

	heap := vm.NewHeap(0)
	main := heap.NewFunc(code, nil)
	heap.Retain(main)
	defer heap.Release(main)

	sched := vm.NewScheduler(heap, nil, nil, 0)
	v, err := sched.RunMain(main)
	return v, heap, err
}

func TestStructAccess(t *testing.T) {
	body := &tc.DataAccess{
		Datatype: tc.StructData,
		Tag:      1,
		Obj: &tc.StructValue{Fields: []tc.Node{
			&tc.UnionValue{Tag: 0, Arg: &tc.TypeValue{}},
			&tc.UnionValue{Tag: 1, Arg: &tc.TypeValue{}},
		}},
	}
	v, _, err := runModule(t, body)
	if err != nil {
		t.Fatalf("RunMain: %v", err)
	}
	if v.Kind() != vm.KindUnion || v.Tag() != 1 {
		t.Fatalf("got kind=%v tag=%v, want union tag 1", v.Kind(), v.Tag())
	}
}

func TestUnionSelect(t *testing.T) {
	cond := &tc.UnionValue{Tag: 1, Arg: &tc.TypeValue{}}
	choiceA := &tc.StructValue{Fields: nil}
	choiceB := &tc.StructValue{Fields: []tc.Node{&tc.TypeValue{}}}
	sel := &tc.UnionSelect{
		Condition: cond,
		Choices: []tc.Choice{
			{Value: choiceA},
			{Value: choiceB},
		},
	}
	v, _, err := runModule(t, sel)
	if err != nil {
		t.Fatalf("RunMain: %v", err)
	}
	if v.Kind() != vm.KindStruct || len(v.Fields()) != 1 {
		t.Fatalf("got kind=%v fields=%d, want the tag-1 branch (1 field)", v.Kind(), len(v.Fields()))
	}
}

func TestUnionSelectSharedDefaultBranchCompilesOnce(t *testing.T) {
	shared := &tc.StructValue{Fields: nil}
	sel := &tc.UnionSelect{
		Condition: &tc.UnionValue{Tag: 2, Arg: &tc.TypeValue{}},
		Choices: []tc.Choice{
			{Value: shared},
			{Value: shared},
			{Value: shared},
		},
	}
	v, _, err := runModule(t, sel)
	if err != nil {
		t.Fatalf("RunMain: %v", err)
	}
	if v.Kind() != vm.KindStruct {
		t.Fatalf("got kind=%v, want struct", v.Kind())
	}

	// Type, UnionValue, UnionSelect, then one StructValue+Return for the
	// shared branch; three separate copies would make this 9.
	code := New(nil).CompileModule(sel, "dedup")
	if code.Len() != 5 {
		t.Fatalf("got %d instructions, want 5 (shared branch compiled once)", code.Len())
	}
}

// natLiteral builds a tc tree for the unary natural number n, as a
// chain of n UnionValue{Tag: 1 (Succ)} wrapping a single
// UnionValue{Tag: 0 (Zero)}, built bottom-up iteratively so
// constructing a deep literal never recurses on the Go stack.
func natLiteral(n int) tc.Node {
	var node tc.Node = &tc.UnionValue{Tag: 0, Arg: &tc.TypeValue{}}
	for i := 0; i < n; i++ {
		node = &tc.UnionValue{Tag: 1, Arg: node}
	}
	return node
}

// TestDeepTailRecursionDoesNotGrowFrameStack builds a self-recursive
// countdown function and applies it to a many-thousand-deep literal:
// if CallInstr{Exit:true} pushed a new Frame instead of replacing the
// current one in place, this would build an equally deep Frame.tail
// chain (and, were the dispatch loop naively recursive in Go, blow the
// goroutine stack); either failure mode would show up as a timeout or
// a panic rather than a clean Zero result.
func TestDeepTailRecursionDoesNotGrowFrameStack(t *testing.T) {
	const depth = 5000

	// loop = func(n) { n ?: Zero => n; Succ => loop(n.pred) }
	loopBody := &tc.UnionSelect{
		Condition: &tc.Var{Index: tc.VarIndex{Source: tc.Local, Index: 0}},
		Choices: []tc.Choice{
			{Value: &tc.Var{Index: tc.VarIndex{Source: tc.Local, Index: 0}}},
			{Value: &tc.FuncApply{
				Func: &tc.Var{Index: tc.VarIndex{Source: tc.Static, Index: 0}},
				Args: []tc.Node{
					&tc.DataAccess{Datatype: tc.UnionData, Tag: 1, Obj: &tc.Var{Index: tc.VarIndex{Source: tc.Local, Index: 0}}},
				},
			}},
		},
	}
	loopFunc := &tc.FuncValue{
		Argc:  1,
		Scope: []tc.VarIndex{{Source: tc.Local, Index: 0}},
		Body:  loopBody,
	}
	module := &tc.Let{
		Recursive: true,
		Bindings:  []tc.Binding{{Value: loopFunc}},
		Body: &tc.FuncApply{
			Func: &tc.Var{Index: tc.VarIndex{Source: tc.Local, Index: 0}},
			Args: []tc.Node{natLiteral(depth)},
		},
	}

	v, _, err := runModule(t, module)
	if err != nil {
		t.Fatalf("RunMain: %v", err)
	}
	if v.Kind() != vm.KindUnion || v.Tag() != 0 {
		t.Fatalf("got kind=%v tag=%v, want the Zero base case", v.Kind(), v.Tag())
	}
}

// TestLinkPingPong exercises Link's FIFO Get/Put pair directly from
// compiled code: the module body opens a link, puts a value on it, and
// immediately gets it back in the same frame (no Fork needed, since
// Link never blocks a Put and a same-thread Get after a pending Put
// always has something to dequeue).
func TestLinkPingPong(t *testing.T) {
	// Link get, put in let _ = put(Type); get()
	body := &tc.Link{
		Body: &tc.Let{
			Bindings: []tc.Binding{
				{Value: &tc.FuncApply{
					Func: &tc.Var{Index: tc.VarIndex{Source: tc.Local, Index: 1}}, // put
					Args: []tc.Node{&tc.TypeValue{}},
				}},
			},
			Body: &tc.FuncApply{
				Func: &tc.Var{Index: tc.VarIndex{Source: tc.Local, Index: 1}}, // get, shifted by the let binding
			},
		},
	}
	v, _, err := runModule(t, body)
	if err != nil {
		t.Fatalf("RunMain: %v", err)
	}
	if v.Kind() != vm.KindType {
		t.Fatalf("got kind=%v, want the Type value round-tripped through the link", v.Kind())
	}
}

// TestExecForkJoin drives the spec's seed scenario S5 (§8): two
// procs forked in parallel by one Exec, one of which (loop) takes many
// scheduler rounds to finish while the other (quick) finishes in its
// first round. If the scheduler dropped spawned children (as it used
// to, since ForkInstr's spawn races a captured range header) the
// parent would block forever and this test would report ErrDeadlock;
// if the join weren't forced (as it wasn't, since plain frame.Get
// reads don't block on a pending Thunk) the struct built from the two
// bindings would still contain a raw Thunk in place of loop's result.
// Both bugs are exercised by asserting the actual joined values.
func TestExecForkJoin(t *testing.T) {
	const depth = 3000

	// loop = func(n) { n ?: Zero => n; Succ => loop(n.pred) }, called on
	// a many-thousand-deep literal so it spans several time slices.
	loopBody := &tc.UnionSelect{
		Condition: &tc.Var{Index: tc.VarIndex{Source: tc.Local, Index: 0}},
		Choices: []tc.Choice{
			{Value: &tc.Var{Index: tc.VarIndex{Source: tc.Local, Index: 0}}},
			{Value: &tc.FuncApply{
				Func: &tc.Var{Index: tc.VarIndex{Source: tc.Static, Index: 0}},
				Args: []tc.Node{
					&tc.DataAccess{Datatype: tc.UnionData, Tag: 1, Obj: &tc.Var{Index: tc.VarIndex{Source: tc.Local, Index: 0}}},
				},
			}},
		},
	}
	loopFunc := &tc.FuncValue{
		Argc:  1,
		Scope: []tc.VarIndex{{Source: tc.Local, Index: 0}},
		Body:  loopBody,
	}
	// proc0: a zero-argument proc that recursively unwinds depth before
	// returning the Zero base case.
	loopProc := &tc.FuncValue{
		Argc: 0,
		Body: &tc.Let{
			Recursive: true,
			Bindings:  []tc.Binding{{Value: loopFunc}},
			Body: &tc.FuncApply{
				Func: &tc.Var{Index: tc.VarIndex{Source: tc.Local, Index: 0}},
				Args: []tc.Node{natLiteral(depth)},
			},
		},
	}
	// proc1: a zero-argument proc that returns immediately.
	quickProc := &tc.FuncValue{
		Argc: 0,
		Body: &tc.UnionValue{Tag: 1, Arg: &tc.TypeValue{}},
	}

	body := &tc.Exec{
		Bindings: []tc.ExecBinding{
			{Value: loopProc},
			{Value: quickProc},
		},
		// loop is bound first, so it sits one slot deeper than quick
		// (the more recently bound name takes De Bruijn index 0).
		Body: &tc.StructValue{Fields: []tc.Node{
			&tc.Var{Index: tc.VarIndex{Source: tc.Local, Index: 1}}, // loop's result
			&tc.Var{Index: tc.VarIndex{Source: tc.Local, Index: 0}}, // quick's result
		}},
	}

	v, _, err := runModule(t, body)
	if err != nil {
		t.Fatalf("RunMain: %v", err)
	}
	if v.Kind() != vm.KindStruct || len(v.Fields()) != 2 {
		t.Fatalf("got kind=%v fields=%d, want a 2-field struct", v.Kind(), len(v.Fields()))
	}
	loopResult, quickResult := v.Fields()[0], v.Fields()[1]
	if loopResult.Kind() != vm.KindUnion || loopResult.Tag() != 0 {
		t.Fatalf("loop result: got kind=%v tag=%v, want the joined Zero base case", loopResult.Kind(), loopResult.Tag())
	}
	if quickResult.Kind() != vm.KindUnion || quickResult.Tag() != 1 {
		t.Fatalf("quick result: got kind=%v tag=%v, want the joined tag-1 value", quickResult.Kind(), quickResult.Tag())
	}
}

func TestDeadlockOnUnservicedPort(t *testing.T) {
	c := New(nil)
	// A module whose only action is to call get on a Link that nothing
	// ever puts to: with NopIO, no thread ever makes progress.
	body := &tc.Link{
		Body: &tc.FuncApply{
			Func: &tc.Var{Index: tc.VarIndex{Source: tc.Local, Index: 0}}, // get, with nothing ever put
		},
	}
	code := c.CompileModule(body, "deadlock")
	c.Finish()

	heap := vm.NewHeap(0)
	main := heap.NewFunc(code, nil)
	heap.Retain(main)
	defer heap.Release(main)

	sched := vm.NewScheduler(heap, nil, vm.NopIO{}, 0)
	sched.Diag = nil
	_, err := sched.RunMain(main)
	if err != vm.ErrDeadlock {
		t.Fatalf("got err=%v, want ErrDeadlock", err)
	}
}
