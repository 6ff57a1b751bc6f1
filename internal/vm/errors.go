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
	"errors"
	"fmt"

	"github.com/fble-lang/fblevm/internal/ident"
)

// Loc is the source location attached to instructions for located
// error messages; it never affects execution.
type Loc = ident.Loc

// LocatedError is an abort-causing error carrying the source location
// the spec requires every aborting instruction to report (§4.5, §7).
type LocatedError struct {
	Loc Loc
	Msg string
}

func (e *LocatedError) Error() string {
	return fmt.Sprintf("%s: %s", e.Loc, e.Msg)
}

func locatedError(loc Loc, msg string) *LocatedError {
	return &LocatedError{Loc: loc, Msg: msg}
}

func errUndefinedAccess(loc Loc) *LocatedError {
	return locatedError(loc, "undefined value access")
}

func errWrongTag(loc Loc) *LocatedError {
	return locatedError(loc, "wrong union tag")
}

func errUndefinedCall(loc Loc) *LocatedError {
	return locatedError(loc, "called an undefined function")
}

func errNotAProc(loc Loc) *LocatedError {
	return locatedError(loc, "fork argument is not a zero-argument function")
}

// errVacuousValue is RefDef's failure: the recursive binding reduces
// through Ref cells back to its own cell without ever constructing
// something concrete.
var errVacuousValue = errors.New("vacuous value")

// ErrDeadlock is reported by the Scheduler when every thread is
// blocked and the host IO callback made no progress.
var ErrDeadlock = errors.New("deadlock: all threads blocked and no I/O progress")

// abort marks thread as having failed with err and returns the
// Aborted status. The scheduler writes err to its diagnostic stream
// and ends the whole evaluation with err: no thread, aborted or not,
// is run any further.
func abort(thread *Thread, err error) RunStatus {
	thread.abortErr = err
	return Aborted
}
