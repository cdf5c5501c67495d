/*
 errors.go

 GNU GENERAL PUBLIC LICENSE
 Version 3, 29 June 2007
 Copyright (C) 2024 Jack Ng <jack.ng.ca@gmail.com>

 This program is free software: you can redistribute it and/or modify
 it under the terms of the GNU General Public License as published by
 the Free Software Foundation, either version 3 of the License, or
 (at your option) any later version.

 This program is distributed in the hope that it will be useful,
 but WITHOUT ANY WARRANTY; without even the implied warranty of
 MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 GNU General Public License for more details.

 You should have received a copy of the GNU General Public License
 along with this program.  If not, see <https://www.gnu.org/licenses/> */

package core

import "fmt"

// Kind identifies the category of a failure so callers can branch on it
// with errors.As instead of string-matching a message.
type Kind int

const (
	KindNotFormatted Kind = iota
	KindNotMounted
	KindFileNotFound
	KindPathAlreadyExists
	KindFileInUse
	KindDiskFull
	KindWritePastEnd
	KindArgumentOutOfRange
)

func (k Kind) String() string {
	switch k {
	case KindNotFormatted:
		return "NotFormatted"
	case KindNotMounted:
		return "NotMounted"
	case KindFileNotFound:
		return "FileNotFound"
	case KindPathAlreadyExists:
		return "PathAlreadyExists"
	case KindFileInUse:
		return "FileInUse"
	case KindDiskFull:
		return "DiskFull"
	case KindWritePastEnd:
		return "WritePastEnd"
	case KindArgumentOutOfRange:
		return "ArgumentOutOfRange"
	default:
		return "Unknown"
	}
}

// Error is the typed error for the failure kinds above. The kind is what
// callers should inspect; Msg carries the human-readable detail. Errors
// from the BlockDriver and geometry errors from NewLogCore and
// OpenFileDevice are returned as plain errors, not as *Error.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func newError(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...)}
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, k Kind) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == k
}
