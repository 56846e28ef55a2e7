// Package errors annotates errors with the place they crossed a layer.
//
//	err = xe.Wrap(err)
//
// gives an error whose message starts with the function, file and line of the call.
// Reading a message, replace
//
//	s/<-/\n/
//
// to get the trail of places the error went through.
package errors

import (
	"errors"
	"fmt"
	"runtime"
)

// Located is an error annotated with the location where it was wrapped.
type Located struct {
	file     string
	line     int
	funcname string
	note     string
	err      error
}

func (e *Located) File() string {
	return e.file
}

func (e *Located) Line() int {
	return e.line
}

func (e *Located) Func() string {
	return e.funcname
}

func (e *Located) Note() string {
	return e.note
}

func (e *Located) Error() string {
	if e.note == "" {
		return fmt.Sprintf(`@ %s "%s" l%d <- %s`, e.funcname, e.file, e.line, e.err.Error())
	}
	return fmt.Sprintf(`@ %s "%s" l%d (%s) <- %s`, e.funcname, e.file, e.line, e.note, e.err.Error())
}

func (e *Located) Unwrap() error {
	return e.err
}

func New(text string) error {
	return wrap("", errors.New(text), 1)
}

// Wrap annotates err with the caller. Wrap(nil) is nil.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	return wrap("", err, 1)
}

// WrapAsOuter annotates err with the caller `depth` frames above.
func WrapAsOuter(err error, depth int) error {
	if err == nil {
		return nil
	}
	return wrap("", err, depth+1)
}

func WrapWithNote(note string, err error) error {
	if err == nil {
		return nil
	}
	return wrap(note, err, 1)
}

// Notef is WrapWithNote with a formatted note.
func Notef(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return wrap(fmt.Sprintf(format, args...), err, 1)
}

func wrap(note string, err error, depth int) error {
	pc, file, line, ok := runtime.Caller(depth + 1)
	funcname := "(unknown func)"
	if !ok {
		file = "?"
		line = -1
	}
	if fn := runtime.FuncForPC(pc); fn != nil {
		funcname = fn.Name()
	}

	return &Located{
		funcname: funcname,
		file:     file,
		line:     line,
		note:     note,
		err:      err,
	}
}
