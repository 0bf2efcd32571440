// Package script implements the text programs that scripted guests run.
//
// A script has one statement per line. Blank lines and lines starting with
// '#' are ignored.
//
//	openat AT_FDCWD "/etc/hosts" O_RDONLY = *
//	read $1 @buf 16 = 16
//	expect @buf "127.0.0.1"
//	close $1 = 0
//	close $1 = EBADF
//
// A call statement names a syscall, lists its arguments, and optionally
// states the expected return value after '='. Arguments are integers,
// symbolic constants joined with '|', quoted strings, scratch buffer
// addresses (@buf, @buf+N), the result of the call on source line N ($N), or
// the result of the previous call ($last). Quoted strings use Go syntax, are
// copied NUL-terminated into the process's scratch area before the call, and
// are passed by address.
//
// Expected values are integers, constants, $N references, an errno name
// (optionally written as "-1 ENAME"), or '*' for any successful result.
//
// An expect statement compares guest memory at an address with a quoted
// string.
package script

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/kmrgirish/hostsim/internal/simulation/syscallabi"
)

// ScratchBufSize is the size of the @buf area. Quoted strings live above it.
const ScratchBufSize = 32 << 10

type SyntaxError struct {
	File string
	Line int
	Err  error
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%s:%d: %v", e.File, e.Line, e.Err)
}

func (e *SyntaxError) Unwrap() error {
	return e.Err
}

type argKind int

const (
	argInt argKind = iota
	argString
	argBuf
	argRef
	argLast
)

type arg struct {
	kind argKind
	val  uint64
	str  string
	line int
}

func (a arg) String() string {
	switch a.kind {
	case argString:
		return strconv.Quote(a.str)
	case argBuf:
		if a.val == 0 {
			return "@buf"
		}
		return fmt.Sprintf("@buf+%d", a.val)
	case argRef:
		return fmt.Sprintf("$%d", a.line)
	case argLast:
		return "$last"
	default:
		return fmt.Sprintf("%#x", a.val)
	}
}

type expectKind int

const (
	expectNone expectKind = iota
	expectValue
	expectErrno
	expectSuccess
)

type expectation struct {
	kind  expectKind
	value arg
	errno syscallabi.Errno
}

// A statement is a call or a memory check.
type statement struct {
	line int
	text string

	nr     syscallabi.NR
	args   []arg
	expect expectation

	memcheck bool
	addr     arg
	want     string
}

// A Script is a parsed program.
type Script struct {
	Name  string
	stmts []statement
}

// Calls returns the number of call statements.
func (s *Script) Calls() int {
	n := 0
	for _, st := range s.stmts {
		if !st.memcheck {
			n++
		}
	}
	return n
}

// Parse parses the script src. name is used in error messages.
func Parse(name string, src []byte) (*Script, error) {
	s := &Script{Name: name}
	calls := make(map[int]bool)
	for i, text := range strings.Split(string(src), "\n") {
		lineno := i + 1
		text = strings.TrimSpace(text)
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		st, err := parseStatement(text)
		if err != nil {
			return nil, &SyntaxError{File: name, Line: lineno, Err: err}
		}
		st.line = lineno
		st.text = text
		for _, a := range append(append([]arg(nil), st.args...), st.addr, st.expect.value) {
			if a.kind == argRef && !calls[a.line] {
				return nil, &SyntaxError{File: name, Line: lineno, Err: fmt.Errorf("$%d does not name an earlier call", a.line)}
			}
		}
		if !st.memcheck {
			calls[lineno] = true
		}
		s.stmts = append(s.stmts, st)
	}
	return s, nil
}

func parseStatement(text string) (statement, error) {
	var st statement
	fields, err := tokenize(text)
	if err != nil {
		return st, err
	}

	if fields[0] == "expect" {
		if len(fields) != 3 {
			return st, errors.New("usage: expect ADDR \"string\"")
		}
		addr, err := parseArg(fields[1])
		if err != nil {
			return st, err
		}
		if addr.kind == argString {
			return st, errors.New("expect: address must not be a string")
		}
		want, err := parseArg(fields[2])
		if err != nil {
			return st, err
		}
		if want.kind != argString {
			return st, errors.New("expect: want a quoted string")
		}
		st.memcheck = true
		st.addr = addr
		st.want = want.str
		return st, nil
	}

	nr, ok := syscallabi.LookupNR(fields[0])
	if !ok {
		if n, err := strconv.ParseUint(fields[0], 0, 64); err == nil {
			nr, ok = syscallabi.NR(n), true
		}
	}
	if !ok {
		return st, fmt.Errorf("unknown syscall %q", fields[0])
	}
	st.nr = nr

	rest := fields[1:]
	for i, f := range rest {
		if f == "=" {
			exp, err := parseExpectation(rest[i+1:])
			if err != nil {
				return st, err
			}
			st.expect = exp
			rest = rest[:i]
			break
		}
	}
	if len(rest) > 6 {
		return st, fmt.Errorf("%s: %d arguments", nr, len(rest))
	}
	for _, f := range rest {
		a, err := parseArg(f)
		if err != nil {
			return st, err
		}
		st.args = append(st.args, a)
	}
	return st, nil
}

func parseExpectation(fields []string) (expectation, error) {
	if len(fields) == 2 && fields[0] == "-1" {
		fields = fields[1:]
	}
	if len(fields) != 1 {
		return expectation{}, errors.New("want one value after '='")
	}
	f := fields[0]
	if f == "*" {
		return expectation{kind: expectSuccess}, nil
	}
	if strings.HasPrefix(f, "E") {
		if errno, ok := syscallabi.LookupErrno(f); ok {
			return expectation{kind: expectErrno, errno: errno}, nil
		}
	}
	a, err := parseArg(f)
	if err != nil {
		return expectation{}, err
	}
	if a.kind == argString {
		return expectation{}, errors.New("strings cannot be expected values")
	}
	return expectation{kind: expectValue, value: a}, nil
}

// tokenize splits a line on spaces, keeping quoted strings whole and dropping
// a trailing comment.
func tokenize(text string) ([]string, error) {
	var fields []string
	for {
		text = strings.TrimLeft(text, " \t")
		if text == "" || text[0] == '#' {
			break
		}
		if text[0] == '"' {
			q, err := strconv.QuotedPrefix(text)
			if err != nil {
				return nil, fmt.Errorf("bad string: %s", text)
			}
			fields = append(fields, q)
			text = text[len(q):]
			continue
		}
		end := strings.IndexAny(text, " \t")
		if end < 0 {
			end = len(text)
		}
		fields = append(fields, text[:end])
		text = text[end:]
	}
	if len(fields) == 0 {
		return nil, errors.New("empty statement")
	}
	return fields, nil
}

func parseArg(f string) (arg, error) {
	switch {
	case strings.HasPrefix(f, `"`):
		s, err := strconv.Unquote(f)
		if err != nil {
			return arg{}, fmt.Errorf("bad string %s: %w", f, err)
		}
		return arg{kind: argString, str: s}, nil

	case f == "$last":
		return arg{kind: argLast}, nil

	case strings.HasPrefix(f, "$"):
		n, err := strconv.Atoi(f[1:])
		if err != nil || n <= 0 {
			return arg{}, fmt.Errorf("bad reference %s", f)
		}
		return arg{kind: argRef, line: n}, nil

	case f == "@buf":
		return arg{kind: argBuf}, nil

	case strings.HasPrefix(f, "@buf+"):
		n, err := strconv.ParseUint(f[len("@buf+"):], 0, 64)
		if err != nil || n >= ScratchBufSize {
			return arg{}, fmt.Errorf("bad buffer offset %s", f)
		}
		return arg{kind: argBuf, val: n}, nil
	}

	var v uint64
	for _, part := range strings.Split(f, "|") {
		n, err := parseNumber(part)
		if err != nil {
			return arg{}, err
		}
		v |= n
	}
	return arg{kind: argInt, val: v}, nil
}

func parseNumber(f string) (uint64, error) {
	if v, ok := constants[f]; ok {
		return v, nil
	}
	if strings.HasPrefix(f, "-") {
		n, err := strconv.ParseInt(f, 0, 64)
		if err != nil {
			return 0, fmt.Errorf("bad number %q", f)
		}
		return uint64(n), nil
	}
	n, err := strconv.ParseUint(f, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("unknown constant or bad number %q", f)
	}
	return n, nil
}
