// Package reply implements the FTP reply codec: formatting a numeric
// status code and text onto the wire, plus the continuation that must run
// exactly once after the reply has fully drained.
package reply

import (
	"bufio"
	"fmt"
)

// ContinueFunc runs once a Reply has been written and flushed to the
// control connection, before the session is armed for its next command.
// A nil ContinueFunc means no follow-up action is required.
type ContinueFunc func() error

// Reply is one FTP status line together with the action, if any, that
// must run once it has drained.
type Reply struct {
	Code int
	Text string
	Cont ContinueFunc
}

// New builds a Reply with no continuation.
func New(code int, text string) Reply {
	return Reply{Code: code, Text: text}
}

// Newf builds a Reply with a formatted text.
func Newf(code int, format string, args ...any) Reply {
	return Reply{Code: code, Text: fmt.Sprintf(format, args...)}
}

// With attaches a continuation to r, returning the modified copy.
func (r Reply) With(cont ContinueFunc) Reply {
	r.Cont = cont
	return r
}

// WriteTo renders r as "<code> <text>\r\n" and flushes w. Multi-line
// replies are not used by this server.
func (r Reply) WriteTo(w *bufio.Writer) error {
	if _, err := fmt.Fprintf(w, "%d %s\r\n", r.Code, r.Text); err != nil {
		return err
	}
	return w.Flush()
}

// Run invokes the continuation exactly once, if one is set.
func (r Reply) Run() error {
	if r.Cont == nil {
		return nil
	}
	return r.Cont()
}
