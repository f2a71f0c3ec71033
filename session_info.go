package ftpd

import "github.com/hollowcrate/ftpd/internal/reply"

// handleTYPE, handleMODE, and handleSTRU are recognized verbs that this
// server declares out of scope: ASCII/EBCDIC translation, alternate
// transfer modes, and file structure all reply 502 rather than 500,
// distinguishing "known but unimplemented" from "unknown command".
func (s *session) handleTYPE(_ string) {
	s.reply(reply.New(502, "Command not implemented."))
}

func (s *session) handleMODE(_ string) {
	s.reply(reply.New(502, "Command not implemented."))
}

func (s *session) handleSTRU(_ string) {
	s.reply(reply.New(502, "Command not implemented."))
}

func (s *session) handleSYST() {
	s.reply(reply.New(215, s.server.serverName))
}

func (s *session) handleFEAT() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writer.WriteString("211-Features:\r\n")
	s.writer.WriteString(" PASV\r\n")
	s.writer.WriteString("211 End\r\n")
	s.writer.Flush()
}

func (s *session) handleHELP() {
	s.reply(reply.New(214, "Help: see RFC 959."))
}
