package ftpd

import (
	"github.com/hollowcrate/ftpd/internal/reply"
)

func (s *session) handleUSER(username string) {
	s.pendingUsername = username
	s.authenticated = false
	s.reply(reply.New(331, "User name okay, need password."))
}

func (s *session) handlePASS(password string) {
	user, err := s.server.users.Authenticate(s.pendingUsername, password)
	if err != nil {
		s.server.logger.Warn("authentication_failed",
			"session_id", s.sessionID, "remote_ip", s.remoteIP, "user", s.pendingUsername)
		if s.server.metrics != nil {
			s.server.metrics.RecordAuthentication(false, s.pendingUsername)
		}
		s.reply(reply.New(530, "Login incorrect."))
		return
	}

	s.user = user
	s.authenticated = true

	s.server.logger.Info("authentication_success",
		"session_id", s.sessionID, "remote_ip", s.remoteIP, "user", user.Username)
	if s.server.metrics != nil {
		s.server.metrics.RecordAuthentication(true, user.Username)
	}
	s.reply(reply.New(230, "User logged in, proceed."))
}
