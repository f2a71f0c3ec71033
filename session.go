package ftpd

import (
	"bufio"
	"crypto/rand"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/hollowcrate/ftpd/internal/proto"
	"github.com/hollowcrate/ftpd/internal/reply"
	"github.com/hollowcrate/ftpd/internal/userstore"
)

// maxCommandLength bounds a single control-connection line, guarding
// against clients that never send a CRLF.
const maxCommandLength = 8192

// session is one client's control connection and its associated state:
// login, current data-connection setup, and pending rename.
//
// Unlike a server built to support AUTH TLS mid-session, this server runs
// its whole command loop on a single goroutine per connection: there is
// no separate reader goroutine and no connection-swap handshake to guard
// against, since TLS is out of scope here (SPEC_FULL.md §10).
type session struct {
	server *Server
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
	mu     sync.Mutex // guards writer/conn during reply writes

	sessionID string
	remoteIP  string

	authenticated   bool
	pendingUsername string
	user            *userstore.User

	renameFrom string

	dataConn   net.Conn
	pasvList   net.Listener
	activeHost string
	activePort int

	quit bool
}

var commandHandlers = map[string]func(*session, string){
	"CWD":  (*session).handleCWD,
	"XCWD": (*session).handleCWD,
	"CDUP": func(s *session, _ string) { s.handleCWD("..") },
	"XCUP": func(s *session, _ string) { s.handleCWD("..") },
	"PWD":  func(s *session, _ string) { s.handlePWD() },
	"XPWD": func(s *session, _ string) { s.handlePWD() },

	"LIST": (*session).handleLIST,
	"NLST": (*session).handleNLST,
	"MKD":  (*session).handleMKD,
	"XMKD": (*session).handleMKD,
	"RMD":  (*session).handleRMD,
	"XRMD": (*session).handleRMD,
	"DELE": (*session).handleDELE,
	"RNFR": (*session).handleRNFR,
	"RNTO": (*session).handleRNTO,

	"RETR": (*session).handleRETR,
	"STOR": (*session).handleSTOR,
	"APPE": (*session).handleAPPE,

	"PORT": (*session).handlePORT,
	"PASV": func(s *session, _ string) { s.handlePASV() },

	"TYPE": (*session).handleTYPE,
	"MODE": (*session).handleMODE,
	"STRU": (*session).handleSTRU,

	"SYST": func(s *session, _ string) { s.handleSYST() },
	"FEAT": func(s *session, _ string) { s.handleFEAT() },
	"HELP": func(s *session, _ string) { s.handleHELP() },
}

func generateSessionID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return fmt.Sprintf("%08x", b)
}

func newSession(server *Server, conn net.Conn) *session {
	remoteAddr := conn.RemoteAddr().String()
	remoteIP, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		remoteIP = remoteAddr
	}

	return &session{
		server:    server,
		conn:      conn,
		reader:    bufio.NewReader(conn),
		writer:    bufio.NewWriter(conn),
		sessionID: generateSessionID(),
		remoteIP:  remoteIP,
	}
}

// serve runs the session to completion: greeting, then one command at a
// time until QUIT, an I/O error, or the connection is forcibly closed.
func (s *session) serve() {
	defer s.close()

	s.reply(reply.Newf(220, "%s", s.server.welcomeMessage))

	s.server.logger.Info("session_started", "session_id", s.sessionID, "remote_ip", s.remoteIP)

	for !s.quit {
		if s.server.readTimeout > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(s.server.readTimeout))
		} else if s.server.maxIdleTime > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(s.server.maxIdleTime))
		}

		line, err := s.readCommandLine()
		if err != nil {
			if err.Error() == "command too long" {
				s.reply(reply.New(500, "Command line too long."))
			}
			return
		}

		cmd, ok := proto.ParseLine(line)
		if !ok {
			continue
		}

		if s.server.writeTimeout > 0 {
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.server.writeTimeout))
		}
		s.handleCommand(cmd)
		if s.server.writeTimeout > 0 {
			_ = s.conn.SetWriteDeadline(time.Time{})
		}
	}
}

func (s *session) readCommandLine() (string, error) {
	var line []byte
	for {
		b, err := s.reader.ReadByte()
		if err != nil {
			return string(line), err
		}
		if len(line) >= maxCommandLength {
			return "", fmt.Errorf("command too long")
		}
		if b == '\n' {
			return string(line), nil
		}
		line = append(line, b)
	}
}

func (s *session) close() {
	if s.user != nil {
		s.user.Close()
	}
	if s.pasvList != nil {
		s.pasvList.Close()
	}
	if s.dataConn != nil {
		s.dataConn.Close()
	}
	s.conn.Close()

	s.server.logger.Debug("session_closed", "session_id", s.sessionID, "remote_ip", s.remoteIP)
}

// handleCommand dispatches one parsed command to its handler.
func (s *session) handleCommand(cmd proto.Command) {
	logArg := cmd.Arg
	if cmd.Verb == "PASS" {
		logArg = "***"
	}
	s.server.logger.Debug("command_received",
		"session_id", s.sessionID, "cmd", cmd.Verb, "arg", logArg)

	// RNFR only survives into the immediately following RNTO.
	if cmd.Verb != "RNTO" {
		s.renameFrom = ""
	}

	switch cmd.Verb {
	case "USER":
		s.handleUSER(cmd.Arg)
		return
	case "PASS":
		s.handlePASS(cmd.Arg)
		return
	case "QUIT":
		s.reply(reply.New(221, "Service closing control connection."))
		s.quit = true
		return
	case "NOOP":
		s.reply(reply.New(200, "OK."))
		return
	}

	if !s.authenticated {
		s.reply(reply.New(530, "Please login with USER and PASS."))
		return
	}

	handler, ok := commandHandlers[cmd.Verb]
	if !ok {
		s.reply(reply.New(500, "Unknown command."))
		return
	}
	handler(s, cmd.Arg)
}

// reply writes r to the control connection and runs its continuation, if
// any, exactly once it has drained.
func (s *session) reply(r reply.Reply) {
	s.mu.Lock()
	err := r.WriteTo(s.writer)
	s.mu.Unlock()
	if err != nil {
		s.server.logger.Warn("reply write failed", "session_id", s.sessionID, "error", err)
		return
	}
	if runErr := r.Run(); runErr != nil {
		s.server.logger.Warn("reply continuation failed", "session_id", s.sessionID, "error", runErr)
	}
}

// replyError maps a filesystem error onto the conventional FTP status
// code family, per spec.md §7.
func (s *session) replyError(err error) {
	switch {
	case os.IsNotExist(err):
		s.reply(reply.New(550, "File not found."))
	case os.IsPermission(err):
		s.reply(reply.New(550, "Permission denied."))
	case os.IsExist(err):
		s.reply(reply.New(550, "File already exists."))
	default:
		s.reply(reply.Newf(550, "Action failed: %s", err.Error()))
	}
}

func (s *session) connData() (net.Conn, error) {
	if s.pasvList != nil {
		return s.connPassive()
	}
	if s.activeHost != "" {
		return s.connActive()
	}
	return nil, fmt.Errorf("no data connection setup")
}

func (s *session) connPassive() (net.Conn, error) {
	if t, ok := s.pasvList.(*net.TCPListener); ok {
		_ = t.SetDeadline(time.Now().Add(10 * time.Second))
	}
	conn, err := s.pasvList.Accept()
	if err != nil {
		return nil, err
	}
	s.pasvList.Close()
	s.pasvList = nil
	return s.wrapDataConn(conn)
}

func (s *session) connActive() (net.Conn, error) {
	addr := net.JoinHostPort(s.activeHost, strconv.Itoa(s.activePort))
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return nil, err
	}
	s.activeHost = ""
	return s.wrapDataConn(conn)
}

func (s *session) wrapDataConn(conn net.Conn) (net.Conn, error) {
	if s.server.readTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(s.server.readTimeout))
	}
	if s.server.writeTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(s.server.writeTimeout))
	}
	s.server.trackConnection(conn, true)
	return &trackingConn{Conn: conn, server: s.server}, nil
}
