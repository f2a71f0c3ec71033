package ftpd

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/hollowcrate/ftpd/internal/proto"
	"github.com/hollowcrate/ftpd/internal/ratelimit"
	"github.com/hollowcrate/ftpd/internal/reply"
	"github.com/hollowcrate/ftpd/internal/transfer"
)

// rateLimitedConn wraps a data connection so reads and writes are both
// throttled by the server's shared bandwidth limiter, if one is set.
type rateLimitedConn struct {
	net.Conn
	r io.Reader
	w io.Writer
}

func (c *rateLimitedConn) Read(p []byte) (int, error)  { return c.r.Read(p) }
func (c *rateLimitedConn) Write(p []byte) (int, error) { return c.w.Write(p) }

func applyBandwidthLimit(conn net.Conn, limiter *ratelimit.Limiter) io.ReadWriteCloser {
	if limiter == nil {
		return conn
	}
	return &rateLimitedConn{
		Conn: conn,
		r:    ratelimit.NewReader(conn, limiter),
		w:    ratelimit.NewWriter(conn, limiter),
	}
}

func (s *session) handleRETR(path string) {
	file, err := s.user.OpenFile(path, os.O_RDONLY)
	if err != nil {
		s.replyError(err)
		return
	}

	conn, err := s.connData()
	if err != nil {
		file.Close()
		s.reply(reply.New(425, "Can't open data connection."))
		return
	}

	s.runTransfer("RETR", path, transfer.Download{File: file}, conn, file)
}

func (s *session) handleSTOR(path string) {
	file, err := s.user.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		s.replyError(err)
		return
	}

	conn, err := s.connData()
	if err != nil {
		file.Close()
		s.reply(reply.New(425, "Can't open data connection."))
		return
	}

	s.runTransfer("STOR", path, transfer.Upload{File: file}, conn, file)
}

func (s *session) handleAPPE(path string) {
	file, err := s.user.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE)
	if err != nil {
		s.replyError(err)
		return
	}

	conn, err := s.connData()
	if err != nil {
		file.Close()
		s.reply(reply.New(425, "Can't open data connection."))
		return
	}

	s.runTransfer("APPE", path, transfer.Upload{File: file}, conn, file)
}

// runTransfer acquires a slot from the server's transfer pool, replies
// 150, runs mode over conn as the reply's continuation, and closes out
// with 226 on success or 451 on failure, per spec.md §7's mid-transfer
// error convention.
func (s *session) runTransfer(op, path string, mode transfer.Mode, conn net.Conn, file *os.File) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := s.server.transfers.Acquire(ctx); err != nil {
		cancel()
		conn.Close()
		file.Close()
		s.reply(reply.New(451, "Requested action aborted: too many concurrent transfers."))
		return
	}
	cancel()

	s.reply(reply.Newf(150, "Opening data connection for %s.", op).With(func() error {
		defer s.server.transfers.Release()
		defer conn.Close()
		defer file.Close()

		start := time.Now()
		bytesTransferred, err := mode.Run(applyBandwidthLimit(conn, s.server.globalLimiter))
		duration := time.Since(start)

		if err != nil {
			s.reply(reply.New(451, "Requested action aborted: local error in processing."))
			return nil
		}

		s.server.logger.Info("transfer_complete",
			"session_id", s.sessionID, "user", s.user.Username, "operation", op,
			"path", path, "bytes", bytesTransferred, "duration_ms", duration.Milliseconds())
		if s.server.metrics != nil {
			s.server.metrics.RecordTransfer(op, bytesTransferred, duration)
		}

		s.reply(reply.New(226, "Transfer complete."))
		return nil
	}))
}

func (s *session) handlePORT(arg string) {
	host, port, err := proto.ParsePORT(arg)
	if err != nil {
		s.reply(reply.New(501, "Syntax error in parameters or arguments."))
		return
	}

	if !s.validateActiveHost(host) {
		s.reply(reply.New(500, "Illegal PORT command."))
		return
	}

	s.activeHost = host
	s.activePort = port
	s.reply(reply.New(200, "PORT command successful."))
}

// validateActiveHost rejects a PORT target that does not match the
// control connection's own remote address, guarding against FTP bounce
// attacks.
func (s *session) validateActiveHost(host string) bool {
	remoteAddr := s.conn.RemoteAddr().String()
	remoteHost, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		remoteHost = remoteAddr
	}
	return host == remoteHost
}

func (s *session) listenPassive() (net.Listener, error) {
	if s.server.pasvMinPort > 0 && s.server.pasvMaxPort >= s.server.pasvMinPort {
		minPort, maxPort := s.server.pasvMinPort, s.server.pasvMaxPort
		rangeLen := int32(maxPort - minPort + 1)
		startOffset := atomic.AddInt32(&s.server.nextPassivePort, 1)

		for i := int32(0); i < rangeLen; i++ {
			offset := (startOffset + i) % rangeLen
			port := int(int32(minPort) + offset)
			ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
			if err == nil {
				return ln, nil
			}
		}
		return nil, fmt.Errorf("no available ports in range [%d, %d]", minPort, maxPort)
	}
	return net.Listen("tcp", ":0")
}

func (s *session) handlePASV() {
	if s.pasvList != nil {
		s.pasvList.Close()
	}

	ln, err := s.listenPassive()
	if err != nil {
		s.reply(reply.New(425, "Can't open passive connection."))
		return
	}
	s.pasvList = ln

	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)

	host := s.server.publicHost
	if host == "" {
		host, _, _ = net.SplitHostPort(s.conn.LocalAddr().String())
	}
	ip := net.ParseIP(host)
	if ip == nil || ip.To4() == nil {
		ip = net.IPv4(0, 0, 0, 0)
	}

	arg, err := proto.FormatPASV(ip, port)
	if err != nil {
		s.reply(reply.New(425, "Can't open passive connection."))
		return
	}
	s.reply(reply.Newf(227, "Entering Passive Mode %s.", arg))
}
