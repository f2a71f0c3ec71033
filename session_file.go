package ftpd

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/hollowcrate/ftpd/internal/reply"
	"github.com/hollowcrate/ftpd/internal/transfer"
)

func (s *session) handlePWD() {
	s.reply(reply.Newf(257, "%q is the current directory.", s.user.GetWd()))
}

func (s *session) handleCWD(path string) {
	if err := s.user.ChangeDir(path); err != nil {
		s.replyError(err)
		return
	}
	s.reply(reply.New(250, "Directory successfully changed."))
}

func (s *session) handleMKD(path string) {
	if err := s.user.MakeDir(path); err != nil {
		s.replyError(err)
		return
	}
	s.server.logger.Info("directory_created", "session_id", s.sessionID, "user", s.user.Username, "path", path)
	s.reply(reply.Newf(257, "'%s' directory created.", filepath.Base(path)))
}

func (s *session) handleRMD(path string) {
	if err := s.user.RemoveDir(path); err != nil {
		s.replyError(err)
		return
	}
	s.server.logger.Info("directory_removed", "session_id", s.sessionID, "user", s.user.Username, "path", path)
	s.reply(reply.New(250, "Directory removed."))
}

func (s *session) handleDELE(path string) {
	if err := s.user.DeleteFile(path); err != nil {
		s.replyError(err)
		return
	}
	s.server.logger.Info("file_deleted", "session_id", s.sessionID, "user", s.user.Username, "path", path)
	s.reply(reply.New(250, "File deleted."))
}

func (s *session) handleRNFR(path string) {
	if _, err := s.user.Stat(path); err != nil {
		s.reply(reply.New(550, "File not found."))
		return
	}
	s.renameFrom = path
	s.reply(reply.New(350, "Requested file action pending further information."))
}

func (s *session) handleRNTO(path string) {
	if s.renameFrom == "" {
		s.reply(reply.New(503, "Bad sequence of commands. Send RNFR first."))
		return
	}
	err := s.user.Rename(s.renameFrom, path)
	s.renameFrom = ""
	if err != nil {
		s.replyError(err)
		return
	}
	s.reply(reply.New(250, "Requested file action successful, file renamed."))
}

func (s *session) handleLIST(path string) {
	entries, err := s.user.ListDir(path)
	if err != nil {
		s.reply(reply.New(450, "No such directory."))
		return
	}

	conn, err := s.connData()
	if err != nil {
		s.reply(reply.New(425, "Can't open data connection."))
		return
	}

	listing := renderListing(entries)
	s.reply(reply.New(150, "Here comes the directory listing.").With(func() error {
		defer conn.Close()
		_, runErr := transfer.FixedBuffer{Data: listing}.Run(conn)
		if runErr != nil {
			s.reply(reply.New(451, "Requested action aborted: local error in processing."))
			return nil
		}
		s.reply(reply.New(226, "Directory send OK."))
		return nil
	}))
}

func (s *session) handleNLST(path string) {
	entries, err := s.user.ListDir(path)
	if err != nil {
		s.reply(reply.New(450, "No such directory."))
		return
	}

	conn, err := s.connData()
	if err != nil {
		s.reply(reply.New(425, "Can't open data connection."))
		return
	}

	var b strings.Builder
	for _, entry := range entries {
		b.WriteString(entry.Name())
		b.WriteString("\r\n")
	}
	listing := []byte(b.String())

	s.reply(reply.New(150, "Here comes the file list.").With(func() error {
		defer conn.Close()
		_, runErr := transfer.FixedBuffer{Data: listing}.Run(conn)
		if runErr != nil {
			s.reply(reply.New(451, "Requested action aborted: local error in processing."))
			return nil
		}
		s.reply(reply.New(226, "Transfer complete."))
		return nil
	}))
}

// renderListing formats directory entries as a Unix-style "ls -l" listing,
// one line per entry, matching the fields FTP clients parse for size,
// modification time, and name.
func renderListing(entries []fs.DirEntry) []byte {
	var b strings.Builder
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "%s 1 owner group %d %s %s\r\n",
			info.Mode().String(), info.Size(), info.ModTime().Format("Jan 02 15:04"), info.Name())
	}
	return []byte(b.String())
}
