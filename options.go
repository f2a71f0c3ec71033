package ftpd

import (
	"log/slog"
	"time"

	"github.com/hollowcrate/ftpd/internal/userstore"
)

// Option is a functional option for configuring a Server, per the
// teacher's own server-construction idiom.
type Option func(*Server) error

// WithUserStore sets the user database. Required.
func WithUserStore(store *userstore.Store) Option {
	return func(s *Server) error {
		s.users = store
		return nil
	}
}

// WithLogger sets a custom logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) error {
		s.logger = logger
		return nil
	}
}

// WithWelcomeMessage sets the banner text sent on connect.
func WithWelcomeMessage(msg string) Option {
	return func(s *Server) error {
		s.welcomeMessage = msg
		return nil
	}
}

// WithMaxIdleTime sets how long a session may sit with no command before
// being closed. Defaults to 5 minutes.
func WithMaxIdleTime(d time.Duration) Option {
	return func(s *Server) error {
		s.maxIdleTime = d
		return nil
	}
}

// WithTimeouts sets the read and write deadlines applied to both control
// and data connections. A zero value disables that deadline.
func WithTimeouts(read, write time.Duration) Option {
	return func(s *Server) error {
		s.readTimeout = read
		s.writeTimeout = write
		return nil
	}
}

// WithMaxConnections caps the number of simultaneous sessions, and doubles
// as the size of the transfer concurrency pool (internal/transferpool).
// A value of 0 means unlimited.
func WithMaxConnections(max int) Option {
	return func(s *Server) error {
		s.maxConnections = max
		return nil
	}
}

// WithPassivePortRange restricts PASV/listening ports to [min, max]. If
// unset, the OS assigns an ephemeral port per PASV command.
func WithPassivePortRange(min, max int) Option {
	return func(s *Server) error {
		s.pasvMinPort = min
		s.pasvMaxPort = max
		return nil
	}
}

// WithPublicHost overrides the IP address advertised in PASV replies,
// needed when the server sits behind NAT.
func WithPublicHost(host string) Option {
	return func(s *Server) error {
		s.publicHost = host
		return nil
	}
}

// WithBandwidthLimit caps aggregate RETR/STOR/APPE throughput across every
// session at bytesPerSecond, using a shared token-bucket limiter. LIST and
// NLST data is not throttled. A value of 0 (the default) leaves transfers
// unthrottled.
func WithBandwidthLimit(bytesPerSecond int64) Option {
	return func(s *Server) error {
		s.bandwidthLimit = bytesPerSecond
		return nil
	}
}

// WithMetricsCollector attaches an optional metrics sink.
func WithMetricsCollector(m MetricsCollector) Option {
	return func(s *Server) error {
		s.metrics = m
		return nil
	}
}
