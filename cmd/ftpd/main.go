package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/hollowcrate/ftpd"
	"github.com/hollowcrate/ftpd/internal/userstore"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8080", "address to listen on")
	root := flag.String("root", "./root", "server root directory, containing one subdirectory per user")
	usersPath := flag.String("users", "./etc/users.json", "path to the user database")
	autoCreate := flag.Bool("auto-create-users", false, "auto-provision a user and home directory on first successful login")
	publicHost := flag.String("public-host", "", "IP address advertised in PASV replies (defaults to the connection's local address)")
	pasvMin := flag.Int("pasv-min-port", 0, "minimum passive port (0 disables the range, using ephemeral ports)")
	pasvMax := flag.Int("pasv-max-port", 0, "maximum passive port")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	logger := setupLogger(*debug)
	slog.SetDefault(logger)

	store, err := userstore.Load(*usersPath, *root, userstore.WithAutoCreate(*autoCreate))
	if err != nil {
		logger.Error("failed to load user store", "error", err)
		os.Exit(1)
	}

	opts := []ftpd.Option{
		ftpd.WithUserStore(store),
		ftpd.WithLogger(logger),
	}
	if *publicHost != "" {
		opts = append(opts, ftpd.WithPublicHost(*publicHost))
	}
	if *pasvMin > 0 && *pasvMax >= *pasvMin {
		opts = append(opts, ftpd.WithPassivePortRange(*pasvMin, *pasvMax))
	}

	server, err := ftpd.NewServer(*addr, opts...)
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-stop
		logger.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	}()

	logger.Info("starting ftp server", "addr", *addr, "root", *root)
	if err := server.ListenAndServe(); err != nil && err != ftpd.ErrServerClosed {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func setupLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	handler := tint.NewHandler(os.Stderr, &tint.Options{Level: level})
	return slog.New(handler).With("app", "ftpd")
}
