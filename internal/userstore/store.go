// Package userstore implements the FTP user database: authentication,
// auto-provisioning of new users, and per-user virtual filesystem
// sandboxing (root jail, current working directory), per spec.md §4.C.
package userstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// ErrBadCredentials is returned by Authenticate when the username is
// unknown (and auto-create is disabled) or the password does not match.
var ErrBadCredentials = errors.New("userstore: invalid username or password")

// ErrOutsideRoot is returned by Rename when an endpoint, once its
// symlinks are resolved, would fall outside the user's jailed root
// directory.
var ErrOutsideRoot = errors.New("userstore: path escapes the user's root directory")

// record is the on-disk shape of a single entry in users.json, per
// spec.md §6: `[{ "username": ..., "password": ... }, ...]`.
type record struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// User is one authenticated FTP user: its jailed root directory and
// current virtual working directory. A User is safe for concurrent use
// by the single session that owns it (spec.md: "Non-goals: concurrent
// transfers per single control session" — so in practice only one
// goroutine ever touches a given User — but the mutex keeps CWD reads
// and writes from a future caller honest).
type User struct {
	Username     string
	passwordHash []byte

	root *os.Root // jailed handle on Root(), opened once at login

	mu  sync.Mutex
	cwd string // virtual, '/'-relative
}

// Store is the in-memory user database, loaded from a JSON file and
// optionally auto-provisioning unknown users on first successful login.
type Store struct {
	serverRoot string
	autoCreate bool

	mu    sync.Mutex
	users map[string]*storedUser
}

type storedUser struct {
	passwordHash []byte
}

// Option configures a Store at Load time.
type Option func(*Store)

// WithAutoCreate enables provisioning a fresh user (and its home
// directory under the server root) on first successful USER+PASS for an
// unrecognized username, per spec.md §4.C.
func WithAutoCreate(enable bool) Option {
	return func(s *Store) { s.autoCreate = enable }
}

// Load reads the newline-terminable JSON user database at path and
// builds a Store rooted at serverRoot. A missing or malformed database
// is a fatal startup error per spec.md §6/§7.8 — callers should treat a
// non-nil error here as unrecoverable.
func Load(path, serverRoot string, opts ...Option) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("userstore: load %s: %w", path, err)
	}

	var records []record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("userstore: parse %s: %w", path, err)
	}

	if err := os.MkdirAll(serverRoot, 0o750); err != nil {
		return nil, fmt.Errorf("userstore: create server root %s: %w", serverRoot, err)
	}

	store := &Store{
		serverRoot: serverRoot,
		users:      make(map[string]*storedUser, len(records)),
	}
	for _, opt := range opts {
		opt(store)
	}

	for _, rec := range records {
		if rec.Username == "" {
			continue
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(rec.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("userstore: hash password for %q: %w", rec.Username, err)
		}
		store.users[rec.Username] = &storedUser{passwordHash: hash}
		if err := os.MkdirAll(filepath.Join(serverRoot, rec.Username), 0o750); err != nil {
			return nil, fmt.Errorf("userstore: create home for %q: %w", rec.Username, err)
		}
	}

	return store, nil
}

// Authenticate verifies username/password and returns an open User handle
// jailed to that user's subtree. On first successful login for an
// unrecognized username, it is auto-provisioned when the Store was
// loaded WithAutoCreate(true).
func (s *Store) Authenticate(username, password string) (*User, error) {
	s.mu.Lock()
	su, known := s.users[username]
	autoCreate := s.autoCreate
	s.mu.Unlock()

	switch {
	case known:
		if bcrypt.CompareHashAndPassword(su.passwordHash, []byte(password)) != nil {
			return nil, ErrBadCredentials
		}
	case autoCreate:
		var err error
		su, err = s.provision(username, password)
		if err != nil {
			return nil, err
		}
	default:
		return nil, ErrBadCredentials
	}

	home := filepath.Join(s.serverRoot, username)
	root, err := os.OpenRoot(home)
	if err != nil {
		return nil, fmt.Errorf("userstore: open root for %q: %w", username, err)
	}

	return &User{Username: username, passwordHash: su.passwordHash, root: root, cwd: "/"}, nil
}

func (s *Store) provision(username, password string) (*storedUser, error) {
	home := filepath.Join(s.serverRoot, username)
	if err := os.MkdirAll(home, 0o750); err != nil {
		return nil, fmt.Errorf("userstore: provision %q: %w", username, err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("userstore: hash password for %q: %w", username, err)
	}
	su := &storedUser{passwordHash: hash}

	s.mu.Lock()
	s.users[username] = su
	s.mu.Unlock()

	return su, nil
}

// Close releases the jailed root handle.
func (u *User) Close() error {
	return u.root.Close()
}

// GetWd returns the current virtual working directory, e.g. "/a/b".
func (u *User) GetWd() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.cwd
}

// resolve normalizes argPath (root-relative if it starts with "/",
// otherwise relative to the current working directory) against the
// user's root, per spec.md §4.C. It returns the resulting virtual path
// and the path relative to the os.Root handle (suitable for its Open/
// Stat/Mkdir/Remove methods). '..' segments that would climb above the
// root collapse at "/", exactly like a real filesystem chroot.
func (u *User) resolve(argPath string) (virtual, rel string) {
	u.mu.Lock()
	cwd := u.cwd
	u.mu.Unlock()

	if !strings.HasPrefix(argPath, "/") {
		argPath = cwd + "/" + argPath
	}
	virtual = cleanVirtual(argPath)

	rel = strings.TrimPrefix(virtual, "/")
	if rel == "" {
		rel = "."
	}
	return virtual, rel
}

// cleanVirtual normalizes '.' and '..' segments of a '/'-rooted virtual
// path without ever climbing above "/", regardless of how many '..'
// segments precede it — this is the chroot behavior spec.md §3 requires.
func cleanVirtual(p string) string {
	segments := strings.Split(p, "/")
	var stack []string
	for _, seg := range segments {
		switch seg {
		case "", ".":
			// skip
		case "..":
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		default:
			stack = append(stack, seg)
		}
	}
	return "/" + strings.Join(stack, "/")
}

// Resolve returns the physical filesystem path for argPath, after
// confirming it falls within the user's jailed root. It does not
// require the path to exist; callers that need an existing target
// should Stat or Open it themselves and translate the resulting error.
func (u *User) Resolve(argPath string) (string, error) {
	_, rel := u.resolve(argPath)
	// os.Root already prevents any Open/Stat/Mkdir/Remove call on rel
	// from escaping the jail (even via symlinks), but cleanVirtual above
	// also guarantees rel never contains a leading "..", so report the
	// absolute on-disk path for operations (like os.Rename) that must
	// bypass os.Root's limited method set.
	return filepath.Join(u.root.Name(), filepath.FromSlash(rel)), nil
}

// ChangeDir updates the current working directory to argPath, after
// verifying it exists and is a directory.
func (u *User) ChangeDir(argPath string) error {
	virtual, rel := u.resolve(argPath)
	info, err := u.root.Stat(rel)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: not a directory", os.ErrInvalid)
	}
	u.mu.Lock()
	u.cwd = virtual
	u.mu.Unlock()
	return nil
}

// MakeDir creates a new directory.
func (u *User) MakeDir(argPath string) error {
	_, rel := u.resolve(argPath)
	return u.root.Mkdir(rel, 0o750)
}

// RemoveDir recursively removes a directory and its contents, per
// spec.md §4.B ("RMD: recursive directory delete").
func (u *User) RemoveDir(argPath string) error {
	_, rel := u.resolve(argPath)
	full := filepath.Join(u.root.Name(), filepath.FromSlash(rel))
	if _, err := u.root.Stat(rel); err != nil {
		return err
	}
	return os.RemoveAll(full)
}

// DeleteFile removes a single file.
func (u *User) DeleteFile(argPath string) error {
	_, rel := u.resolve(argPath)
	return u.root.Remove(rel)
}

// Rename atomically moves fromPath to toPath, per spec.md §8's rename
// atomicity property. os.Root has no Rename method, so this resolves
// both endpoints to absolute paths (already jail-checked against '..'
// traversal by resolve) and calls os.Rename directly. Unlike the other
// methods here, this bypasses os.Root's own symlink-escape protection,
// so it re-checks both endpoints with EvalSymlinks before renaming,
// exactly as the source driver does.
func (u *User) Rename(fromPath, toPath string) error {
	_, fromRel := u.resolve(fromPath)
	_, toRel := u.resolve(toPath)
	fromFull := filepath.Join(u.root.Name(), filepath.FromSlash(fromRel))
	toFull := filepath.Join(u.root.Name(), filepath.FromSlash(toRel))

	if err := u.verifyWithinRoot(fromFull); err != nil {
		return err
	}
	if err := u.verifyWithinRoot(filepath.Dir(toFull)); err != nil {
		return err
	}

	return os.Rename(fromFull, toFull)
}

// verifyWithinRoot resolves symlinks in p (or, if p does not yet exist,
// in its nearest existing ancestor) and rejects it if the result escapes
// the user's root directory.
func (u *User) verifyWithinRoot(p string) error {
	real, err := filepath.EvalSymlinks(p)
	for os.IsNotExist(err) && filepath.Dir(p) != p {
		p = filepath.Dir(p)
		real, err = filepath.EvalSymlinks(p)
	}
	if err != nil {
		return err
	}
	rootReal, err := filepath.EvalSymlinks(u.root.Name())
	if err != nil {
		return err
	}
	if real != rootReal && !strings.HasPrefix(real, rootReal+string(filepath.Separator)) {
		return ErrOutsideRoot
	}
	return nil
}

// OpenFile opens argPath using os.O_* flags, jailed to the user's root.
func (u *User) OpenFile(argPath string, flag int) (*os.File, error) {
	_, rel := u.resolve(argPath)
	return u.root.OpenFile(rel, flag, 0o640)
}

// Stat returns file metadata for argPath.
func (u *User) Stat(argPath string) (fs.FileInfo, error) {
	_, rel := u.resolve(argPath)
	return u.root.Stat(rel)
}

// ListDir returns the directory entries of argPath, in the order the
// underlying directory handle yields them.
func (u *User) ListDir(argPath string) ([]fs.DirEntry, error) {
	_, rel := u.resolve(argPath)
	f, err := u.root.Open(rel)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return f.ReadDir(-1)
}
