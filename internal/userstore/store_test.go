package userstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func writeUsersJSON(t *testing.T, dir string, records []record) string {
	t.Helper()
	data, err := json.Marshal(records)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	path := filepath.Join(dir, "users.json")
	if err := os.WriteFile(path, data, 0o640); err != nil {
		t.Fatalf("write users.json: %v", err)
	}
	return path
}

func TestLoadMissingFileIsFatal(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(filepath.Join(dir, "nope.json"), filepath.Join(dir, "root")); err == nil {
		t.Fatal("expected error for missing users.json")
	}
}

func TestAuthenticateSuccessAndFailure(t *testing.T) {
	dir := t.TempDir()
	usersPath := writeUsersJSON(t, dir, []record{{Username: "user_a", Password: "123456"}})
	root := filepath.Join(dir, "root")

	store, err := Load(usersPath, root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	user, err := store.Authenticate("user_a", "123456")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	defer user.Close()

	if user.GetWd() != "/" {
		t.Errorf("GetWd = %q, want /", user.GetWd())
	}

	if _, err := store.Authenticate("user_a", "wrong"); err != ErrBadCredentials {
		t.Errorf("Authenticate with wrong password = %v, want ErrBadCredentials", err)
	}

	if _, err := store.Authenticate("nobody", "anything"); err != ErrBadCredentials {
		t.Errorf("Authenticate unknown user = %v, want ErrBadCredentials", err)
	}
}

func TestAutoCreate(t *testing.T) {
	dir := t.TempDir()
	usersPath := writeUsersJSON(t, dir, nil)
	root := filepath.Join(dir, "root")

	store, err := Load(usersPath, root, WithAutoCreate(true))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	user, err := store.Authenticate("newbie", "hunter2")
	if err != nil {
		t.Fatalf("Authenticate (auto-create): %v", err)
	}
	defer user.Close()

	if _, err := os.Stat(filepath.Join(root, "newbie")); err != nil {
		t.Errorf("home directory not created: %v", err)
	}

	if _, err := store.Authenticate("newbie", "wrong"); err != ErrBadCredentials {
		t.Errorf("Authenticate with wrong password after auto-create = %v, want ErrBadCredentials", err)
	}
}

func TestResolveJailsPath(t *testing.T) {
	dir := t.TempDir()
	usersPath := writeUsersJSON(t, dir, []record{{Username: "user_a", Password: "pw"}})
	root := filepath.Join(dir, "root")

	store, err := Load(usersPath, root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	user, err := store.Authenticate("user_a", "pw")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	defer user.Close()

	physical, err := user.Resolve("../../../etc/passwd")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	userRoot := filepath.Join(root, "user_a")
	if !filepathHasPrefix(physical, userRoot) {
		t.Errorf("Resolve escaped jail: %s not under %s", physical, userRoot)
	}
}

func TestMakeDirAndRemoveDirRoundTrip(t *testing.T) {
	dir := t.TempDir()
	usersPath := writeUsersJSON(t, dir, []record{{Username: "user_a", Password: "pw"}})
	root := filepath.Join(dir, "root")

	store, err := Load(usersPath, root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	user, err := store.Authenticate("user_a", "pw")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	defer user.Close()

	if err := user.MakeDir("/a"); err != nil {
		t.Fatalf("MakeDir: %v", err)
	}
	if _, err := user.Stat("/a"); err != nil {
		t.Fatalf("Stat after MakeDir: %v", err)
	}
	if err := user.RemoveDir("/a"); err != nil {
		t.Fatalf("RemoveDir: %v", err)
	}
	if _, err := user.Stat("/a"); err == nil {
		t.Fatal("expected /a to be gone after RemoveDir")
	}
}

func TestRenameAtomic(t *testing.T) {
	dir := t.TempDir()
	usersPath := writeUsersJSON(t, dir, []record{{Username: "user_a", Password: "pw"}})
	root := filepath.Join(dir, "root")

	store, err := Load(usersPath, root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	user, err := store.Authenticate("user_a", "pw")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	defer user.Close()

	if err := user.MakeDir("/a"); err != nil {
		t.Fatalf("MakeDir: %v", err)
	}
	if err := user.Rename("/a", "/b"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if _, err := user.Stat("/a"); err == nil {
		t.Error("/a should no longer exist")
	}
	if _, err := user.Stat("/b"); err != nil {
		t.Errorf("/b should exist: %v", err)
	}
}

func filepathHasPrefix(path, prefix string) bool {
	rel, err := filepath.Rel(prefix, path)
	if err != nil {
		return false
	}
	return rel != ".." && !hasDotDotPrefix(rel)
}

func hasDotDotPrefix(rel string) bool {
	return len(rel) >= 2 && rel[:2] == ".."
}
