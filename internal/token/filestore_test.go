package token

import (
	"os"
	"path/filepath"
	"testing"
)

func tempStore(t *testing.T) (*FileStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.json")
	fs, err := OpenFileStore(path)
	if err != nil {
		t.Fatal(err)
	}
	return fs, path
}

func TestSessionRoundtrip(t *testing.T) {
	fs, path := tempStore(t)
	if err := fs.SetSession("acc", "ref"); err != nil {
		t.Fatal(err)
	}
	if fs.AccessToken() != "acc" || fs.RefreshToken() != "ref" {
		t.Error("session not readable after set")
	}

	reopened, err := OpenFileStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if reopened.AccessToken() != "acc" || reopened.RefreshToken() != "ref" {
		t.Error("session lost across reopen")
	}
}

func TestClearKeepsDeviceIdentity(t *testing.T) {
	fs, path := tempStore(t)
	if err := fs.SetSession("acc", "ref"); err != nil {
		t.Fatal(err)
	}
	if err := fs.SetDeviceUUID("uuid-1"); err != nil {
		t.Fatal(err)
	}
	if err := fs.SetDeviceID(42); err != nil {
		t.Fatal(err)
	}
	if err := fs.SetPushToken("fcm-1"); err != nil {
		t.Fatal(err)
	}
	if err := fs.ClearSession(); err != nil {
		t.Fatal(err)
	}

	reopened, err := OpenFileStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if reopened.AccessToken() != "" || reopened.RefreshToken() != "" {
		t.Error("tokens survived clear")
	}
	if reopened.DeviceUUID() != "uuid-1" || reopened.DeviceID() != 42 || reopened.PushToken() != "fcm-1" {
		t.Error("device identity lost by clear")
	}
}

func TestFileMode(t *testing.T) {
	fs, path := tempStore(t)
	if err := fs.SetSession("acc", "ref"); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("token file mode %o, want 600", info.Mode().Perm())
	}
}

func TestOpenMissingFile(t *testing.T) {
	fs, err := OpenFileStore(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatal(err)
	}
	if fs.AccessToken() != "" {
		t.Error("fresh store not empty")
	}
}
