package token

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

type fileData struct {
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	DeviceUUID   string `json:"device_uuid,omitempty"`
	DeviceID     int64  `json:"device_id,omitempty"`
	PushToken    string `json:"push_token,omitempty"`
}

// FileStore persists the session in a single JSON file with mode 0600.
// Every mutation rewrites the whole file through a rename so a crash never
// leaves a half-written token pair behind.
type FileStore struct {
	mu   sync.Mutex
	path string
	data fileData
}

func OpenFileStore(path string) (*FileStore, error) {
	fs := &FileStore{path: path}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fs, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(raw, &fs.data); err != nil {
		return nil, err
	}
	return fs, nil
}

func (fs *FileStore) save() error {
	raw, err := json.Marshal(&fs.data)
	if err != nil {
		return err
	}
	tmp := fs.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, fs.path)
}

func (fs *FileStore) AccessToken() string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.data.AccessToken
}

func (fs *FileStore) RefreshToken() string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.data.RefreshToken
}

func (fs *FileStore) SetSession(access, refresh string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.data.AccessToken = access
	fs.data.RefreshToken = refresh
	return fs.save()
}

func (fs *FileStore) ClearSession() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.data.AccessToken = ""
	fs.data.RefreshToken = ""
	return fs.save()
}

func (fs *FileStore) DeviceUUID() string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.data.DeviceUUID
}

func (fs *FileStore) SetDeviceUUID(id string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.data.DeviceUUID = id
	return fs.save()
}

func (fs *FileStore) DeviceID() int64 {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.data.DeviceID
}

func (fs *FileStore) SetDeviceID(id int64) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.data.DeviceID = id
	return fs.save()
}

func (fs *FileStore) PushToken() string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.data.PushToken
}

func (fs *FileStore) SetPushToken(tok string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.data.PushToken = tok
	return fs.save()
}

// Path returns the backing file location.
func (fs *FileStore) Path() string {
	return fs.path
}

// DefaultPath places the token file under the user config dir.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "guardian", "session.json")
}
