package token

import "sync"

// MemStore keeps the session in memory only. Used by tests and by the
// fakeserver's own clients.
type MemStore struct {
	mu         sync.Mutex
	access     string
	refresh    string
	deviceUUID string
	deviceID   int64
	pushToken  string
}

func NewMemStore() *MemStore {
	return &MemStore{}
}

func (m *MemStore) AccessToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.access
}

func (m *MemStore) RefreshToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refresh
}

func (m *MemStore) SetSession(access, refresh string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.access = access
	m.refresh = refresh
	return nil
}

func (m *MemStore) ClearSession() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.access = ""
	m.refresh = ""
	return nil
}

func (m *MemStore) DeviceUUID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deviceUUID
}

func (m *MemStore) SetDeviceUUID(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deviceUUID = id
	return nil
}

func (m *MemStore) DeviceID() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deviceID
}

func (m *MemStore) SetDeviceID(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deviceID = id
	return nil
}

func (m *MemStore) PushToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pushToken
}

func (m *MemStore) SetPushToken(tok string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pushToken = tok
	return nil
}
