package license

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// Credential is what this installation remembers between runs: its minted
// deviceId, the last issued entitlement token and the download key the user
// entered, if any. The token is the cached credential; it is signed by the
// server, so no extra local attestation is stored alongside it.
type Credential struct {
	DeviceID    string `json:"device_id"`
	Token       string `json:"token,omitempty"`
	DownloadKey string `json:"download_key,omitempty"`
}

// CredentialStore loads and saves the local credential.
type CredentialStore interface {
	Load() (*Credential, error)
	Save(*Credential) error
}

// FileCredentialStore keeps the credential as JSON on disk with owner-only
// permissions. The deviceId is minted on first load and never changes
// afterwards.
type FileCredentialStore struct {
	path string
	mu   sync.Mutex
}

// NewFileCredentialStore creates a store writing to the given path.
func NewFileCredentialStore(path string) *FileCredentialStore {
	return &FileCredentialStore{path: path}
}

// Load reads the credential, minting and persisting a fresh deviceId when no
// file exists yet.
func (s *FileCredentialStore) Load() (*Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		cred := &Credential{DeviceID: uuid.New().String()}
		if err := s.write(cred); err != nil {
			return nil, err
		}
		return cred, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credential file: %w", err)
	}

	var cred Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, fmt.Errorf("failed to parse credential file: %w", err)
	}

	// Repair a file that predates deviceId minting or was hand-edited.
	if cred.DeviceID == "" {
		cred.DeviceID = uuid.New().String()
		if err := s.write(&cred); err != nil {
			return nil, err
		}
	}

	return &cred, nil
}

// Save persists the credential atomically with 0600 permissions.
func (s *FileCredentialStore) Save(cred *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(cred)
}

func (s *FileCredentialStore) write(cred *Credential) error {
	data, err := json.MarshalIndent(cred, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credential: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("failed to create credential directory: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write credential file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace credential file: %w", err)
	}
	return nil
}
