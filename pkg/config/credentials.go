package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/crypto/scrypt"
)

// Credential file layout: [salt][nonce][ciphertext+tag], AES-256-GCM with
// an scrypt-derived key.
const (
	credentialsFileName = "credentials.enc"
	saltSize            = 16
	nonceSize           = 12
	scryptN             = 32768 // 2^15
	scryptR             = 8
	scryptP             = 1
	keySize             = 32 // AES-256
)

// CredentialStore holds the connector's environment variables (API keys,
// connection strings) decrypted in memory for the session's duration. The
// encrypted file lives under <dir>/credentials.enc with 0600 permissions.
type CredentialStore struct {
	path   string
	mu     sync.RWMutex
	values map[string]string
}

// OpenCredentialStore creates a store rooted at the given directory. No
// file access happens until Unlock or Save.
func OpenCredentialStore(dir string) *CredentialStore {
	return &CredentialStore{
		path:   filepath.Join(dir, credentialsFileName),
		values: make(map[string]string),
	}
}

// Exists reports whether an encrypted credential file is present.
func (s *CredentialStore) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Set stores a credential in memory.
func (s *CredentialStore) Set(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[name] = value
}

// Get returns a credential, falling back to the process environment so
// users can override file contents without re-encrypting.
func (s *CredentialStore) Get(name string) (string, error) {
	s.mu.RLock()
	value, exists := s.values[name]
	s.mu.RUnlock()
	if exists && value != "" {
		return value, nil
	}
	if env := os.Getenv(name); env != "" {
		return env, nil
	}
	return "", fmt.Errorf("credential %s not found in store or environment", name)
}

// Names returns the stored credential names (not values) in sorted order.
func (s *CredentialStore) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.values))
	for name := range s.values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EnvSlice renders the stored credentials as KEY=VALUE pairs for the
// sandbox runner, in sorted key order for deterministic deploys.
func (s *CredentialStore) EnvSlice() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+s.values[k])
	}
	return env
}

// Save encrypts the in-memory credentials to disk with 0600 permissions.
func (s *CredentialStore) Save(password string) error {
	s.mu.RLock()
	plain := make(map[string]string, len(s.values))
	for k, v := range s.values {
		plain[k] = v
	}
	s.mu.RUnlock()

	passwordBytes := []byte(password)
	defer zero(passwordBytes)

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}

	key, err := scrypt.Key(passwordBytes, salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return fmt.Errorf("failed to derive encryption key: %w", err)
	}
	defer zero(key)

	plaintext, err := json.Marshal(plain)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	fileData := make([]byte, 0, saltSize+nonceSize+len(ciphertext))
	fileData = append(fileData, salt...)
	fileData = append(fileData, nonce...)
	fileData = append(fileData, ciphertext...)

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create credential directory: %w", err)
	}
	if err := os.WriteFile(s.path, fileData, 0600); err != nil {
		return fmt.Errorf("failed to write credential file: %w", err)
	}
	return nil
}

// Unlock decrypts the credential file into memory.
func (s *CredentialStore) Unlock(password string) error {
	info, err := os.Stat(s.path)
	if err != nil {
		return fmt.Errorf("failed to stat credential file: %w", err)
	}
	if info.Mode().Perm() != 0600 {
		// Tighten permissions rather than refusing to start.
		if chmodErr := os.Chmod(s.path, 0600); chmodErr != nil {
			return fmt.Errorf("failed to fix credential file permissions: %w", chmodErr)
		}
	}

	fileData, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("failed to read credential file: %w", err)
	}

	minSize := saltSize + nonceSize + 16 // 16 is the GCM tag size
	if len(fileData) < minSize {
		return fmt.Errorf("credential file is corrupted (too small)")
	}

	salt := fileData[:saltSize]
	nonce := fileData[saltSize : saltSize+nonceSize]
	ciphertext := fileData[saltSize+nonceSize:]

	passwordBytes := []byte(password)
	defer zero(passwordBytes)

	key, err := scrypt.Key(passwordBytes, salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return fmt.Errorf("failed to derive decryption key: %w", err)
	}
	defer zero(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("failed to create GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return fmt.Errorf("decryption failed (wrong password or corrupted file)")
	}

	var values map[string]string
	if err := json.Unmarshal(plaintext, &values); err != nil {
		return fmt.Errorf("failed to parse credentials: %w", err)
	}

	s.mu.Lock()
	s.values = values
	s.mu.Unlock()
	return nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
