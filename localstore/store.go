package localstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/dnamessenger/core/crypto"
	"github.com/dnamessenger/core/group"
	"github.com/dnamessenger/core/identity"
	"github.com/sirupsen/logrus"
)

const (
	identityFile = "identity.keys"
	contactsFile = "contacts.json"
	groupsFile   = "groups.json"
)

// Store is this device's on-disk state: identity key material, cached
// contacts, and known group metadata, rooted at one data directory.
type Store struct {
	mu          sync.Mutex
	dataDir     string
	keys        *crypto.EncryptedKeyStore
	encryptRest bool
}

// Option configures a Store at Open time.
type Option func(*Store)

// WithEncryptionAtRest routes the contacts and groups files through the
// same AES-256-GCM-at-rest store used for identity key material. Off by
// default: that metadata is lower sensitivity than private key material,
// and matches the teacher's own key store defaults.
func WithEncryptionAtRest() Option {
	return func(s *Store) { s.encryptRest = true }
}

// Open creates or loads a store rooted at dataDir, deriving its
// encryption key from masterPassword via the same PBKDF2-backed key
// store identity keys are persisted with.
func Open(dataDir string, masterPassword []byte, opts ...Option) (*Store, error) {
	keys, err := crypto.NewEncryptedKeyStore(dataDir, masterPassword)
	if err != nil {
		return nil, fmt.Errorf("localstore: open key store: %w", err)
	}

	s := &Store{dataDir: dataDir, keys: keys}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close wipes the store's derived encryption key from memory. The store
// must not be used afterward.
func (s *Store) Close() error {
	return s.keys.Close()
}

// KeyStore returns the underlying encrypted key store, so other
// subsystems needing their own encrypted-at-rest files (e.g.
// group.GSKManager's GSK table) share the same derived key and salt
// rather than deriving a second one.
func (s *Store) KeyStore() *crypto.EncryptedKeyStore {
	return s.keys
}

type identityRecord struct {
	SignPublic  []byte `json:"sign_public"`
	SignPrivate []byte `json:"sign_private"`
	KEMPublic   []byte `json:"kem_public"`
	KEMPrivate  []byte `json:"kem_private"`
}

// SaveIdentity persists id's key material, always encrypted at rest
// regardless of WithEncryptionAtRest (private keys are never written in
// the clear).
func (s *Store) SaveIdentity(id *identity.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	signPub, err := id.SignKeys.MarshalPublic()
	if err != nil {
		return fmt.Errorf("localstore: marshal sign public key: %w", err)
	}
	signPriv, err := id.SignKeys.MarshalPrivate()
	if err != nil {
		return fmt.Errorf("localstore: marshal sign private key: %w", err)
	}
	kemPub, err := id.KEMKeys.MarshalPublic()
	if err != nil {
		return fmt.Errorf("localstore: marshal kem public key: %w", err)
	}
	kemPriv, err := id.KEMKeys.MarshalPrivate()
	if err != nil {
		return fmt.Errorf("localstore: marshal kem private key: %w", err)
	}

	payload, err := json.Marshal(identityRecord{
		SignPublic:  signPub,
		SignPrivate: signPriv,
		KEMPublic:   kemPub,
		KEMPrivate:  kemPriv,
	})
	if err != nil {
		return fmt.Errorf("localstore: marshal identity record: %w", err)
	}

	if err := s.keys.WriteEncrypted(identityFile, payload); err != nil {
		return fmt.Errorf("localstore: write identity: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"function":    "SaveIdentity",
		"package":     "localstore",
		"fingerprint": id.Fingerprint,
	}).Debug("persisted identity key material")
	return nil
}

// LoadIdentity reconstructs a previously saved identity. Returns
// fs.ErrNotExist if none has been saved yet.
func (s *Store) LoadIdentity() (*identity.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := s.keys.ReadEncrypted(identityFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fs.ErrNotExist
		}
		return nil, fmt.Errorf("localstore: read identity: %w", err)
	}

	var record identityRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, fmt.Errorf("localstore: parse identity record: %w", err)
	}

	signKeys, err := crypto.UnmarshalSignKeyPair(record.SignPublic, record.SignPrivate)
	if err != nil {
		return nil, fmt.Errorf("localstore: unmarshal sign key pair: %w", err)
	}
	kemKeys, err := crypto.UnmarshalKEMKeyPair(record.KEMPublic, record.KEMPrivate)
	if err != nil {
		return nil, fmt.Errorf("localstore: unmarshal kem key pair: %w", err)
	}
	return identity.FromKeys(signKeys, kemKeys)
}

// SaveContacts persists the full contact list, replacing any prior file.
func (s *Store) SaveContacts(contacts []*identity.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeJSON(contactsFile, contacts)
}

// LoadContacts returns the persisted contact list, or nil if none has
// been saved yet.
func (s *Store) LoadContacts() ([]*identity.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var contacts []*identity.Contact
	if err := s.readJSON(contactsFile, &contacts); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("localstore: load contacts: %w", err)
	}
	return contacts, nil
}

// SaveGroups persists a snapshot of every known group, replacing any
// prior file.
func (s *Store) SaveGroups(groups []*group.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]group.Metadata, len(groups))
	for i, g := range groups {
		records[i] = g.ToMetadata()
	}
	return s.writeJSON(groupsFile, records)
}

// LoadGroups reconstructs every persisted group, or nil if none has been
// saved yet.
func (s *Store) LoadGroups() ([]*group.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var records []group.Metadata
	if err := s.readJSON(groupsFile, &records); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("localstore: load groups: %w", err)
	}

	groups := make([]*group.Group, 0, len(records))
	for _, rec := range records {
		g, err := group.FromMetadata(rec)
		if err != nil {
			return nil, fmt.Errorf("localstore: restore group %s: %w", rec.UUID, err)
		}
		groups = append(groups, g)
	}
	return groups, nil
}

func (s *Store) writeJSON(filename string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("localstore: marshal %s: %w", filename, err)
	}
	if s.encryptRest {
		return s.keys.WriteEncrypted(filename, payload)
	}
	return atomicWritePlain(s.dataDir, filename, payload)
}

func (s *Store) readJSON(filename string, v interface{}) error {
	var payload []byte
	var err error
	if s.encryptRest {
		payload, err = s.keys.ReadEncrypted(filename)
	} else {
		payload, err = os.ReadFile(filepath.Join(s.dataDir, filename))
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(payload, v)
}

// atomicWritePlain mirrors crypto.EncryptedKeyStore.WriteEncrypted's
// temp-file-then-rename pattern without the encryption step.
func atomicWritePlain(dataDir, filename string, data []byte) error {
	tmp := filepath.Join(dataDir, filename+".tmp")
	final := filepath.Join(dataDir, filename)

	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("localstore: write temp file: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("localstore: rename temp file: %w", err)
	}
	return nil
}
