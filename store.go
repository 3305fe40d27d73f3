package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Tenant is one customer of the platform.
type Tenant struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	Email     string    `json:"email"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// DID is a public phone number routed to a tenant.
type DID struct {
	Number      string `json:"number"`
	TenantID    int64  `json:"tenant_id"`
	CountryCode string `json:"country_code,omitempty"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status"`
}

// Extension is an internal dialing target owned by a tenant.
type Extension struct {
	TenantID    int64  `json:"tenant_id"`
	Extension   string `json:"extension"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Destination string `json:"destination,omitempty"`
	Status      string `json:"status"`
}

// Flow is a stored IVR flow definition. The event engine only checks
// existence; interpretation is left to an external flow handler.
type Flow struct {
	ID          int64           `json:"id"`
	TenantID    int64           `json:"tenant_id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Definition  json.RawMessage `json:"flow_json"`
	IsDefault   bool            `json:"is_default"`
	Status      string          `json:"status"`
}

// RecordStore persists tenants, DIDs, extensions and flow definitions in an
// embedded badger database. The event engine only reads it; writes come from
// the HTTP API.
type RecordStore struct {
	db        *badger.DB
	tenantSeq *badger.Sequence
	flowSeq   *badger.Sequence
}

// OpenRecordStore opens (or creates) the store at dir. With inMemory set the
// store lives entirely in memory, which the tests use.
func OpenRecordStore(dir string, inMemory bool) (*RecordStore, error) {
	var opts badger.Options
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(dir)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open record store: %w", err)
	}
	tenantSeq, err := db.GetSequence([]byte("seq:tenant"), 16)
	if err != nil {
		db.Close()
		return nil, err
	}
	flowSeq, err := db.GetSequence([]byte("seq:flow"), 16)
	if err != nil {
		tenantSeq.Release()
		db.Close()
		return nil, err
	}
	return &RecordStore{db: db, tenantSeq: tenantSeq, flowSeq: flowSeq}, nil
}

// Close releases sequences and closes the database.
func (s *RecordStore) Close() error {
	if s.tenantSeq != nil {
		_ = s.tenantSeq.Release()
	}
	if s.flowSeq != nil {
		_ = s.flowSeq.Release()
	}
	return s.db.Close()
}

func tenantKey(id int64) []byte    { return []byte("tenant:" + strconv.FormatInt(id, 10)) }
func didKey(number string) []byte  { return []byte("did:" + number) }
func flowKey(id int64) []byte      { return []byte("flow:" + strconv.FormatInt(id, 10)) }
func extensionKey(tenantID int64, ext string) []byte {
	return []byte("ext:" + strconv.FormatInt(tenantID, 10) + ":" + ext)
}

func (s *RecordStore) put(key []byte, v any) error {
	buf, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, buf)
	})
}

func (s *RecordStore) get(key []byte, v any) error {
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	return err
}

func (s *RecordStore) delete(key []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

func (s *RecordStore) list(prefix []byte, fn func(val []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := it.Item().Value(fn); err != nil {
				return err
			}
		}
		return nil
	})
}

// PutTenant stores the tenant, assigning an id and defaults on first write.
func (s *RecordStore) PutTenant(t *Tenant) error {
	if t.ID == 0 {
		n, err := s.tenantSeq.Next()
		if err != nil {
			return err
		}
		t.ID = int64(n) + 1
	}
	if t.Status == "" {
		t.Status = "active"
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	return s.put(tenantKey(t.ID), t)
}

// GetTenant returns the tenant record or ErrNotFound.
func (s *RecordStore) GetTenant(id int64) (Tenant, error) {
	var t Tenant
	err := s.get(tenantKey(id), &t)
	return t, err
}

// DeleteTenant removes the tenant record.
func (s *RecordStore) DeleteTenant(id int64) error {
	return s.delete(tenantKey(id))
}

// ListTenants returns all tenant records.
func (s *RecordStore) ListTenants() ([]Tenant, error) {
	out := []Tenant{}
	err := s.list([]byte("tenant:"), func(val []byte) error {
		var t Tenant
		if err := json.Unmarshal(val, &t); err != nil {
			return err
		}
		out = append(out, t)
		return nil
	})
	return out, err
}

// PutDID stores the DID keyed by its number; the number is unique platform-wide.
func (s *RecordStore) PutDID(d *DID) error {
	if d.Number == "" {
		return fmt.Errorf("did number must be set")
	}
	if d.Status == "" {
		d.Status = "active"
	}
	return s.put(didKey(d.Number), d)
}

// GetDID returns the DID record for a number or ErrNotFound.
func (s *RecordStore) GetDID(number string) (DID, error) {
	var d DID
	err := s.get(didKey(number), &d)
	return d, err
}

// DeleteDID removes the DID record.
func (s *RecordStore) DeleteDID(number string) error {
	return s.delete(didKey(number))
}

// ListDIDs returns the DIDs owned by the tenant, or all DIDs for tenant 0.
func (s *RecordStore) ListDIDs(tenantID int64) ([]DID, error) {
	out := []DID{}
	err := s.list([]byte("did:"), func(val []byte) error {
		var d DID
		if err := json.Unmarshal(val, &d); err != nil {
			return err
		}
		if tenantID == 0 || d.TenantID == tenantID {
			out = append(out, d)
		}
		return nil
	})
	return out, err
}

// PutExtension stores the extension keyed by tenant and number.
func (s *RecordStore) PutExtension(e *Extension) error {
	if e.Extension == "" {
		return fmt.Errorf("extension number must be set")
	}
	if e.Type == "" {
		e.Type = "user"
	}
	if e.Status == "" {
		e.Status = "active"
	}
	return s.put(extensionKey(e.TenantID, e.Extension), e)
}

// GetExtension returns one extension record or ErrNotFound.
func (s *RecordStore) GetExtension(tenantID int64, ext string) (Extension, error) {
	var e Extension
	err := s.get(extensionKey(tenantID, ext), &e)
	return e, err
}

// DeleteExtension removes the extension record.
func (s *RecordStore) DeleteExtension(tenantID int64, ext string) error {
	return s.delete(extensionKey(tenantID, ext))
}

// ListExtensions returns the extensions owned by the tenant.
func (s *RecordStore) ListExtensions(tenantID int64) ([]Extension, error) {
	out := []Extension{}
	prefix := []byte("ext:" + strconv.FormatInt(tenantID, 10) + ":")
	err := s.list(prefix, func(val []byte) error {
		var e Extension
		if err := json.Unmarshal(val, &e); err != nil {
			return err
		}
		out = append(out, e)
		return nil
	})
	return out, err
}

// PutFlow stores the flow definition, assigning an id on first write.
func (s *RecordStore) PutFlow(f *Flow) error {
	if f.ID == 0 {
		n, err := s.flowSeq.Next()
		if err != nil {
			return err
		}
		f.ID = int64(n) + 1
	}
	if f.Status == "" {
		f.Status = "active"
	}
	return s.put(flowKey(f.ID), f)
}

// GetFlow returns the flow record or ErrNotFound.
func (s *RecordStore) GetFlow(id int64) (Flow, error) {
	var f Flow
	err := s.get(flowKey(id), &f)
	return f, err
}

// DeleteFlow removes the flow record.
func (s *RecordStore) DeleteFlow(id int64) error {
	return s.delete(flowKey(id))
}

// ListFlows returns the flows owned by the tenant, or all flows for tenant 0.
func (s *RecordStore) ListFlows(tenantID int64) ([]Flow, error) {
	out := []Flow{}
	err := s.list([]byte("flow:"), func(val []byte) error {
		var f Flow
		if err := json.Unmarshal(val, &f); err != nil {
			return err
		}
		if tenantID == 0 || f.TenantID == tenantID {
			out = append(out, f)
		}
		return nil
	})
	return out, err
}
