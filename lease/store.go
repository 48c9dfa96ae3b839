package lease

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/tlv"
	"go.etcd.io/bbolt"
)

var (
	// leaseBucket holds every in-flight lease keyed by its id.
	leaseBucket = []byte("leases")
)

const (
	typeID            tlv.Type = 0
	typeChanPointHash tlv.Type = 2
	typeChanPointIdx  tlv.Type = 4
	typePeerPubKey    tlv.Type = 6
	typeCapacity      tlv.Type = 8
	typePushAmount    tlv.Type = 10
	typeCreatedAt     tlv.Type = 12
	typeExpiresAt     tlv.Type = 14
	typeState         tlv.Type = 16
	typeCloseAttempts tlv.Type = 18
	typeLastError     tlv.Type = 20
)

// BoltStore is a Store backed by a bbolt database file.
type BoltStore struct {
	db *bbolt.DB
}

// A compile time check to ensure BoltStore implements the Store interface.
var _ Store = (*BoltStore)(nil)

// OpenBoltStore opens or creates the lease database at path.
func OpenBoltStore(path string, timeout time.Duration) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("unable to open lease db %v: %w", path,
			err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(leaseBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// PutLease inserts or overwrites a lease.
func (s *BoltStore) PutLease(l *Lease) error {
	var b bytes.Buffer
	if err := SerializeLease(&b, l); err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(leaseBucket).Put([]byte(l.ID), b.Bytes())
	})
}

// DeleteLease removes a lease.
func (s *BoltStore) DeleteLease(id ID) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(leaseBucket).Delete([]byte(id))
	})
}

// FetchLeases returns every stored lease.
func (s *BoltStore) FetchLeases() ([]*Lease, error) {
	var leases []*Lease
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(leaseBucket).ForEach(func(k, v []byte) error {
			l, err := DeserializeLease(bytes.NewReader(v))
			if err != nil {
				return fmt.Errorf("lease %s: %w", k, err)
			}
			leases = append(leases, l)

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return leases, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// SerializeLease writes the TLV encoding of a lease to w.
func SerializeLease(w io.Writer, l *Lease) error {
	var (
		id            = []byte(l.ID)
		hash          = [32]byte(l.ChannelPoint.Hash)
		index         = l.ChannelPoint.Index
		pubKey        [33]byte
		capacity      = uint64(l.Capacity)
		push          = uint64(l.PushAmount)
		createdAt     = uint64(l.CreatedAt.UnixNano())
		expiresAt     = uint64(l.ExpiresAt.UnixNano())
		state         = uint8(l.State)
		closeAttempts = l.CloseAttempts
		lastErr       = []byte(l.LastError)
	)
	if l.PeerPubKey != nil {
		copy(pubKey[:], l.PeerPubKey.SerializeCompressed())
	}

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeID, &id),
		tlv.MakePrimitiveRecord(typeChanPointHash, &hash),
		tlv.MakePrimitiveRecord(typeChanPointIdx, &index),
		tlv.MakePrimitiveRecord(typePeerPubKey, &pubKey),
		tlv.MakePrimitiveRecord(typeCapacity, &capacity),
		tlv.MakePrimitiveRecord(typePushAmount, &push),
		tlv.MakePrimitiveRecord(typeCreatedAt, &createdAt),
		tlv.MakePrimitiveRecord(typeExpiresAt, &expiresAt),
		tlv.MakePrimitiveRecord(typeState, &state),
		tlv.MakePrimitiveRecord(typeCloseAttempts, &closeAttempts),
		tlv.MakePrimitiveRecord(typeLastError, &lastErr),
	)
	if err != nil {
		return err
	}

	return stream.Encode(w)
}

// DeserializeLease reads a lease written by SerializeLease.
func DeserializeLease(r io.Reader) (*Lease, error) {
	var (
		id            []byte
		hash          [32]byte
		index         uint32
		pubKey        [33]byte
		capacity      uint64
		push          uint64
		createdAt     uint64
		expiresAt     uint64
		state         uint8
		closeAttempts uint32
		lastErr       []byte
	)

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeID, &id),
		tlv.MakePrimitiveRecord(typeChanPointHash, &hash),
		tlv.MakePrimitiveRecord(typeChanPointIdx, &index),
		tlv.MakePrimitiveRecord(typePeerPubKey, &pubKey),
		tlv.MakePrimitiveRecord(typeCapacity, &capacity),
		tlv.MakePrimitiveRecord(typePushAmount, &push),
		tlv.MakePrimitiveRecord(typeCreatedAt, &createdAt),
		tlv.MakePrimitiveRecord(typeExpiresAt, &expiresAt),
		tlv.MakePrimitiveRecord(typeState, &state),
		tlv.MakePrimitiveRecord(typeCloseAttempts, &closeAttempts),
		tlv.MakePrimitiveRecord(typeLastError, &lastErr),
	)
	if err != nil {
		return nil, err
	}
	if err := stream.Decode(r); err != nil {
		return nil, err
	}

	l := &Lease{
		ID: ID(id),
		ChannelPoint: wire.OutPoint{
			Hash:  chainhash.Hash(hash),
			Index: index,
		},
		Capacity:      btcutil.Amount(capacity),
		PushAmount:    btcutil.Amount(push),
		CreatedAt:     time.Unix(0, int64(createdAt)),
		ExpiresAt:     time.Unix(0, int64(expiresAt)),
		State:         State(state),
		CloseAttempts: closeAttempts,
		LastError:     string(lastErr),
	}

	if pubKey != [33]byte{} {
		l.PeerPubKey, err = btcec.ParsePubKey(pubKey[:])
		if err != nil {
			return nil, fmt.Errorf("invalid peer key: %w", err)
		}
	}

	return l, nil
}
