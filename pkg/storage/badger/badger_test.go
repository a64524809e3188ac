package badger

import (
	"context"
	"testing"

	badgerdb "github.com/dgraph-io/badger/v4"
)

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(nil, nil); err == nil {
		t.Fatal("expected error for nil config")
	}
	if _, err := Open(&Config{}, nil); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestOpenReadWriteClose(t *testing.T) {
	store, err := Open(&Config{Path: t.TempDir()}, nil)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	if err := store.Healthy(context.Background()); err != nil {
		t.Fatalf("expected healthy store: %v", err)
	}

	err = store.DB().Update(func(txn *badgerdb.Txn) error {
		return txn.Set([]byte("k"), []byte("v"))
	})
	if err != nil {
		t.Fatalf("write failed: %v", err)
	}

	err = store.DB().View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte("k"))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if string(val) != "v" {
				t.Fatalf("value = %q, want v", val)
			}
			return nil
		})
	})
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := store.Healthy(context.Background()); err == nil {
		t.Fatal("expected unhealthy after close")
	}
}
