package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/objtalk/objtalkd/internal/broker"
)

func TestBoltRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "objtalk.db")

	db, err := OpenBolt(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("OpenBolt: %v", err)
	}
	defer db.Close()

	obj := broker.Object{Name: "sensors/temp", Value: map[string]interface{}{"c": 21.5}, LastModified: time.Now().UTC()}
	db.AddObject(obj)

	objects, err := db.GetObjects()
	if err != nil {
		t.Fatalf("GetObjects: %v", err)
	}
	if len(objects) != 1 || objects[0].Name != "sensors/temp" {
		t.Fatalf("unexpected objects: %+v", objects)
	}

	db.RemoveObject(obj)
	objects, err = db.GetObjects()
	if err != nil {
		t.Fatalf("GetObjects: %v", err)
	}
	if len(objects) != 0 {
		t.Fatalf("expected empty store after remove, got %+v", objects)
	}
}

func TestBoltReopenPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "objtalk.db")

	db, err := OpenBolt(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("OpenBolt: %v", err)
	}
	obj := broker.Object{Name: "sensors/temp", Value: 1.0, LastModified: time.Now().UTC()}
	db.AddObject(obj)
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := OpenBolt(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("OpenBolt reopen: %v", err)
	}
	defer reopened.Close()

	objects, err := reopened.GetObjects()
	if err != nil {
		t.Fatalf("GetObjects: %v", err)
	}
	if len(objects) != 1 || objects[0].Name != "sensors/temp" {
		t.Fatalf("expected persisted object, got %+v", objects)
	}
}
