// Package storage provides broker.Storage backends: a no-op Null backend
// and a boltdb-backed persistent one.
package storage

import "github.com/objtalk/objtalkd/internal/broker"

// Null discards every write and reports no pre-existing objects. Used
// when no [storage] table is configured.
type Null struct{}

var _ broker.Storage = Null{}

func (Null) GetObjects() ([]broker.Object, error) { return nil, nil }
func (Null) AddObject(broker.Object)              {}
func (Null) ChangeObject(broker.Object)           {}
func (Null) RemoveObject(broker.Object)           {}
