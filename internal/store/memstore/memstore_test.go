package memstore

import (
	"testing"

	"levelverse.io/internal/store"
	"levelverse.io/internal/store/storetest"
)

func TestMemStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return New() })
}
