package pipeline

import (
	"fmt"

	"github.com/dshills/coursegraph/graph/store"
	"github.com/dshills/coursegraph/internal/config"
)

// OpenStore opens the run archive selected by sc.
func OpenStore(sc config.StoreConfig) (store.Store, error) {
	switch sc.Driver {
	case "", config.StoreMemory:
		return store.NewMemStore(), nil
	case config.StoreSQLite:
		s, err := store.NewSQLiteStore(sc.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.StoreMySQL:
		s, err := store.NewMySQLStore(sc.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", sc.Driver)
}
