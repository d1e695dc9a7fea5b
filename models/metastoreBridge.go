package models

import (
	"bitbucket.org/mmdatafocus/invoice_bridge/config"
	"bitbucket.org/mmdatafocus/invoice_bridge/metastore"
)

var metaStore metastore.Store

// UseMetaStore installs the key-value store adapter repositories fall back
// to while the relational tables are absent or empty. main() wires the SQL
// implementation; tests install a MemStore.
func UseMetaStore(s metastore.Store) {
	metaStore = s
}

// MetaStore returns the installed adapter, defaulting to the SQL
// implementation on the global DB handle.
func MetaStore() metastore.Store {
	if metaStore == nil {
		metaStore = metastore.NewSQLStore(config.GetDB())
	}
	return metaStore
}
