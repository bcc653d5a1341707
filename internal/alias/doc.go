// Package alias stores instruments under human-readable names.
//
// Two sources exist: the instruments section of the config file, loaded
// into a read-only MemoryStore, and the SQLite state database, written by
// Instrument.SaveInstrument and `instrumental alias save`. A Chain puts
// the config first so hand-written entries win over saved ones:
//
//	aliases := alias.Chain{configStore, alias.NewSQLiteStore(db.DB)}
//	ps, err := aliases.Lookup(ctx, "bench-pm")
//
// Every store implements both resolver.AliasLookup and driver.AliasSaver.
package alias
