// Package crunch holds the analysis data model and the per-record transform
// that turns raw working-gas-relative delta measurements into raw clumped
// anomalies and standardized bulk compositions.
//
// A Dataset owns a flat, ordered collection of Analysis records together
// with derived Session and Sample registries. The registries are pure
// derived views: they are rebuilt from scratch by Refresh after any
// membership-affecting mutation (ingestion, sample splitting) rather than
// maintained incrementally, and all iteration over them is in sorted key
// order so that results do not depend on input record order.
package crunch
