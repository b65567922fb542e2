// Package importer holds the vocabulary of the bulk import engine: run and
// item states, the static run transition table, result aggregation types,
// processor results and the interfaces of the engine's collaborators
// (processor, durable store, notifier, clock, id generator).
package importer
