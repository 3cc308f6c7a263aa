// Package shard resolves the graph files of a shard and warms the cache with them.
//
// A Shard lists its segments. Each segment names its files and the vector
// fields it carries; a field's attributes select the engine (knn_engine) and
// the similarity metric (space_type). A file belongs to a field when its
// extension is registered for the field's engine and its name contains the
// field name.
package shard
