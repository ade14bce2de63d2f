// Package schema defines the file-based JSON records for graph storage.
//
// # Overview
//
// Every Node and every Link is stored as its own JSON file under a data
// source root:
//
//	<root>/nodes/node_<suffix>.json
//	<root>/links/link_<suffix>.json
//
// where <suffix> is the entity id with its "node_"/"link_" prefix stripped.
// Ids always carry the prefix, so each entity has exactly one file, and a file
// whose body id is not the one its name encodes is reported as corrupt.
// The file content is the complete record with no envelope:
//
//	{
//	  "id": "node_5f0c…",
//	  "label": "A",
//	  "url": "https://example.com",
//	  "x": 120.5,
//	  "y": null,
//	  "created_at": "2026-10-16T09:30:00Z",
//	  "updated_at": "2026-10-16T09:31:12Z"
//	}
//
//	{
//	  "id": "link_91ab…",
//	  "source_id": "node_5f0c…",
//	  "target_id": "node_77de…",
//	  "label": "cites",
//	  "created_at": "2026-10-16T09:30:00Z"
//	}
//
// # Validation
//
// Records are validated once, at the storage boundary, with
// go-playground/validator struct tags. A Node needs id and a non-blank label;
// a Link needs id, source_id and target_id. Whether link endpoints exist is a
// graph-level rule enforced by the engine, not by the file format.
//
// # Artifacts
//
// Names ending in .tmp mark an in-progress atomic write and names ending in
// .backup mark a pending-rollback copy. IsArtifact reports those (and common
// editor swap files) so directory enumeration and the watcher can skip them.
package schema
