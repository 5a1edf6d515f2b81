// Package manifest owns the node manifest file: the node-local JSON snapshot of
// the LoRaWAN connections that have already been synchronized to the registry.
//
// # Document
//
// The manifest is a node-wide document shared with other tools. Only the
// top-level "lorawanconnections" array is managed here; every other key is
// kept as decoded and written back untouched.
//
//	{
//	   "vsn": "W030",
//	   "lorawanconnections": [
//	      {
//	         "connection_name": "...",
//	         "connection_type": "OTAA",
//	         "lorawandevice": {
//	            "deveui": "7d1f5420e81235c1",
//	            "name": "...",
//	            "hardware": {"hw_model": "...", ...}
//	         }
//	      }
//	   ]
//	}
//
// # Writes
//
// Save writes to a temporary file in the manifest's directory and renames it
// over the target, so readers see either the old or the new document and never
// a partial one. Concurrent writers are not coordinated: the last rename wins.
//
// # Candidates
//
// Upsert takes a typed Connection, checks it against a fixed nested template
// (ValidateShape) and merges it into the entry with the same deveui, or appends
// it when the device is new.
package manifest
