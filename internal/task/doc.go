// Package task defines the task record exchanged between the local store,
// the remote list client and the sync orchestrator.
//
// # Primary format
//
// The primary exchange format is a JSON array of flat objects. Timestamps are
// integer epoch seconds, importance uses the wire vocabulary
// low/basic/important:
//
//	[
//	  {
//	    "id": "6f1c0c3e-...",
//	    "text": "Buy milk",
//	    "importance": "basic",
//	    "done": false,
//	    "created_at": 1767225600,
//	    "changed_at": 1767225600,
//	    "color": "#000000",
//	    "last_updated_by": "laptop"
//	  }
//	]
//
// A missing changed_at is filled with the current time when the record is
// written; a missing deadline stays absent.
//
// # Secondary format
//
// The secondary format is line oriented. The first line is a header that is
// written for humans and never parsed:
//
//	id,text,importance,deadline,isDone,createdAt,changesAt
//	6f1c...,Buy milk|eggs,,,false,1767225600,,#000000
//
// Every record line has exactly eight comma separated fields. Commas inside
// the text are written as '|'. The default importance and absent timestamps
// are written as empty fields. Lines that do not parse are skipped.
package task
