// Package harness runs end-to-end scenarios against the rotation,
// watchdog and restore engines.
//
// A scenario is a YAML file naming a source tree, a list of steps
// (rotate, write, tamper, delete, corrupt_manifest, tick, recover, restore,
// verify) and assertions over the resulting trace and files. Each run gets
// a fresh base directory, the fixed test key and a stepping clock, so the
// trace is deterministic and can be compared against golden files.
//
// Example scenario:
//
//	name: mirror-repair
//	description: a deleted rotated file is restored from the mirror
//	source:
//	  index.html: "<p>hi</p>\n"
//	steps:
//	  - action: rotate
//	    mode: right
//	    param: 3
//	    seed: fixed
//	  - action: delete
//	    path: rotated/index.html
//	  - action: tick
//	    expect: Repairing
//	  - action: restore
//	    expect: FullyRestored
//	assertions:
//	  - type: trace_order
//	    kinds: [Alert:Missing, RestoredFromMirror]
//	  - type: file
//	    path: restored/index.html
//	    content: "<p>hi</p>\n"
package harness
