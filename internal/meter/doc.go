// Package meter turns decoded SML entries into measurement snapshots and
// keeps the latest snapshot of every meter.
//
// A Projector builds a fresh Snapshot from each frame: scaled values keyed
// by OBIS code, the seconds since the previous snapshot ("gap") and the
// instantaneous active power ("power"). A Store holds one Snapshot per meter
// and replaces it as a whole on every Publish, so readers never see fields
// of two different frames.
package meter
