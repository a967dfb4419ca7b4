// Package testutil provides test doubles and fixtures shared by the access,
// source and output package tests.
//
// RecordingSink and RecordingClient capture every notification they receive
// and are safe for concurrent use. FakeSource implements access.Source with
// a single cursor and lets tests push records through the normal fan-out
// path. TOA5 builds data files in the text format read by the file source.
package testutil
