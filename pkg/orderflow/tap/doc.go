// Package tap mirrors bus events into an inspectable queue for end-to-end
// tests.
//
// Install subscribes a broad rule matching every event from the configured
// source and stores each event as CloudEvents JSON. Messages are retained
// briefly and hidden for a short visibility timeout after Receive so tests
// can poll quickly without seeing the same message twice. The tap refuses
// to install on production stages.
package tap
