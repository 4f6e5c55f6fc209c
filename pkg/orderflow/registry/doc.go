// Package registry provides a concurrency-safe, insertion-ordered registry
// of named components.
//
// The bus uses it to hold routing rules and the alerting watcher uses it to
// hold alarms. Both need names to be unique and iteration to follow
// registration order so that evaluation and logs are deterministic.
//
//	r := registry.New[string, Alarm]()
//	if err := r.Add("failure-queue-depth", alarm); err != nil {
//	    // errors.Is(err, registry.ErrDuplicate)
//	}
//	for _, a := range r.Values() { ... }
package registry
