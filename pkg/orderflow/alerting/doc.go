// Package alerting evaluates threshold alarms over the failure path and
// notifies a single operator channel when one starts breaching.
//
// Two alarms cover the failure path:
//
//   - FailureQueueDepthAlarm breaches while the failure queue holds any record
//   - HandoffFailureAlarm breaches when a failed delivery could not be
//     recorded during the evaluation period
//
// Missing data is healthy. An alarm notifies once when it moves into
// ALARM and again only after it has recovered and breached again.
//
//	w := alerting.NewWatcher(alerting.NewLogNotifier(logger))
//	w.MustAdd(alerting.FailureQueueDepthAlarm(queue, "ops"))
//	w.MustAdd(alerting.HandoffFailureAlarm(bus, "ops"))
//	go w.Run(ctx, time.Minute)
package alerting
