// Package api exposes order intake and operator endpoints over HTTP.
//
//	POST   /orders                  place an order
//	GET    /orders/:id              read an order
//	POST   /orders/:id/resume       finish an interrupted step
//	POST   /orders/:id/fail         move an order to its fail state
//	GET    /orders/:id/queries/:name run a read-only query
//	GET    /orders/summary          order counts per stage
//	GET    /orders/stuck            non-terminal orders idle for ?age
//	POST   /events                  publish a CloudEvents JSON event
//	GET    /failures                list captured failures
//	GET    /failures/:id            read one failure
//	POST   /failures/:id/redrive    republish a failure
//	POST   /failures/redrive        republish up to ?max failures
//	DELETE /failures/:id            discard a failure
//	GET    /alarms                  last alarm evaluation
//	GET    /healthz                 liveness
package api
