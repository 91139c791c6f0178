// Package task is the asynchronous analysis engine. It records every
// submitted task in a Store, admits work through a bounded FIFO queue,
// runs it on a fixed-size executor pool and exposes read-only status
// queries. Submission never waits for execution; overload is reported
// as backpressure instead of queueing without bound.
package task
