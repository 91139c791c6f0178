// Package events carries task lifecycle notifications from the task engine to
// side-effecting consumers such as the archive and the notifier.
//
// The engine emits events without knowing which handlers process them, so
// persistence and delivery concerns stay out of the scheduler.
//
// The primary components are:
// - TaskEvent: a lifecycle change of one task with a JSON payload
// - EventHandler: interface for components that can handle events
// - EventEmitter: interface for components that can emit events
// - Dispatcher: ordered, synchronous EventEmitter used by the server
package events
