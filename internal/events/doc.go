// Package events decouples the job service from delivery: the service emits
// JobEvents and handlers such as the queue dispatcher react to them.
package events
