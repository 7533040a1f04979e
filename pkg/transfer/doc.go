/*
Package transfer moves output artifacts between feature views.

A feature view subscribes while it is mounted; the newest subscription for a
feature wins. Deliver checks the capability map before any listener is
touched, navigates to an unmounted target through the router collaborator and
waits a bounded time for it to subscribe. Inbox is a queue-backed listener for
views that consume deliveries at their own pace.
*/
package transfer
