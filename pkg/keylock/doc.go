/*
Package keylock serializes work per key.

The deferred commit scheduler uses it so that two server calls for the same
entity never overlap, even when a newer commit was scheduled while an older
one was already in flight. With a DistributedLocker the guarantee extends
across console backends.
*/
package keylock
