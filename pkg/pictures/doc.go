// Package pictures implements upload, replacement, editing and deletion of
// pictures, with storage quota accounting and object cleanup.
//
// Uploaded bytes are stored under a content-addressed key, so identical
// uploads share one object. The row write and the quota delta commit in a
// single transaction; objects are deleted afterwards by Cleaner, and only
// when no remaining row references them.
package pictures
