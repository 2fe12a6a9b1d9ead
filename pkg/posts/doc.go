// Package posts owns content items and the reply tree. A post optionally
// references a parent post; replies form a forest that the access engine
// walks when resolving inherited permissions. Post creation installs the
// default permission records in the same transaction.
package posts
