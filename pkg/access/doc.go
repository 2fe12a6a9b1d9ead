// Package access implements the access resolution engine: per-post VIEW
// and EDIT permission records, the inheritance walk over the reply tree,
// group-closure expansion of actors, and the mutation coordinator that
// keeps records consistent and cascades inherited changes to children.
package access
