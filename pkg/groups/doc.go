// Package groups owns group entities and the subgroup containment graph.
// Groups may contain other groups; the graph is kept acyclic by rejecting
// any subgroup edge that would make a group reach itself. Closure queries
// answer which groups a user effectively belongs to, directly or through
// subgroup containment.
package groups
