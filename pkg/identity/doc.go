// Package identity owns user records. It deliberately stops short of
// authentication and token issuance; perch only needs to know whether an
// identifier denotes a real user and who authored what.
package identity
