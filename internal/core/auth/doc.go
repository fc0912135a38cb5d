// Package auth holds the authentication primitives the gateway composes:
// salted password hashing, signed stateless tokens, the in-process session
// registry, and the fixed-window rate limiter.
//
// Stateful pieces (MemoryStore, SessionRegistry) are constructed once per
// process and injected. Their expired entries are removed by a Janitor that
// runs on its own ticker, independent of request traffic.
package auth
