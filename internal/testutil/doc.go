// Package testutil provides testing utilities and fixtures shared by the
// grantline test suites: random identifier generation and pre-seeded store
// contents for driving the authorization flow end to end.
package testutil
