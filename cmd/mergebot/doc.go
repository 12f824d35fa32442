// Command mergebot runs the HTTP(S) dispatch server.
//
// With a PKCS#12 identity configured it serves the main service over HTTPS
// and redirects all plaintext traffic to the secure endpoint; without one it
// serves plaintext directly and logs a warning.
package main
