// Package imap is a synchronous IMAP4rev1 client core.
//
// A Client owns one connection and runs one command at a time: each command
// gets a fresh tag, literal arguments are negotiated with the server (or sent
// inline with LITERAL+), and the tagged status line is classified into a
// Result that callers inspect through LastError and LastResult.
//
// On top of that channel the package offers:
//
//   - Connecting over plain TCP or TLS, with retried socket setup
//   - Authenticating with LOGIN, PLAIN, CRAM-MD5, DIGEST-MD5, GSSAPI or XOAUTH2
//   - Mailbox selection with CONDSTORE/QRESYNC session tracking
//   - SEARCH, ESEARCH, SORT, THREAD and client side ordering with Index
//   - Header and full message fetching, flag changes, copy, move and append
//   - A tokenizer for IMAP data (Tokenize) and message set compression
//
// Configuration comes from a Config value, built in code or loaded from a
// TOML file with LoadConfig. Logging goes through the Logger interface, with
// adapters for log/slog and logrus.
package imap
