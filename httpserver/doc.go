/*
Package httpserver is the HTTP(S) request-dispatch layer of mergebot.

It accepts inbound connections on one or two listening sockets, optionally
terminates TLS, and dispatches each request into a composed chain of filters
in front of a terminal handler. Domain-specific services (webhook ingestion,
UI sessions) plug in behind the Handler and Filter interfaces; this package
does not route by path or method.

# Dispatch model

  - Handler turns a request into a Response and may block on I/O.
  - Filter is a synchronous pre-check that can halt processing with an
    immediate response.
  - FilteredHandler composes one filter with one handler and is itself a
    Handler, so gates can be chained in front of a terminal handler such as
    NotFoundHandler.
  - DecodeJSON drains a request body once, parses it against a caller-chosen
    type and hands the value to a continuation, answering 400 on malformed
    input.

# Serving topologies

Server selects one of two topologies at startup:

  - Secure: a PKCS#12 identity is configured. The HTTPS socket serves the
    main handler; the plaintext socket serves only redirects to the HTTPS
    endpoint. A configured-but-invalid identity aborts startup; the server
    never falls back to plaintext silently.
  - Insecure: no identity. The plaintext socket serves the main handler
    directly and no HTTPS socket is bound. Startup logs a warning.

In secure mode every raw connection gets its own handshake goroutine. A
handshake failure is logged, counted and dropped without disturbing the
accept loop or any other connection.
*/
package httpserver
