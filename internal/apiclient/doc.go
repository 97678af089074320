// Package apiclient is the single path through which KokoMemo API calls are made.
//
// A Client attaches the stored access token to every call, recognises an
// expired credential by the 401 it produces, renews the credential pair and
// replays the call once. Concurrent callers that hit a 401 at the same time
// share one renewal:
//
//	client, err := apiclient.New(store, apiclient.WithBaseURL("http://localhost:8000/api/v1"))
//	resp, err := client.Send(ctx, http.MethodGet, "/walls", nil)
//
// # Errors
//
// Send surfaces every failure other than a recoverable 401 to the caller:
//   - *NetworkError: the call never produced an HTTP response
//   - *StatusError: a non-2xx response; matches ErrAuthorizationDenied for 401
//   - ErrSessionExpired: renewal failed and the session was torn down
//
// # Session hooks
//
// Renewal results are handed to Hooks so the owner of the session state can
// update persisted credentials and in-memory state together. Without hooks
// the Client writes to and clears the store itself.
package apiclient
