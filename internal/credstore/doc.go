// Package credstore persists the current access/refresh credential pair.
//
// Supports four storage backends with different durability tradeoffs:
//   - File: Local filesystem storage with atomic writes and secure permissions
//   - Keyring: OS-native credential storage (macOS Keychain, Windows Credential Manager, etc.)
//   - Redis: Shared key/value storage for headless hosts
//   - Memory: Process-local storage for tests and throwaway sessions
//
// A pair is stored all-or-nothing. Backends never hand out an access token
// without its refresh token and reject attempts to save half a pair.
package credstore
