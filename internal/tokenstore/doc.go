// Package tokenstore provides persistent storage abstractions for provider
// API keys.
//
// Supports storage backends with different security and deployment tradeoffs:
//   - File: Local filesystem storage with atomic writes and secure permissions
//   - Env: Read-only environment variable access (requires external secret management)
//   - Keyring: OS-native credential storage (macOS Keychain, Windows Credential
//     Manager, Linux Secret Service)
//
// A key written back through TokenStore.Write requires writable storage (file or keyring);
// a key supplied once at deploy time can use any backend including read-only
// env storage.
package tokenstore
