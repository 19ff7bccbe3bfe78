// Package cmd implements the command-line interface for edulab.
//
// This package provides the following commands:
//   - serve: Run the backend proxy in front of Gemini
//   - login, logout, status: Manage the Google sign-in of the client
//   - ask, summarize, quiz, explain, suggest: Generate content through the proxy
//   - check: Verify that the proxy is reachable and accepts the session
//   - config: Read and change client preferences
//   - version: Display version information
package cmd
