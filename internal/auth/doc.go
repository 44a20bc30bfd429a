// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package auth implements GitHub device-flow authentication for the
// Copilot chat API.
//
// The flow has three legs: register a device code, poll the token
// endpoint until the user approves in a browser, then exchange the
// long-lived OAuth token for a short-lived runtime token on every API
// call.
//
// # Key Types
//
//   - Store: atomic on-disk persistence of the single auth profile
//   - Profile: the stored credential and device-flow transient state
//   - Authenticator: drives the device flow and mediates runtime tokens
//   - PollResult: tagged outcome of a single token poll
//
// # Usage
//
// Establish a session:
//
//	a := auth.NewAuthenticator(store, cfg)
//	dev, err := a.StartDeviceFlow(ctx)
//	// show dev.UserCode / dev.VerificationURI to the user
//	token, err := a.PollForToken(ctx)
//
// Per-call headers for the chat API:
//
//	headers, err := a.AuthHeaders(ctx)
//
// # Storage Location
//
// The profile is stored at ~/.openclaw/auth/profile.json with 0600
// permissions, written atomically.
package auth
