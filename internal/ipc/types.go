package ipc

import "sessionqa/internal/api"

// ServiceName is the RPC receiver name registered by the server.
const ServiceName = "SessionQA"

// Session mirrors the HTTP API session DTO.
type Session = api.Session

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse carries the combined daemon status.
type StatusResponse = api.DaemonStatus

// SessionListRequest filters the session listing.
type SessionListRequest = api.SessionFilter

// SessionListResponse contains session entries.
type SessionListResponse = api.SessionListResponse

// SessionDescribeRequest fetches a single session by id.
type SessionDescribeRequest struct {
	ID string `json:"id"`
}

// SessionDescribeResponse contains a single session.
type SessionDescribeResponse = api.SessionResponse

// SessionAddRequest ingests session records.
type SessionAddRequest = api.AddSessionsRequest

// SessionAddResponse reports ingestion results.
type SessionAddResponse = api.AddSessionsResponse

// RetryRequest names the session to retry.
type RetryRequest = api.RetryRequest

// RetryResponse reports whether the retry was queued.
type RetryResponse = api.RetryResponse

// ResetRequest confirms an administrative reset.
type ResetRequest = api.ResetRequest

// ResetResponse reports what the reset removed.
type ResetResponse = api.ResetResponse

// TestNotificationRequest triggers a notification test.
type TestNotificationRequest struct{}

// TestNotificationResponse returns the notification result.
type TestNotificationResponse = api.TestNotificationResponse
