// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package constants

import "time"

// Store key formats. Queue membership, metadata and ownership are cluster
// state shared by every matchmaker instance.
const (
	// QueueKeyFormat is the per-mode sorted set, scored by enqueue time in ms.
	QueueKeyFormat = "mm:q:%s"

	// MetaKeyFormat holds the metadata blob for a queued player, keyed by mode and player.
	MetaKeyFormat = "mm:meta:%s:%s"

	// OwnerKeyFormat maps a player to the single mode they are queued in.
	OwnerKeyFormat = "mm:owner:%s"

	// PoolKey is the dedicated server pool hash, url -> server record.
	PoolKey = "ds:pool"

	// SessionKeyFormat holds an allocated session record.
	SessionKeyFormat = "ds:session:%s"

	// RunTokenKey stores the current test-run token set via the admin surface.
	RunTokenKey = "mm:run"

	// EventChannelName is the cross-instance pub/sub channel for match events.
	EventChannelName = "mm:events"
)

// Script names registered with the queue store.
const (
	ScriptEnqueuePlayer = "ENQUEUE_PLAYER"
	ScriptDequeuePlayer = "DEQUEUE_PLAYER"
	ScriptTryMatchPop   = "TRY_MATCH_POP"
	ScriptReserveSlot   = "RESERVE_SLOT"
	ScriptReleaseSlot   = "RELEASE_SLOT"
	ScriptSweepPool     = "SWEEP_POOL"
)

// Client frame types.
const (
	FrameTypeAuth    = "auth"
	FrameTypeEnqueue = "enqueue"
	FrameTypeDequeue = "dequeue"
	FrameTypePing    = "ping"
)

// Server frame types.
const (
	FrameTypeAuthOK     = "auth_ok"
	FrameTypeError      = "error"
	FrameTypeQueued     = "queued"
	FrameTypeMatchFound = "match_found"
	FrameTypeClosing    = "closing"
	FrameTypePong       = "pong"
)

// Session close reasons carried in the closing frame. CloseReasonDisconnect
// never reaches a client, it labels peer-initiated closes in metrics.
const (
	CloseReasonAuth       = "auth"
	CloseReasonTimeout    = "timeout"
	CloseReasonShutdown   = "shutdown"
	CloseReasonReplaced   = "replaced"
	CloseReasonDisconnect = "disconnect"
)

// Client-facing error codes carried in the error frame.
const (
	ErrorCodeBusy       = "busy"
	ErrorCodeValidation = "validation"
	ErrorCodeAuth       = "auth"
	ErrorCodeInternal   = "internal"
)

// Enqueue rejection reason constants.
const (
	RejectReasonMetadataTooLarge = "reject_metadata_too_large"
	RejectReasonMetadataInvalid  = "reject_metadata_invalid"
	RejectReasonSkillOutOfRange  = "reject_skill_out_of_range"
	RejectReasonUnknownMode      = "reject_unknown_mode"
)

// Allocation failure reason constants.
const (
	AllocReasonNoCapacity      = "alloc_no_capacity"
	AllocReasonCallbackFailed  = "alloc_callback_failed"
	AllocReasonCallbackTimeout = "alloc_callback_timeout"
	AllocReasonStoreFailed     = "alloc_store_failed"
)

// Event delivery results.
const (
	DeliveryResultDelivered = "delivered"
	DeliveryResultDropped   = "dropped"
)

// Store reconnect probe results.
const (
	ReconnectResultSuccess = "success"
	ReconnectResultFailure = "failure"
)

// Process exit codes.
const (
	ExitCodeOK               = 0
	ExitCodeConfig           = 64
	ExitCodeStoreUnavailable = 69
	ExitCodeInternal         = 70
)

const (
	// MetadataMaxBytes bounds the raw metadata blob accepted on enqueue.
	MetadataMaxBytes = 256

	// PopScanLimit bounds how many oldest entries one pop attempt inspects.
	PopScanLimit = 512

	// DefaultWriteWait bounds a single outbound frame write.
	DefaultWriteWait = 10 * time.Second
)
