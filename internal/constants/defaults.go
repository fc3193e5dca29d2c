package constants

import "time"

// Pipeline timing constants
const (
	// InterJobDelay paces the drain loop between jobs to stay under
	// provider-side rate limits. Not a correctness requirement.
	InterJobDelay = 1 * time.Second

	// IgnoredChannelCooldown bounds how often an unmatched channel is
	// logged for the same user.
	IgnoredChannelCooldown = 300 * time.Second

	// ShutdownWaitTimeout bounds how long Shutdown waits for a worker to
	// drain before abandoning it.
	ShutdownWaitTimeout = 10 * time.Second

	// WorkerRespawnBackoff is applied before restarting a drain loop that
	// died with an uncaught error.
	WorkerRespawnBackoff = 5 * time.Second
)

// Transfer retry and timeout constants
const (
	TransferMaxAttempts = 3
	TransferRetryDelay  = 5 * time.Second

	// Download timeout formula: max(DownloadTimeoutMin, sizeMB/1.5 + 180s).
	// Assumes ~1.5 MB/s effective throughput so large files are not aborted
	// prematurely while stalled transfers still fail in bounded time.
	DownloadTimeoutMin       = 240 * time.Second
	DownloadTimeoutBuffer    = 180 * time.Second
	DownloadThroughputMBPerS = 1.5

	// Upload timeout formula: max(UploadTimeoutMin, sizeMB/1.0 + 240s).
	UploadTimeoutMin       = 360 * time.Second
	UploadTimeoutBuffer    = 240 * time.Second
	UploadThroughputMBPerS = 1.0

	// PhotoSizeEstimateBytes is used when the gateway does not report a
	// byte size for photo media.
	PhotoSizeEstimateBytes = 10 * 1024 * 1024
)

// Broadcast and cleanup pacing
const (
	BroadcastPerUserDelay = 100 * time.Millisecond
	CleanupPerLeaveDelay  = 500 * time.Millisecond
)

// File and size constants
const (
	BytesPerMegabyte            = 1024 * 1024
	DefaultFilePermissions      = 0600
	DefaultDirectoryPermissions = 0750
)

// Database retry defaults used during startup
const (
	DefaultDatabaseRetryAttempts = 5
	DefaultBackoffInitialMs      = 500
	DefaultBackoffMaxMs          = 5000
)

// HTTP server defaults
const (
	DefaultServerPort          = 8084
	DefaultGracefulShutdownSec = 30
	ServerErrorChannelSize     = 1
)

// Gateway client defaults
const (
	DefaultGatewayHTTPTimeoutSec = 60
	DefaultEventBufferSize       = 64
)
