// Package client defines what a contributor and an administrator need from
// a ceremony coordinator.
package client

import (
	"context"

	"github.com/drand/ceremony/ceremony"
)

// Coordinator is the set of requests a contributor issues. Every method
// identifies the contributor by the public key the implementation was built
// with. Failures are *common.Error values.
type Coordinator interface {
	// JoinQueue adds the contributor to the waiting queue.
	JoinQueue(ctx context.Context) error
	// QueueStatus polls the contributor's status.
	QueueStatus(ctx context.Context) (ceremony.ContributorStatus, error)
	// LockChunk locks the next chunk to contribute to.
	LockChunk(ctx context.Context) (*ceremony.LockedLocators, error)
	// GetTask returns the task designated by locked, if it is pending for
	// the contributor.
	GetTask(ctx context.Context, locked *ceremony.LockedLocators) (ceremony.Task, error)
	// TasksLeft lists the contributor's pending tasks.
	TasksLeft(ctx context.Context) ([]ceremony.Task, error)
	// DownloadChallenge fetches the challenge of the locked chunk.
	DownloadChallenge(ctx context.Context, locked *ceremony.LockedLocators) ([]byte, error)
	// UploadContribution uploads a contribution. Uploading the same bytes
	// to the same locator twice is not an error.
	UploadContribution(ctx context.Context, req *ceremony.PostChunkRequest) error
	// NotifyContribution asks the coordinator to accept the uploaded
	// contribution for chunkID.
	NotifyContribution(ctx context.Context, chunkID uint64) (*ceremony.ContributionLocator, error)
	// Heartbeat signals the contributor is alive.
	Heartbeat(ctx context.Context) error
	// PostContributionInfo submits the signed summary of a contribution.
	PostContributionInfo(ctx context.Context, info *ceremony.ContributionInfo) error
}

// Admin is the set of privileged requests of the coordinator operator.
type Admin interface {
	// StopCoordinator closes the ceremony to new contributors.
	StopCoordinator(ctx context.Context) error
	// Contributions returns every contribution summary received so far.
	Contributions(ctx context.Context) ([]*ceremony.ContributionInfo, error)
	// VerifyContributions verifies the pending contributions.
	VerifyContributions(ctx context.Context) (*ceremony.VerifyResponse, error)
	// UpdateCoordinator runs a liveness and promotion pass.
	UpdateCoordinator(ctx context.Context) error
}
