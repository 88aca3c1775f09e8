package http

import (
	"context"
	nhttp "net/http"

	"github.com/drand/ceremony/ceremony"
)

func (c *Client) JoinQueue(ctx context.Context) error {
	return c.do(ctx, "join-queue", nhttp.MethodPost, ceremony.PathJoinQueue, c.PublicKey(), nil)
}

func (c *Client) QueueStatus(ctx context.Context) (ceremony.ContributorStatus, error) {
	var status ceremony.ContributorStatus
	err := c.do(ctx, "get-queue-status", nhttp.MethodPost, ceremony.PathQueueStatus, c.PublicKey(), &status)
	return status, err
}

func (c *Client) LockChunk(ctx context.Context) (*ceremony.LockedLocators, error) {
	var locked ceremony.LockedLocators
	if err := c.do(ctx, "lock-chunk", nhttp.MethodPost, ceremony.PathLockChunk, c.PublicKey(), &locked); err != nil {
		return nil, err
	}
	return &locked, nil
}

func (c *Client) GetTask(ctx context.Context, locked *ceremony.LockedLocators) (ceremony.Task, error) {
	req := &ceremony.ChunkRequest{PublicKey: c.PublicKey(), LockedLocators: *locked}
	var task ceremony.Task
	err := c.do(ctx, "get-task", nhttp.MethodPost, ceremony.PathGetTask, req, &task)
	return task, err
}

func (c *Client) TasksLeft(ctx context.Context) ([]ceremony.Task, error) {
	var tasks []ceremony.Task
	err := c.do(ctx, "get-tasks-left", nhttp.MethodPost, ceremony.PathTasksLeft, c.PublicKey(), &tasks)
	return tasks, err
}

func (c *Client) DownloadChallenge(ctx context.Context, locked *ceremony.LockedLocators) ([]byte, error) {
	req := &ceremony.ChunkRequest{PublicKey: c.PublicKey(), LockedLocators: *locked}
	var challenge []byte
	if err := c.do(ctx, "download-challenge", nhttp.MethodPost, ceremony.PathChallenge, req, &challenge); err != nil {
		return nil, err
	}
	return challenge, nil
}

func (c *Client) UploadContribution(ctx context.Context, req *ceremony.PostChunkRequest) error {
	return c.do(ctx, "upload-contribution", nhttp.MethodPost, ceremony.PathUploadChunk, req, nil)
}

func (c *Client) NotifyContribution(ctx context.Context, chunkID uint64) (*ceremony.ContributionLocator, error) {
	req := &ceremony.ContributeChunkRequest{PublicKey: c.PublicKey(), ChunkID: chunkID}
	var loc ceremony.ContributionLocator
	if err := c.do(ctx, "notify-contribution", nhttp.MethodPost, ceremony.PathContributeChunk, req, &loc); err != nil {
		return nil, err
	}
	return &loc, nil
}

func (c *Client) Heartbeat(ctx context.Context) error {
	return c.do(ctx, "heartbeat", nhttp.MethodPost, ceremony.PathHeartbeat, c.PublicKey(), nil)
}

func (c *Client) PostContributionInfo(ctx context.Context, info *ceremony.ContributionInfo) error {
	return c.do(ctx, "post-contribution-info", nhttp.MethodPost, ceremony.PathContributionInfo, info, nil)
}

// Admin requests. The coordinator only honours them when the client's
// keypair is the administrator's.

func (c *Client) StopCoordinator(ctx context.Context) error {
	return c.do(ctx, "stop-coordinator", nhttp.MethodGet, ceremony.PathAdminStop, nil, nil)
}

func (c *Client) Contributions(ctx context.Context) ([]*ceremony.ContributionInfo, error) {
	var infos []*ceremony.ContributionInfo
	err := c.do(ctx, "get-contributions", nhttp.MethodGet, ceremony.PathAdminContributions, nil, &infos)
	return infos, err
}

func (c *Client) VerifyContributions(ctx context.Context) (*ceremony.VerifyResponse, error) {
	var resp ceremony.VerifyResponse
	if err := c.do(ctx, "verify-contributions", nhttp.MethodGet, ceremony.PathAdminVerify, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) UpdateCoordinator(ctx context.Context) error {
	return c.do(ctx, "update-coordinator", nhttp.MethodGet, ceremony.PathAdminUpdate, nil, nil)
}
