package ceremony

import "fmt"

// Routes served by the coordinator.
const (
	PathHealth           = "/health"
	PathJoinQueue        = "/contributor/join_queue"
	PathQueueStatus      = "/contributor/queue_status"
	PathLockChunk        = "/contributor/lock_chunk"
	PathGetTask          = "/download/chunk"
	PathChallenge        = "/contributor/challenge"
	PathUploadChunk      = "/upload/chunk"
	PathContributeChunk  = "/contributor/contribute_chunk"
	PathHeartbeat        = "/contributor/heartbeat"
	PathTasksLeft        = "/contributor/get_tasks_left"
	PathContributionInfo = "/contributor/contribution_info"

	PathAdminStop          = "/stop"
	PathAdminContributions = "/contribution_info"
	PathAdminVerify        = "/verify"
	PathAdminUpdate        = "/update"
)

// Headers carrying the administrator signature.
const (
	HeaderPublicKey = "X-Ceremony-Pubkey"
	HeaderSignature = "X-Ceremony-Signature"
	HeaderTimestamp = "X-Ceremony-Timestamp"
)

// ChunkRequest identifies a locked chunk on behalf of a contributor.
type ChunkRequest struct {
	PublicKey      string         `json:"pubkey"`
	LockedLocators LockedLocators `json:"locked_locators"`
}

// ContributeChunkRequest asks the coordinator to accept an uploaded
// contribution.
type ContributeChunkRequest struct {
	PublicKey string `json:"pubkey"`
	ChunkID   uint64 `json:"chunk_id"`
}

// PostChunkRequest carries a contribution and its file signature.
type PostChunkRequest struct {
	ContributionLocator              ContributionLocator          `json:"contribution_locator"`
	Contribution                     []byte                       `json:"contribution"`
	ContributionFileSignatureLocator ContributionSignatureLocator `json:"contribution_file_signature_locator"`
	ContributionFileSignature        *ContributionFileSignature   `json:"contribution_file_signature"`
}

// ErrorResponse is the body of a failed request.
type ErrorResponse struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// HealthResponse is the body of the health route.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// VerifyResponse reports the outcome of an administrator verification pass.
type VerifyResponse struct {
	Verified []ContributionLocator `json:"verified"`
	Failed   []ContributionLocator `json:"failed"`
}

// AdminMessage returns the bytes an administrator signs for a request.
func AdminMessage(method, path string, timestamp int64) []byte {
	return []byte(fmt.Sprintf("%s %s %d", method, path, timestamp))
}
