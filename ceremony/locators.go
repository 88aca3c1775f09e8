// Package ceremony holds the data exchanged between a contributor and the
// coordinator of a trusted setup ceremony.
package ceremony

import "fmt"

// ContributionLocator addresses one contribution file.
type ContributionLocator struct {
	RoundHeight    uint64 `json:"round_height"`
	ChunkID        uint64 `json:"chunk_id"`
	ContributionID uint64 `json:"contribution_id"`
	IsVerified     bool   `json:"is_verified"`
}

func (l ContributionLocator) String() string {
	return fmt.Sprintf("round %d chunk %d contribution %d", l.RoundHeight, l.ChunkID, l.ContributionID)
}

// ContributionSignatureLocator addresses the signature file of a contribution.
type ContributionSignatureLocator struct {
	RoundHeight    uint64 `json:"round_height"`
	ChunkID        uint64 `json:"chunk_id"`
	ContributionID uint64 `json:"contribution_id"`
	IsVerified     bool   `json:"is_verified"`
}

// LockedLocators is what the coordinator hands out when a chunk is locked:
// where the challenge lives and where the contribution goes.
type LockedLocators struct {
	Current           ContributionLocator          `json:"current_contribution"`
	Next              ContributionLocator          `json:"next_contribution"`
	NextFileSignature ContributionSignatureLocator `json:"next_contribution_file_signature"`
}

// NextContribution returns the locator the contribution must be uploaded to.
func (l *LockedLocators) NextContribution() ContributionLocator {
	return l.Next
}

// NextContributionFileSignature returns the locator of the file signature.
func (l *LockedLocators) NextContributionFileSignature() ContributionSignatureLocator {
	return l.NextFileSignature
}

// Task is a unit of work assigned to a contributor.
type Task struct {
	ChunkID        uint64 `json:"chunk_id"`
	ContributionID uint64 `json:"contribution_id"`
}

// TaskFromLocators returns the task designated by the next contribution
// locator.
func TaskFromLocators(l *LockedLocators) Task {
	return Task{ChunkID: l.Next.ChunkID, ContributionID: l.Next.ContributionID}
}

func (t Task) String() string {
	return fmt.Sprintf("%d/%d", t.ChunkID, t.ContributionID)
}
