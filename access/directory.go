package access

import (
	"context"
	"fmt"
	"sync"

	api "github.com/mohitkumar/stepflow/api/v1"
)

// ROLE_OWNER may act on anything in its business, including every approval
// gate regardless of the gate's approver role.
const ROLE_OWNER = "owner"

// Directory answers which role a user holds in a business.
type Directory interface {
	Role(ctx context.Context, businessId string, userId string) (string, error)
}

// Authorize returns the user's role, or a ForbiddenError if the user is not a
// member of the business.
func Authorize(ctx context.Context, dir Directory, businessId string, userId string) (string, error) {
	if userId == "" {
		return "", api.ForbiddenError{UserId: userId, Reason: "missing user identity"}
	}
	role, err := dir.Role(ctx, businessId, userId)
	if err != nil {
		return "", err
	}
	if role == "" {
		return "", api.ForbiddenError{UserId: userId, Reason: fmt.Sprintf("not a member of business %s", businessId)}
	}
	return role, nil
}

// CanApprove reports whether role satisfies a gate that requires approverRole.
func CanApprove(role string, approverRole string) bool {
	return role == ROLE_OWNER || role == approverRole
}

type memoryDirectory struct {
	mu      sync.RWMutex
	members map[string]map[string]string
}

var _ Directory = new(memoryDirectory)

func NewMemoryDirectory() *memoryDirectory {
	return &memoryDirectory{
		members: make(map[string]map[string]string),
	}
}

func (d *memoryDirectory) AddMember(businessId string, userId string, role string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.members[businessId]; !ok {
		d.members[businessId] = make(map[string]string)
	}
	d.members[businessId][userId] = role
}

func (d *memoryDirectory) RemoveMember(businessId string, userId string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.members[businessId], userId)
}

// Role returns an empty role for non-members.
func (d *memoryDirectory) Role(ctx context.Context, businessId string, userId string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.members[businessId][userId], nil
}
