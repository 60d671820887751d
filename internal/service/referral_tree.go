package service

import (
	"github.com/shopspring/decimal"

	"newroi/ledger-service/internal/models"
)

// MaxReferralDepth is the commission level ceiling; walks never go deeper
const MaxReferralDepth = models.CommissionLevels

// UplineNode is an ancestor and its distance from the starting user (1 = direct sponsor)
type UplineNode struct {
	User  *models.User
	Level int
}

// DownlineNode is one member of a downline subtree
type DownlineNode struct {
	User             *models.User
	Level            int
	OwnInvested      decimal.Decimal // sum of the member's ACTIVE investments
	NetworkInvested  decimal.Decimal // own plus every descendant within the walk depth
	DirectCount      int
	QualifiedDirects int
	Children         []*DownlineNode
}

// ReferralTree is an in-memory index over one bulk fetch of users and
// ACTIVE investments. Lookups never go back to the store.
type ReferralTree struct {
	users    map[uint64]*models.User
	children map[uint64][]uint64
	invested map[uint64]decimal.Decimal
}

// NewReferralTree indexes users by id and by upline. Only ACTIVE investments
// count towards invested totals and direct qualification.
func NewReferralTree(users []*models.User, investments []*models.Investment) *ReferralTree {
	t := &ReferralTree{
		users:    make(map[uint64]*models.User, len(users)),
		children: make(map[uint64][]uint64),
		invested: make(map[uint64]decimal.Decimal),
	}
	for _, u := range users {
		t.users[u.ID] = u
	}
	for _, u := range users {
		if u.UplineID == nil || *u.UplineID == u.ID {
			continue
		}
		t.children[*u.UplineID] = append(t.children[*u.UplineID], u.ID)
	}
	for _, inv := range investments {
		if inv.Status != models.InvestmentActive {
			continue
		}
		t.invested[inv.UserID] = t.invested[inv.UserID].Add(inv.Amount)
	}
	return t
}

func clampDepth(maxDepth int) int {
	if maxDepth <= 0 || maxDepth > MaxReferralDepth {
		return MaxReferralDepth
	}
	return maxDepth
}

// User returns the indexed user or nil
func (t *ReferralTree) User(id uint64) *models.User {
	return t.users[id]
}

// Size is the number of indexed users
func (t *ReferralTree) Size() int {
	return len(t.users)
}

// WalkUpline returns ancestors in ascending level order, stopping at maxDepth
// (capped at MaxReferralDepth) or at the first repeated user.
func (t *ReferralTree) WalkUpline(userID uint64, maxDepth int) []UplineNode {
	maxDepth = clampDepth(maxDepth)
	start := t.users[userID]
	if start == nil {
		return nil
	}

	var chain []UplineNode
	seen := map[uint64]bool{userID: true}
	current := start
	for level := 1; level <= maxDepth; level++ {
		if current.UplineID == nil {
			break
		}
		parent := t.users[*current.UplineID]
		if parent == nil || seen[parent.ID] {
			break
		}
		seen[parent.ID] = true
		chain = append(chain, UplineNode{User: parent, Level: level})
		current = parent
	}
	return chain
}

// WalkDownline builds the subtree below userID down to maxDepth levels.
// It returns nil when the user is unknown.
func (t *ReferralTree) WalkDownline(userID uint64, maxDepth int) *DownlineNode {
	maxDepth = clampDepth(maxDepth)
	if t.users[userID] == nil {
		return nil
	}
	return t.buildNode(userID, 0, maxDepth, map[uint64]bool{})
}

func (t *ReferralTree) buildNode(userID uint64, level, maxDepth int, seen map[uint64]bool) *DownlineNode {
	seen[userID] = true
	node := &DownlineNode{
		User:             t.users[userID],
		Level:            level,
		OwnInvested:      t.invested[userID],
		DirectCount:      len(t.children[userID]),
		QualifiedDirects: t.QualifiedDirects(userID),
	}
	node.NetworkInvested = node.OwnInvested

	if level >= maxDepth {
		return node
	}
	for _, childID := range t.children[userID] {
		if seen[childID] {
			continue
		}
		child := t.buildNode(childID, level+1, maxDepth, seen)
		node.NetworkInvested = node.NetworkInvested.Add(child.NetworkInvested)
		node.Children = append(node.Children, child)
	}
	return node
}

// Directs returns the ids of users whose upline is userID
func (t *ReferralTree) Directs(userID uint64) []uint64 {
	return t.children[userID]
}

// QualifiedDirects counts direct referrals holding at least one ACTIVE investment
func (t *ReferralTree) QualifiedDirects(userID uint64) int {
	count := 0
	for _, childID := range t.children[userID] {
		if t.invested[childID].IsPositive() {
			count++
		}
	}
	return count
}

// IsAncestor reports whether ancestorID appears anywhere above userID.
// Unlike WalkUpline it is not depth limited.
func (t *ReferralTree) IsAncestor(ancestorID, userID uint64) bool {
	seen := map[uint64]bool{}
	current := t.users[userID]
	for current != nil && current.UplineID != nil {
		parentID := *current.UplineID
		if parentID == ancestorID {
			return true
		}
		if seen[parentID] {
			return false
		}
		seen[parentID] = true
		current = t.users[parentID]
	}
	return false
}

// UnlockedLevel is the largest L such that qualifiedDirects meets every
// threshold from level 1 to L. A failed level stops the scan.
func UnlockedLevel(qualifiedDirects int, thresholds []int) int {
	unlocked := 0
	for i, threshold := range thresholds {
		if i >= MaxReferralDepth || qualifiedDirects < threshold {
			break
		}
		unlocked = i + 1
	}
	return unlocked
}
