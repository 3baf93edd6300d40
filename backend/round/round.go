package round

import (
	"errors"
	"math/rand"
	"sync"

	"github.com/CamiloRodriguezColmeiro/impostor-lol/backend/model"
)

var (
	ErrEmptyCandidatePool = errors.New("empty candidate pool")
	ErrNoMembers          = errors.New("room has no members")
)

// Coordinator computes role assignments for a round. The random source
// is injected so shuffle and impostor selection are reproducible in
// tests.
type Coordinator struct {
	mx  sync.Mutex
	rnd *rand.Rand
}

func NewCoordinator(src rand.Source) *Coordinator {
	return &Coordinator{
		rnd: rand.New(src),
	}
}

// Assign produces one assignment per member: both the member snapshot
// and the candidate pool are independently shuffled, member i receives
// pool[i mod len(pool)], and one uniformly chosen member is marked
// impostor. Roles repeat when the pool is smaller than the membership.
func (c *Coordinator) Assign(members []model.Player, pool []string) ([]model.Assignment, error) {
	if len(pool) == 0 {
		return nil, ErrEmptyCandidatePool
	}
	if len(members) == 0 {
		return nil, ErrNoMembers
	}

	c.mx.Lock()
	defer c.mx.Unlock()

	players := make([]model.Player, len(members))
	copy(players, members)
	c.rnd.Shuffle(len(players), func(i, j int) {
		players[i], players[j] = players[j], players[i]
	})

	roles := make([]string, len(pool))
	copy(roles, pool)
	c.rnd.Shuffle(len(roles), func(i, j int) {
		roles[i], roles[j] = roles[j], roles[i]
	})

	assignments := make([]model.Assignment, len(players))
	for i, p := range players {
		assignments[i] = model.Assignment{
			ConnectionID: p.ConnectionID,
			DisplayName:  p.DisplayName,
			RoleValue:    roles[i%len(roles)],
		}
	}

	// Impostor draw is independent of the shuffle above.
	assignments[c.rnd.Intn(len(assignments))].IsImpostor = true

	return assignments, nil
}
