package voting

import (
	"testing"

	"pgregory.net/rapid"

	"mossgov/internal/domain"
)

func genVotes(t *rapid.T) []domain.Vote {
	choices := []domain.VoteChoice{domain.ChoiceFor, domain.ChoiceAgainst, domain.ChoiceAbstain}
	n := rapid.IntRange(0, 40).Draw(t, "n")
	votes := make([]domain.Vote, n)
	for i := range votes {
		votes[i] = domain.Vote{
			House:       domain.HouseMossCoin,
			Choice:      rapid.SampledFrom(choices).Draw(t, "choice"),
			VotingPower: rapid.Int64Range(1, 10_000).Draw(t, "power"),
		}
	}
	return votes
}

func TestTallyIsOrderIndependent(t *testing.T) {
	env := newTestEnv(t)
	rapid.Check(t, func(t *rapid.T) {
		votes := genVotes(t)
		possible := rapid.Int64Range(1, 500_000).Draw(t, "possible")
		perm := rapid.Permutation(votes).Draw(t, "perm")

		a := env.eng.tally(domain.HouseMossCoin, votes, possible)
		b := env.eng.tally(domain.HouseMossCoin, perm, possible)
		if a != b {
			t.Fatalf("tally depends on order: %+v vs %+v", a, b)
		}
	})
}

func TestParticipationNeverDecreases(t *testing.T) {
	env := newTestEnv(t)
	rapid.Check(t, func(t *rapid.T) {
		votes := genVotes(t)
		possible := rapid.Int64Range(1, 500_000).Draw(t, "possible")
		prev := env.eng.tally(domain.HouseMossCoin, nil, possible)
		for i := range votes {
			cur := env.eng.tally(domain.HouseMossCoin, votes[:i+1], possible)
			if cur.ParticipationRate < prev.ParticipationRate {
				t.Fatalf("participation fell from %v to %v after vote %d", prev.ParticipationRate, cur.ParticipationRate, i)
			}
			if prev.QuorumReached && !cur.QuorumReached {
				t.Fatalf("quorum lost after vote %d", i)
			}
			prev = cur
		}
	})
}

func TestTallyIgnoresOtherHouse(t *testing.T) {
	env := newTestEnv(t)
	votes := []domain.Vote{
		{House: domain.HouseMossCoin, Choice: domain.ChoiceFor, VotingPower: 10},
		{House: domain.HouseOpenSource, Choice: domain.ChoiceAgainst, VotingPower: 99},
	}
	got := env.eng.tally(domain.HouseMossCoin, votes, 100)
	if got.VotesFor != 10 || got.VotesAgainst != 0 || got.VoterCount != 1 {
		t.Fatalf("unexpected tally %+v", got)
	}
}
