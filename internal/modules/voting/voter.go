// Package voting reduces the proposals of several independent advisory
// instances to one agreed order list via quorum voting.
package voting

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aristath/microcap/internal/domain"
)

// placeholderShares is the quantity carried by agreed intents. Vote
// aggregation carries no sizing signal; the allocator re-derives quantities
// from budget, so this value is a signal marker only.
const placeholderShares = 100

// maxReasonLen bounds the merged reason string for an agreed intent.
const maxReasonLen = 500

// voteKey identifies one (ticker, side) pair during the tally.
type voteKey struct {
	ticker string
	side   domain.Side
}

// Voter queries every configured advisor with the same context and tallies
// their proposals. An intent is agreed when at least minVotes advisors
// proposed the same (ticker, side) pair.
type Voter struct {
	advisors []domain.Advisor
	minVotes int
	log      zerolog.Logger
}

// NewVoter creates a consensus voter over an ordered advisor list.
func NewVoter(advisors []domain.Advisor, minVotes int, log zerolog.Logger) *Voter {
	if minVotes < 1 {
		minVotes = 1
	}
	return &Voter{
		advisors: advisors,
		minVotes: minVotes,
		log:      log.With().Str("service", "voter").Logger(),
	}
}

// Vote runs one voting round and returns the agreed intents, the consensus
// narrative (the longest individual thesis; ties break toward the earlier
// advisor) and the number of ballots actually received. A failed or
// malformed advisor response abstains rather than aborting the round; zero
// received ballots tells the caller that no advisory signal exists at all,
// which is distinct from advisors answering with no orders.
func (v *Voter) Vote(ctx context.Context, prompt string) ([]domain.Intent, string, int) {
	var ballots [][]domain.Intent
	var theses []string

	for _, advisor := range v.advisors {
		resp, err := advisor.Ask(ctx, prompt)
		if err != nil {
			v.log.Warn().
				Err(err).
				Str("advisor", advisor.Name()).
				Msg("Advisor failed, counting as abstention")
			continue
		}

		ballots = append(ballots, normalizeBallot(resp.Orders))
		theses = append(theses, resp.Thesis)

		v.log.Debug().
			Str("advisor", advisor.Name()).
			Int("intents", len(resp.Orders)).
			Msg("Ballot received")
	}

	agreed := Tally(ballots, v.minVotes)

	v.log.Info().
		Int("advisors", len(v.advisors)).
		Int("ballots", len(ballots)).
		Int("agreed", len(agreed)).
		Int("min_votes", v.minVotes).
		Msg("Voting round complete")

	return agreed, longestThesis(theses), len(ballots)
}

// Tally reduces a set of received ballots to the agreed intent list. It is
// deterministic and idempotent over the same ballots: re-running the tally
// yields an identical agreed set, and the operation is commutative over
// ballot content (only first-proposal order affects output ordering).
func Tally(ballots [][]domain.Intent, minVotes int) []domain.Intent {
	counts := make(map[voteKey]int)
	reasons := make(map[voteKey][]string)
	var order []voteKey // first-proposal order, for stable output

	for _, ballot := range ballots {
		// At most one vote per (ticker, side) per advisor - a repeated
		// proposal must not inflate its weight
		seen := make(map[voteKey]bool)

		for _, intent := range ballot {
			key := voteKey{ticker: intent.Ticker, side: intent.Side}
			if seen[key] {
				continue
			}
			seen[key] = true

			if counts[key] == 0 {
				order = append(order, key)
			}
			counts[key]++
			reasons[key] = append(reasons[key], intent.Reason)
		}
	}

	var agreed []domain.Intent
	for _, key := range order {
		if counts[key] < minVotes {
			continue
		}
		agreed = append(agreed, domain.Intent{
			Ticker: key.ticker,
			Side:   key.side,
			Shares: placeholderShares,
			Reason: mergeReasons(reasons[key]),
		})
	}

	return agreed
}

// normalizeBallot uppercases tickers and drops rows an advisor should not
// have produced (empty ticker, non-positive shares). Side validity is
// guaranteed by the advisor client's response parsing.
func normalizeBallot(orders []domain.Intent) []domain.Intent {
	out := make([]domain.Intent, 0, len(orders))
	for _, o := range orders {
		ticker := strings.ToUpper(strings.TrimSpace(o.Ticker))
		if ticker == "" || o.Shares <= 0 {
			continue
		}
		o.Ticker = ticker
		out = append(out, o)
	}
	return out
}

// mergeReasons pipe-joins every contributing advisor's reason, truncated to
// a bounded length.
func mergeReasons(rs []string) string {
	merged := strings.Join(rs, " | ")
	if len(merged) > maxReasonLen {
		merged = merged[:maxReasonLen]
	}
	return merged
}

// longestThesis picks the longest narrative; on equal length the earlier
// advisor wins, making the choice deterministic for a given advisor order.
func longestThesis(theses []string) string {
	best := ""
	for _, t := range theses {
		if len(t) > len(best) {
			best = t
		}
	}
	return best
}
